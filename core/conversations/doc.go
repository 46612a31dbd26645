// Package conversations holds the conversation log shared by the system and
// the private, narrowed copies kept by individual nodes.
package conversations
