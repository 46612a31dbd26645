// Package orchestration wires nodes into a running voice agent. A System owns
// the shared conversation context and routes every event to the bridges of
// all registered nodes; only the speaking node is heard by the caller.
package orchestration
