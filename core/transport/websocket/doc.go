// Package websocket exposes a System to callers over websocket connections.
//
// A client opens the socket and sends a call.request frame. The server runs
// the pre-call handler, answers with call.accepted or call.rejected and then
// exchanges events as JSON frames of the form
//
//	{"type": "<event kind>", "data": {...}, "timestamp": "..."}
//
// Inbound frames are published to the call's System; the speaking node's
// output is written back. The socket is closed once the System shuts down,
// and a disconnecting client shuts the System down.
package websocket
