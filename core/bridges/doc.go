// Package bridges routes events to node behavior.
//
// A bridge holds one or more routes, each declared with a fluent chain:
//
//	bridge := bridges.New(node)
//	bridge.On(events.KindUserTranscriptionReceived).Map(node.AddEvent)
//	bridge.On(events.KindUserStoppedSpeaking).
//		InterruptOn(events.KindUserStartedSpeaking, node.OnInterrupt).
//		Stream(node.Generate).
//		Broadcast()
//
// Every route with a Stream stage runs the state machine
// Idle -> Generating -> {Completed | Cancelled | Failed} -> Idle and never has
// more than one generation in Generating at a time.
package bridges
