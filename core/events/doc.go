// Package events defines the typed event contract shared by the conversation
// log, bridges and nodes.
//
// Event kinds are grouped by namespaces:
//
//   - user_input.*
//   - agent.*
//   - tool.*
//   - call.*
//   - log.*
//
// user_input events
//
//   - UserStartedSpeaking (user_input.started_speaking): speech activity began.
//     This is the usual barge-in trigger.
//   - UserStoppedSpeaking (user_input.stopped_speaking): speech activity ended,
//     the usual trigger for a new generation.
//   - UserTranscriptionReceived (user_input.transcription_received): finalized
//     transcript of what the user said.
//
// agent events
//
//   - AgentResponse (agent.response): a streamed response text chunk produced
//     by a node.
//   - AgentSpeechSent (agent.speech_sent): text the transport confirmed as
//     spoken to the user.
//
// tool events
//
//   - ToolCall (tool.call): a node requested a tool invocation.
//   - ToolResult (tool.result): outcome of a tool invocation.
//
// call events
//
//   - EndCall (call.end): the call should end. Published or broadcast EndCall
//     events shut the system down.
//   - TransferCall (call.transfer): the call should be transferred.
//
// log events
//
//   - LogMetric (log.metric): named metric value for observability.
//   - LogMessage (log.message): structured log line emitted by a node.
//
// Applications add their own variants either by embedding Base in a struct
// or with Custom, which carries an arbitrary payload under a caller-chosen
// kind (e.g. analysis.leads).
package events
