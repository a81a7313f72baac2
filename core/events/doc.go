// Package events defines the typed events emitted by the conversation
// orchestrator.
//
// Event kinds are grouped by receiver-facing namespaces:
//
//   - conversation.*
//   - assistant_response.*
//   - assistant_speech.*
//   - turn_state.*
//
// conversation events
//
//   - StateChanged (conversation.state_changed): the visible conversation
//     state changed, including the listening projection of voice input.
//
// assistant_response events
//
//   - AssistantResponseSegment (assistant_response.segment): streamed reply
//     token, append-only and in arrival order.
//
// assistant_speech events
//
//   - AssistantSpeechRequested (assistant_speech.requested): the completed
//     reply was handed to voice output in the classified language.
//
// turn_state events
//
//   - TurnStarted (turn_state.started): a submitted message opened a turn.
//   - TurnCompleted (turn_state.completed): the backend completed the reply.
//   - TurnFailed (turn_state.failed): the turn ended with an error, the reply
//     holds whatever was streamed before the failure.
package events
