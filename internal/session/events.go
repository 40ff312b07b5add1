package session

// EventType classifies controller events.
type EventType string

const (
	EventStateChanged   EventType = "state_changed"
	EventUserTranscript EventType = "user_transcript"
	EventAgentSpeech    EventType = "agent_speech"
	EventTransfer       EventType = "transfer"
	EventCallEnded      EventType = "call_ended"
	EventCallError      EventType = "call_error"
)

// Event is one entry of a session's ordered event stream. Consumers read the
// per-call channel from Controller.Events; there are no callbacks.
type Event struct {
	Type   EventType
	CallID string
	State  State
	Text   string
	Err    error
}
