package domain

import "time"

// ConversationStatus is the lifecycle of a remote AI conversation.
type ConversationStatus string

const (
	ConversationPending ConversationStatus = "pending"
	ConversationActive  ConversationStatus = "active"
	ConversationEnded   ConversationStatus = "ended"
	ConversationFailed  ConversationStatus = "failed"
)

// ConversationSession is the locally tracked handle of a remote conversation.
type ConversationSession struct {
	ID        string
	URL       string
	PersonaID string
	Status    ConversationStatus
	CreatedAt time.Time
	// Synthetic is set when the session was built from a pre-supplied URL
	// instead of a remote create call.
	Synthetic bool
}

// Active reports whether the session can back a room join.
func (s *ConversationSession) Active() bool {
	return s != nil && s.Status == ConversationActive
}

// InterviewType selects the replica/persona pair used for a conversation.
type InterviewType string

// StartOptions describes the conversation to resolve or create.
type StartOptions struct {
	InterviewType         InterviewType
	Role                  string
	Company               string
	PersonaID             string
	ConversationURL       string
	CustomGreeting        string
	ConversationalContext string
	Language              string
	MaxCallDuration       time.Duration
}

// ConversationProperties is the properties block of a create request.
type ConversationProperties struct {
	MaxCallDuration       int    `json:"max_call_duration"`
	EnableRecording       bool   `json:"enable_recording"`
	EnableTranscription   bool   `json:"enable_transcription"`
	ApplyGreenscreen      bool   `json:"apply_greenscreen"`
	ConversationalContext string `json:"conversational_context,omitempty"`
	CustomGreeting        string `json:"custom_greeting,omitempty"`
	Language              string `json:"language,omitempty"`
}

// CreateConversationRequest is the body sent to the conversation API.
type CreateConversationRequest struct {
	ReplicaID        string                 `json:"replica_id"`
	PersonaID        string                 `json:"persona_id,omitempty"`
	ConversationName string                 `json:"conversation_name"`
	Properties       ConversationProperties `json:"properties"`
}

// Conversation is the conversation API's view of a created conversation.
type Conversation struct {
	ConversationID  string `json:"conversation_id"`
	ConversationURL string `json:"conversation_url"`
	Status          string `json:"status"`
	CreatedAt       string `json:"created_at"`
}
