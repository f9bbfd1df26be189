package domain

import "context"

// Track is a local camera or microphone track.
type Track interface {
	ID() string
	Kind() TrackKind
	Enabled() bool
	SetEnabled(enabled bool)
	Stop()
}

// AudioTrack additionally delivers captured PCM samples to subscribers.
type AudioTrack interface {
	Track
	OnSamples(fn func(samples []byte)) (cancel func())
}

// MediaConstraints selects which devices to open.
type MediaConstraints struct {
	Video bool
	Audio bool
}

// MediaDevices opens platform capture devices.
type MediaDevices interface {
	Open(ctx context.Context, constraints MediaConstraints) (Track, AudioTrack, error)
}

// ConversationAPI is the remote AI conversation service.
type ConversationAPI interface {
	CreateConversation(ctx context.Context, req CreateConversationRequest) (*Conversation, error)
	EndConversation(ctx context.Context, conversationID string) error
	DeletePersona(ctx context.Context, personaID string) error
}

// Room is a video room provider.
type Room interface {
	Join(ctx context.Context, url, participantName string) error
	Leave(ctx context.Context) error
	MeetingState() MeetingState
	SetLocalAudio(enabled bool) error
	SetLocalVideo(enabled bool) error
	RemoteParticipantIDs() []string
	OnEvent(handler func(RoomEvent))
}

// FeedbackPipeline receives completed calls for feedback generation.
type FeedbackPipeline interface {
	RequestFeedback(ctx context.Context, req FeedbackRequest) error
}

// InterviewStore persists the interview row fields touched by a call.
type InterviewStore interface {
	GetInterview(ctx context.Context, id string) (*InterviewRecord, error)
	SaveConversation(ctx context.Context, id, personaID, conversationURL string) error
	MarkCompleted(ctx context.Context, id string, elapsedSeconds int) error
	MarkTooShort(ctx context.Context, id string, elapsedSeconds int, reason string) error
}
