package domain

// RoomPhase is the adapter-level connection phase.
type RoomPhase string

const (
	RoomIdle       RoomPhase = "idle"
	RoomConnecting RoomPhase = "connecting"
	RoomJoined     RoomPhase = "joined"
	RoomLeaving    RoomPhase = "leaving"
	RoomLeft       RoomPhase = "left"
)

// MeetingState is the provider's own view of the meeting.
type MeetingState string

const (
	MeetingNew     MeetingState = "new"
	MeetingJoining MeetingState = "joining-meeting"
	MeetingJoined  MeetingState = "joined-meeting"
	MeetingLeft    MeetingState = "left-meeting"
	MeetingError   MeetingState = "error"
)

// LocalMedia tracks whether local tracks are sent into the room.
type LocalMedia struct {
	Video bool
	Audio bool
}

// RoomConnectionState is owned by the call room adapter.
type RoomConnectionState struct {
	Phase                    RoomPhase
	LocalMedia               LocalMedia
	RemoteParticipantPresent bool
}

// RoomEventType names provider events.
type RoomEventType string

const (
	EventJoinedMeeting      RoomEventType = "joined-meeting"
	EventParticipantJoined  RoomEventType = "participant-joined"
	EventParticipantUpdated RoomEventType = "participant-updated"
	EventParticipantLeft    RoomEventType = "participant-left"
	EventLeftMeeting        RoomEventType = "left-meeting"
	EventError              RoomEventType = "error"
)

// EventConnected is emitted by the adapter once local media settled after a join.
const EventConnected RoomEventType = "connected"

// RoomEvent is delivered by the provider and re-published by the adapter.
type RoomEvent struct {
	Type          RoomEventType
	ParticipantID string
	Err           error
}
