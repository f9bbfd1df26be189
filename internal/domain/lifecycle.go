package domain

import "time"

// LifecycleState is the orchestrator's tagged call state.
type LifecycleState string

const (
	StateInitializing LifecycleState = "initializing"
	StateReady        LifecycleState = "ready"
	StateConnecting   LifecycleState = "connecting"
	StateConnected    LifecycleState = "connected"
	StateEnded        LifecycleState = "ended"
)

// FailureKind selects how a displayed failure is presented.
type FailureKind string

const (
	FailurePermission FailureKind = "permission"
	FailureConnection FailureKind = "connection"
)

// Failure is displayed next to the lifecycle state and cleared by a retry.
type Failure struct {
	Kind FailureKind
	Err  error
}

// SessionTimer is the countdown shown during a connected call.
type SessionTimer struct {
	RemainingSeconds int
	TotalSeconds     int
	Running          bool
}

// TerminationReason is audit metadata attached to a finished call.
type TerminationReason string

const (
	ReasonUser     TerminationReason = "user"
	ReasonTimer    TerminationReason = "timer"
	ReasonRoomLeft TerminationReason = "room_left"
	ReasonUnmount  TerminationReason = "unmount"
)

// Outcome summarizes how a call finished.
type Outcome string

const (
	OutcomeNone      Outcome = ""
	OutcomeCompleted Outcome = "completed"
	OutcomeTooShort  Outcome = "too_short"
)

// Completion is emitted once per call that met the minimum duration.
type Completion struct {
	InterviewID    string
	ConversationID string
	ElapsedSeconds int
	Reason         TerminationReason
	EndedAt        time.Time
}

// FeedbackRequest is handed to the feedback pipeline.
type FeedbackRequest struct {
	InterviewID       string         `json:"interviewId"`
	ConversationID    string         `json:"conversationId"`
	InterviewMetadata map[string]any `json:"interviewMetadata"`
}
