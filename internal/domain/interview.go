package domain

import "time"

// Interview row statuses written by the call client.
const (
	InterviewStatusScheduled = "scheduled"
	InterviewStatusCompleted = "completed"
	InterviewStatusFailed    = "failed"

	FeedbackStatusPending = "pending"
	FeedbackStatusFailed  = "failed"
)

// InterviewRecord holds the persisted interview fields the call lifecycle reads and writes.
type InterviewRecord struct {
	ID                       string
	Type                     InterviewType
	Role                     string
	Company                  string
	DurationMinutes          int
	TavusPersonaID           string
	TavusConversationURL     string
	LLMGeneratedContext      string
	LLMGeneratedGreeting     string
	Status                   string
	CompletedAt              *time.Time
	FeedbackProcessingStatus string
	PromptError              string
}
