// Package store persists interview records in a local sqlite database.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/bbielsa/interviewcall/internal/domain"

	"github.com/google/uuid"
	"go.opentelemetry.io/contrib/bridges/otelslog"
	_ "modernc.org/sqlite"
)

var logger = otelslog.NewLogger("github.com/bbielsa/interviewcall/internal/store")

const schema = `
CREATE TABLE IF NOT EXISTS interviews (
	id                         TEXT PRIMARY KEY,
	type                       TEXT NOT NULL,
	role                       TEXT NOT NULL DEFAULT '',
	company                    TEXT NOT NULL DEFAULT '',
	duration_minutes           INTEGER NOT NULL DEFAULT 0,
	tavus_persona_id           TEXT NOT NULL DEFAULT '',
	tavus_conversation_url     TEXT NOT NULL DEFAULT '',
	llm_generated_context      TEXT NOT NULL DEFAULT '',
	llm_generated_greeting     TEXT NOT NULL DEFAULT '',
	status                     TEXT NOT NULL,
	completed_at               INTEGER,
	elapsed_seconds            INTEGER NOT NULL DEFAULT 0,
	feedback_processing_status TEXT NOT NULL DEFAULT '',
	prompt_error               TEXT NOT NULL DEFAULT ''
);
`

// Store implements domain.InterviewStore on sqlite.
type Store struct {
	mu  sync.Mutex
	db  *sql.DB
	now func() time.Time
}

// Open opens (creating if needed) the database at path.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create data directory %s: %w", dir, err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}

	return &Store{db: db, now: time.Now}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// CreateInterview inserts a scheduled interview. An empty ID is generated.
func (s *Store) CreateInterview(ctx context.Context, rec domain.InterviewRecord) (*domain.InterviewRecord, error) {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.Status == "" {
		rec.Status = domain.InterviewStatusScheduled
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO interviews (id, type, role, company, duration_minutes, tavus_persona_id,
			tavus_conversation_url, llm_generated_context, llm_generated_greeting, status)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, string(rec.Type), rec.Role, rec.Company, rec.DurationMinutes, rec.TavusPersonaID,
		rec.TavusConversationURL, rec.LLMGeneratedContext, rec.LLMGeneratedGreeting, rec.Status,
	)
	if err != nil {
		return nil, fmt.Errorf("insert interview: %w", err)
	}

	logger.InfoContext(ctx, "interview created", "interview_id", rec.ID, "type", string(rec.Type))
	return &rec, nil
}

// GetInterview loads one interview.
func (s *Store) GetInterview(ctx context.Context, id string) (*domain.InterviewRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var (
		rec         domain.InterviewRecord
		typ         string
		completedAt sql.NullInt64
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT id, type, role, company, duration_minutes, tavus_persona_id, tavus_conversation_url,
			llm_generated_context, llm_generated_greeting, status, completed_at,
			feedback_processing_status, prompt_error
		FROM interviews WHERE id = ?`, id,
	).Scan(
		&rec.ID, &typ, &rec.Role, &rec.Company, &rec.DurationMinutes, &rec.TavusPersonaID,
		&rec.TavusConversationURL, &rec.LLMGeneratedContext, &rec.LLMGeneratedGreeting, &rec.Status,
		&completedAt, &rec.FeedbackProcessingStatus, &rec.PromptError,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", domain.ErrInterviewNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("query interview %s: %w", id, err)
	}

	rec.Type = domain.InterviewType(typ)
	if completedAt.Valid {
		t := time.Unix(completedAt.Int64, 0).UTC()
		rec.CompletedAt = &t
	}
	return &rec, nil
}

// SaveConversation records the conversation the interview ran in.
func (s *Store) SaveConversation(ctx context.Context, id, personaID, conversationURL string) error {
	return s.update(ctx, id, `
		UPDATE interviews SET tavus_persona_id = ?, tavus_conversation_url = ? WHERE id = ?`,
		personaID, conversationURL, id,
	)
}

// MarkCompleted records a call long enough to be evaluated.
func (s *Store) MarkCompleted(ctx context.Context, id string, elapsedSeconds int) error {
	return s.update(ctx, id, `
		UPDATE interviews SET status = ?, completed_at = ?, elapsed_seconds = ?,
			feedback_processing_status = ?, prompt_error = ''
		WHERE id = ?`,
		domain.InterviewStatusCompleted, s.now().Unix(), elapsedSeconds, domain.FeedbackStatusPending, id,
	)
}

// MarkTooShort records a call that ended before the minimum duration.
func (s *Store) MarkTooShort(ctx context.Context, id string, elapsedSeconds int, reason string) error {
	return s.update(ctx, id, `
		UPDATE interviews SET status = ?, completed_at = ?, elapsed_seconds = ?,
			feedback_processing_status = ?, prompt_error = ?
		WHERE id = ?`,
		domain.InterviewStatusFailed, s.now().Unix(), elapsedSeconds, domain.FeedbackStatusFailed, reason, id,
	)
}

func (s *Store) update(ctx context.Context, id, query string, args ...any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update interview %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update interview %s: %w", id, err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", domain.ErrInterviewNotFound, id)
	}
	return nil
}
