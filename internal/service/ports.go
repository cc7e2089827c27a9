package service

import (
	"context"
	"time"

	"github.com/stemsi/exstem-quiz/internal/model"
)

// IdentityResolver yields the anonymous actor owning new sessions.
type IdentityResolver interface {
	ResolveAnonymousIdentity(ctx context.Context) (string, error)
}

// SessionStore is the durable, per-document session persistence.
// Get returns ErrSessionNotFound for unknown ids.
type SessionStore interface {
	Get(ctx context.Context, sessionID string) (*model.ExamSession, error)
	Put(ctx context.Context, session *model.ExamSession) error
	AnswerWriter
	MarkCompleted(ctx context.Context, sessionID string, at time.Time) error
}

// AnswerWriter applies a single-answer patch. Implementations must ignore a
// patch whose Seq is not newer than the stored answer for the same question.
type AnswerWriter interface {
	PatchAnswer(ctx context.Context, sessionID string, answer model.UserAnswer, lastActiveAt time.Time) error
}

// PointerStore maps (identity, subject) to the active session id.
// Get returns an empty id and nil error when no pointer exists.
type PointerStore interface {
	Get(ctx context.Context, userID, subjectID string) (string, error)
	Set(ctx context.Context, userID, subjectID, sessionID string, ttl time.Duration) error
	// Remove deletes the pointer only while it still references sessionID.
	Remove(ctx context.Context, userID, subjectID, sessionID string) error
}

// QuestionSource supplies questions read-only.
type QuestionSource interface {
	ListBySubject(ctx context.Context, subjectID, chapterID string) ([]model.Question, error)
	ListByIDs(ctx context.Context, ids []string) ([]model.Question, error)
}

// AnswerQueue is the durable outbound queue for answer writes that exhausted
// their in-process retries.
type AnswerQueue interface {
	EnqueueAnswer(ctx context.Context, sessionID string, answer model.UserAnswer, lastActiveAt time.Time) error
}

// ScoreQueue hands computed scores to background persistence.
type ScoreQueue interface {
	EnqueueScore(ctx context.Context, sessionID string, score int) error
}
