package service

import (
	"errors"

	"github.com/stemsi/exstem-quiz/internal/repository"
)

// Exam session errors. Callers match them with errors.Is; most are returned
// wrapped with extra context.
var (
	// ErrIdentityUnavailable means no anonymous identity could be resolved.
	// Initialization aborts and nothing is created; the user may retry.
	ErrIdentityUnavailable = errors.New("anonymous identity unavailable")

	// ErrSessionNotFound is returned by stores for an unknown session id.
	ErrSessionNotFound = repository.ErrNotFound

	// ErrSessionLoad marks a failed or malformed restoration read. It is
	// recovered locally by creating a fresh session.
	ErrSessionLoad = errors.New("exam session load failed")

	// ErrSessionWrite marks a failed persistence write. It never blocks the
	// student; the in-memory session stays authoritative.
	ErrSessionWrite = errors.New("exam session write failed")

	// ErrUnknownQuestion is a caller precondition violation: the answer
	// references a question outside the session's paper.
	ErrUnknownQuestion = errors.New("answer references unknown question")

	// ErrDegenerateScoring is returned when scoring is asked to divide by zero questions.
	ErrDegenerateScoring = errors.New("cannot score a session with zero questions")

	// ErrInvalidRequest rejects a malformed request, for example an
	// initialization without a subject or a result asked for no session.
	ErrInvalidRequest = errors.New("invalid exam session request")

	// ErrSessionActive is returned when a result is requested before the
	// session reached a terminal status.
	ErrSessionActive = errors.New("exam session is still in progress")

	// ErrNoQuestions means the question bank has nothing for the chosen
	// subject and chapter, so no paper can be drawn.
	ErrNoQuestions = errors.New("no questions available for this selection")
)
