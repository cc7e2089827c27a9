package service

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/stemsi/exstem-quiz/internal/model"
)

// SessionHandle is the in-memory owner of one exam session. The UI layer keeps
// the handle and receives value snapshots after every transition; the handle's
// copy is authoritative for the lifetime of the connection.
type SessionHandle struct {
	mu       sync.Mutex
	session  model.ExamSession
	allowed  map[string]struct{}
	seq      uint64
	restored bool
}

// lastSeq is the most recent answer seq issued by any handle in this process.
var lastSeq atomic.Uint64

// nextSeq returns a seq above floor and above every seq issued before it.
// Seqs follow the wall clock in nanoseconds so a handle that resumes a
// session never reuses a seq still queued by an earlier handle, in this
// process or a previous one.
func nextSeq(floor uint64) uint64 {
	for {
		prev := lastSeq.Load()
		n := uint64(time.Now().UnixNano())
		if n <= prev {
			n = prev + 1
		}
		if n <= floor {
			n = floor + 1
		}
		if lastSeq.CompareAndSwap(prev, n) {
			return n
		}
	}
}

func newSessionHandle(s model.ExamSession, restored bool) *SessionHandle {
	if s.Answers == nil {
		s.Answers = make(map[string]model.UserAnswer)
	}

	h := &SessionHandle{session: s, restored: restored}

	if len(s.QuestionIDs) > 0 {
		h.allowed = make(map[string]struct{}, len(s.QuestionIDs))
		for _, id := range s.QuestionIDs {
			h.allowed[id] = struct{}{}
		}
	}

	// Every later seq is issued above anything already recorded.
	for _, a := range s.Answers {
		if a.Seq > h.seq {
			h.seq = a.Seq
		}
	}
	return h
}

// Snapshot returns a copy of the current session state.
func (h *SessionHandle) Snapshot() model.ExamSession {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.session.Clone()
}

func (h *SessionHandle) ID() string {
	return h.session.ID
}

// EndTime is fixed at creation, so it is read without locking.
func (h *SessionHandle) EndTime() time.Time {
	return h.session.EndTime
}

// Restored reports whether the handle resumed a persisted session.
func (h *SessionHandle) Restored() bool {
	return h.restored
}

// State packages the snapshot for the client.
func (h *SessionHandle) State(now time.Time) model.ExamSessionState {
	snap := h.Snapshot()
	remaining := snap.EndTime.Sub(now)
	if remaining < 0 || snap.Status.Terminal() {
		remaining = 0
	}
	return model.ExamSessionState{
		Session:       snap,
		Restored:      h.restored,
		RemainingTime: remaining.Seconds(),
	}
}

// admitLocked checks that questionID may be written. Caller holds h.mu.
func (h *SessionHandle) admitLocked(questionID string) error {
	if questionID == "" {
		return fmt.Errorf("%w: empty question id", ErrUnknownQuestion)
	}
	if h.allowed != nil {
		if _, ok := h.allowed[questionID]; !ok {
			return fmt.Errorf("%w: %s", ErrUnknownQuestion, questionID)
		}
		return nil
	}
	// Without a known paper only the size bound can be enforced.
	if _, exists := h.session.Answers[questionID]; !exists && len(h.session.Answers) >= h.session.TotalQuestions {
		return fmt.Errorf("%w: %s exceeds %d questions", ErrUnknownQuestion, questionID, h.session.TotalQuestions)
	}
	return nil
}
