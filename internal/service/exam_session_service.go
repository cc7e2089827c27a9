package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-quiz/internal/metrics"
	"github.com/stemsi/exstem-quiz/internal/model"
)

// PaperFunc draws the question ids for a new session. It is only called when
// a fresh session is created, never on restoration.
type PaperFunc func(ctx context.Context) ([]string, error)

// InitializeRequest describes the exam a student wants to start or resume.
type InitializeRequest struct {
	SubjectID       string
	ChapterID       *string
	TotalQuestions  int
	DurationMinutes int
	QuestionIDs     []string
	Paper           PaperFunc
	DeviceInfo      model.DeviceInfo
}

// ExamSessionService owns the exam session state machine: initialization or
// restoration, answer recording, and the finish transition.
type ExamSessionService struct {
	identity     IdentityResolver
	sessions     SessionStore
	pointers     PointerStore
	syncer       *AnswerSyncer
	scores       ScoreQueue
	pointerSlack time.Duration
	log          zerolog.Logger

	now   func() time.Time
	newID func() string
}

// NewExamSessionService creates a new ExamSessionService. scores may be nil.
func NewExamSessionService(
	identity IdentityResolver,
	sessions SessionStore,
	pointers PointerStore,
	syncer *AnswerSyncer,
	scores ScoreQueue,
	pointerSlack time.Duration,
	log zerolog.Logger,
) *ExamSessionService {
	return &ExamSessionService{
		identity:     identity,
		sessions:     sessions,
		pointers:     pointers,
		syncer:       syncer,
		scores:       scores,
		pointerSlack: pointerSlack,
		log:          log.With().Str("component", "exam_session_service").Logger(),
		now:          time.Now,
		newID:        func() string { return uuid.New().String() },
	}
}

// Initialize resumes the identity's live session for the subject or creates a
// new one. A restored session is returned exactly as stored.
//
// If persisting a new session fails, the handle is still returned together
// with an error wrapping ErrSessionWrite: the exam can go on for this
// connection but a reload will not find it.
func (s *ExamSessionService) Initialize(ctx context.Context, req InitializeRequest) (*SessionHandle, error) {
	if strings.TrimSpace(req.SubjectID) == "" {
		return nil, fmt.Errorf("%w: subject is required", ErrInvalidRequest)
	}
	if req.DurationMinutes <= 0 {
		return nil, fmt.Errorf("%w: duration must be positive", ErrInvalidRequest)
	}

	userID, err := s.identity.ResolveAnonymousIdentity(ctx)
	if err != nil {
		if !errors.Is(err, ErrIdentityUnavailable) {
			err = fmt.Errorf("%w: %v", ErrIdentityUnavailable, err)
		}
		return nil, err
	}

	log := s.log.With().Str("user_id", userID).Str("subject_id", req.SubjectID).Logger()

	if h := s.restore(ctx, log, userID, req.SubjectID); h != nil {
		metrics.SessionsTotal.WithLabelValues("restored").Inc()
		log.Info().Str("session_id", h.ID()).Msg("Restoring existing session")
		return h, nil
	}

	questionIDs := req.QuestionIDs
	if req.Paper != nil {
		if questionIDs, err = req.Paper(ctx); err != nil {
			return nil, fmt.Errorf("draw question paper: %w", err)
		}
	}

	total := req.TotalQuestions
	if total == 0 {
		total = len(questionIDs)
	}
	if total <= 0 {
		return nil, fmt.Errorf("%w: session needs at least one question", ErrInvalidRequest)
	}
	if len(questionIDs) > 0 && len(questionIDs) != total {
		return nil, fmt.Errorf("%w: %d question ids for %d questions", ErrInvalidRequest, len(questionIDs), total)
	}

	now := s.now()
	sess := model.ExamSession{
		ID:             s.newID(),
		UserID:         userID,
		SubjectID:      req.SubjectID,
		ChapterID:      req.ChapterID,
		DeviceInfo:     req.DeviceInfo,
		CreatedAt:      now,
		LastActiveAt:   now,
		Status:         model.SessionStatusInProgress,
		StartTime:      now,
		EndTime:        now.Add(time.Duration(req.DurationMinutes) * time.Minute),
		Answers:        make(map[string]model.UserAnswer),
		QuestionIDs:    append([]string(nil), questionIDs...),
		TotalQuestions: total,
	}
	h := newSessionHandle(sess, false)
	metrics.SessionsTotal.WithLabelValues("created").Inc()

	snap := h.Snapshot()
	if err := s.sessions.Put(ctx, &snap); err != nil {
		metrics.StoreWriteFailures.WithLabelValues("create").Inc()
		log.Error().Err(err).Str("session_id", sess.ID).Msg("Failed to persist new session")
		return h, fmt.Errorf("%w: create session: %v", ErrSessionWrite, err)
	}

	ttl := sess.EndTime.Sub(now) + s.pointerSlack
	if err := s.pointers.Set(ctx, userID, req.SubjectID, sess.ID, ttl); err != nil {
		metrics.StoreWriteFailures.WithLabelValues("pointer").Inc()
		log.Error().Err(err).Str("session_id", sess.ID).Msg("Failed to record session pointer")
		return h, fmt.Errorf("%w: record pointer: %v", ErrSessionWrite, err)
	}

	log.Info().
		Str("session_id", sess.ID).
		Int("total_questions", total).
		Time("end_time", sess.EndTime).
		Msg("Exam session created")

	return h, nil
}

// restore returns a handle for the live session behind the pointer, or nil.
// Read failures are logged as ErrSessionLoad and treated as "no session".
func (s *ExamSessionService) restore(ctx context.Context, log zerolog.Logger, userID, subjectID string) *SessionHandle {
	sess, err := s.loadActive(ctx, userID, subjectID)
	if err != nil {
		if !errors.Is(err, ErrSessionNotFound) {
			log.Warn().Err(err).Msg("Session restoration failed, starting fresh")
		}
		return nil
	}
	return newSessionHandle(*sess, true)
}

// loadActive follows the pointer and returns the session only while it is live.
// A pointer to a finished, expired or missing session is cleared.
func (s *ExamSessionService) loadActive(ctx context.Context, userID, subjectID string) (*model.ExamSession, error) {
	sessionID, err := s.pointers.Get(ctx, userID, subjectID)
	if err != nil {
		return nil, fmt.Errorf("%w: read pointer: %v", ErrSessionLoad, err)
	}
	if sessionID == "" {
		return nil, ErrSessionNotFound
	}

	sess, err := s.sessions.Get(ctx, sessionID)
	if err != nil {
		if errors.Is(err, ErrSessionNotFound) {
			s.clearPointer(ctx, userID, subjectID, sessionID)
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", ErrSessionLoad, err)
	}

	if err := checkLoaded(sess, sessionID, userID); err != nil {
		return nil, err
	}

	if !sess.Live(s.now()) {
		s.clearPointer(ctx, userID, subjectID, sessionID)
		return nil, fmt.Errorf("%w: session %s is %s", ErrSessionNotFound, sessionID, sess.Status)
	}
	return sess, nil
}

func checkLoaded(sess *model.ExamSession, sessionID, userID string) error {
	switch {
	case sess == nil:
		return fmt.Errorf("%w: empty document", ErrSessionLoad)
	case sess.ID != sessionID:
		return fmt.Errorf("%w: id mismatch", ErrSessionLoad)
	case sess.UserID != userID:
		return fmt.Errorf("%w: session belongs to another identity", ErrSessionLoad)
	case sess.EndTime.IsZero() || sess.TotalQuestions <= 0:
		return fmt.Errorf("%w: missing end time or question count", ErrSessionLoad)
	}
	switch sess.Status {
	case model.SessionStatusInProgress, model.SessionStatusCompleted, model.SessionStatusAbandoned:
	default:
		return fmt.Errorf("%w: unknown status %q", ErrSessionLoad, sess.Status)
	}
	return nil
}

func (s *ExamSessionService) clearPointer(ctx context.Context, userID, subjectID, sessionID string) {
	if err := s.pointers.Remove(ctx, userID, subjectID, sessionID); err != nil {
		s.log.Warn().Err(err).
			Str("user_id", userID).
			Str("session_id", sessionID).
			Msg("Failed to clear session pointer")
	}
}

// ActiveSession returns the identity's live session for a subject without
// creating one. It returns ErrSessionNotFound when there is nothing to resume.
func (s *ExamSessionService) ActiveSession(ctx context.Context, subjectID string) (*model.ExamSession, error) {
	userID, err := s.identity.ResolveAnonymousIdentity(ctx)
	if err != nil {
		if !errors.Is(err, ErrIdentityUnavailable) {
			err = fmt.Errorf("%w: %v", ErrIdentityUnavailable, err)
		}
		return nil, err
	}
	return s.loadActive(ctx, userID, subjectID)
}

// SaveAnswer records an answer locally and schedules its persistence without
// waiting for it. A nil handle or a terminal session is left untouched.
// Later answers for the same question replace earlier ones.
func (s *ExamSessionService) SaveAnswer(ctx context.Context, h *SessionHandle, questionID, selectedOption string) (model.ExamSession, error) {
	if h == nil {
		return model.ExamSession{}, nil
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if h.session.Status.Terminal() {
		return h.session.Clone(), nil
	}

	if err := h.admitLocked(questionID); err != nil {
		s.log.Warn().Err(err).
			Str("session_id", h.session.ID).
			Msg("Rejected answer for question outside the paper")
		return h.session.Clone(), err
	}

	now := s.now()
	h.seq = nextSeq(h.seq)
	answer := model.UserAnswer{
		QuestionID:     questionID,
		SelectedOption: selectedOption,
		Timestamp:      now,
		Seq:            h.seq,
	}
	h.session.Answers[questionID] = answer
	h.session.LastActiveAt = now

	// Enqueued under the handle lock so lane order equals call order.
	s.syncer.Enqueue(h.session.ID, answer, now)

	return h.session.Clone(), nil
}

// Finish moves the session to COMPLETED, persists the transition and clears
// the pointer. Calling it on a terminal session does nothing.
func (s *ExamSessionService) Finish(ctx context.Context, h *SessionHandle) model.ExamSession {
	if h == nil {
		return model.ExamSession{}
	}

	h.mu.Lock()
	if h.session.Status.Terminal() {
		snap := h.session.Clone()
		h.mu.Unlock()
		return snap
	}
	now := s.now()
	h.session.Status = model.SessionStatusCompleted
	h.session.LastActiveAt = now
	snap := h.session.Clone()
	h.mu.Unlock()

	metrics.SessionsTotal.WithLabelValues("completed").Inc()

	if err := s.sessions.MarkCompleted(ctx, snap.ID, now); err != nil {
		metrics.StoreWriteFailures.WithLabelValues("finish").Inc()
		s.log.Error().Err(fmt.Errorf("%w: %v", ErrSessionWrite, err)).
			Str("session_id", snap.ID).
			Msg("Failed to persist session completion")
	}

	s.clearPointer(ctx, snap.UserID, snap.SubjectID, snap.ID)

	s.log.Info().
		Str("session_id", snap.ID).
		Int("answered", len(snap.Answers)).
		Msg("Exam session finished")

	return snap
}

// Result scores a finished session against its questions, records the score
// on the handle and queues it for persistence.
func (s *ExamSessionService) Result(ctx context.Context, h *SessionHandle, questions []model.Question) (ScoreResult, error) {
	if h == nil {
		return ScoreResult{}, fmt.Errorf("%w: no session", ErrInvalidRequest)
	}

	h.mu.Lock()
	if !h.session.Status.Terminal() {
		h.mu.Unlock()
		return ScoreResult{}, ErrSessionActive
	}
	res, err := Score(h.session.Answers, questions, h.session.TotalQuestions)
	if err != nil {
		h.mu.Unlock()
		return ScoreResult{}, err
	}
	pct := res.Percentage
	h.session.Score = &pct
	sessionID := h.session.ID
	h.mu.Unlock()

	if s.scores != nil {
		if err := s.scores.EnqueueScore(ctx, sessionID, pct); err != nil {
			metrics.StoreWriteFailures.WithLabelValues("score").Inc()
			s.log.Error().Err(err).Str("session_id", sessionID).Msg("Failed to queue score")
		}
	}

	return res, nil
}
