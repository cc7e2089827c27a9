package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-quiz/internal/model"
)

// StartRequest is what a client sends to begin or resume an exam.
type StartRequest struct {
	SubjectID  string
	ChapterID  string
	DeviceInfo model.DeviceInfo
}

// ExamRun pairs a session handle with the questions it is answered against.
type ExamRun struct {
	Handle    *SessionHandle
	Questions []model.Question
}

// ExamService ties the session manager to the question bank: it draws the
// paper for new sessions, reloads it for restored ones and grades on finish.
type ExamService struct {
	sessions        *ExamSessionService
	questions       *QuestionService
	durationMinutes int
	questionCap     int
	log             zerolog.Logger

	seed func() int64
}

// NewExamService creates a new ExamService.
func NewExamService(
	sessions *ExamSessionService,
	questions *QuestionService,
	durationMinutes int,
	questionCap int,
	log zerolog.Logger,
) *ExamService {
	return &ExamService{
		sessions:        sessions,
		questions:       questions,
		durationMinutes: durationMinutes,
		questionCap:     questionCap,
		log:             log.With().Str("component", "exam_service").Logger(),
		seed:            func() int64 { return time.Now().UnixNano() },
	}
}

// Start resumes the caller's live session for the subject or creates a new
// one with a freshly drawn paper. A non-nil run may come back together with
// an ErrSessionWrite error; the exam is still usable.
func (s *ExamService) Start(ctx context.Context, req StartRequest) (*ExamRun, error) {
	chapterID := normalizeChapter(req.ChapterID)

	var drawn []model.Question
	init := InitializeRequest{
		SubjectID:       req.SubjectID,
		DurationMinutes: s.durationMinutes,
		DeviceInfo:      req.DeviceInfo,
		Paper: func(ctx context.Context) ([]string, error) {
			qs, err := s.questions.DrawPaper(ctx, req.SubjectID, chapterID, s.questionCap, s.seed())
			if err != nil {
				return nil, err
			}
			drawn = qs
			ids := make([]string, len(qs))
			for i, q := range qs {
				ids[i] = q.ID
			}
			return ids, nil
		},
	}
	if chapterID != "" {
		init.ChapterID = &chapterID
	}

	h, err := s.sessions.Initialize(ctx, init)
	if h == nil {
		return nil, err
	}

	run := &ExamRun{Handle: h, Questions: drawn}
	if h.Restored() {
		qs, loadErr := s.restoredPaper(ctx, h.Snapshot())
		if loadErr != nil {
			return nil, loadErr
		}
		run.Questions = qs
	}
	return run, err
}

func (s *ExamService) restoredPaper(ctx context.Context, snap model.ExamSession) ([]model.Question, error) {
	if len(snap.QuestionIDs) > 0 {
		return s.questions.ByIDs(ctx, snap.QuestionIDs)
	}

	// Sessions without a stored paper are graded against the subject pool.
	chapterID := ""
	if snap.ChapterID != nil {
		chapterID = *snap.ChapterID
	}
	qs, err := s.questions.ListForSubject(ctx, snap.SubjectID, chapterID)
	if err != nil {
		return nil, err
	}
	if len(qs) == 0 {
		return nil, ErrNoQuestions
	}
	return qs, nil
}

// Grade finishes the run's session if needed and scores it.
func (s *ExamService) Grade(ctx context.Context, run *ExamRun) (ScoreResult, error) {
	if run == nil || run.Handle == nil {
		return ScoreResult{}, fmt.Errorf("%w: no exam in progress", ErrInvalidRequest)
	}

	s.sessions.Finish(ctx, run.Handle)

	res, err := s.sessions.Result(ctx, run.Handle, run.Questions)
	if err != nil {
		if errors.Is(err, ErrDegenerateScoring) {
			s.log.Warn().Str("session_id", run.Handle.ID()).Msg("Session has no questions to score")
		}
		return ScoreResult{}, err
	}

	s.log.Info().
		Str("session_id", run.Handle.ID()).
		Int("correct", res.Correct).
		Int("total", res.Total).
		Int("percentage", res.Percentage).
		Msg("Exam graded")
	return res, nil
}
