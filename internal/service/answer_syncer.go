package service

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-quiz/internal/metrics"
	"github.com/stemsi/exstem-quiz/internal/model"
)

const answerWriteTimeout = 5 * time.Second

type answerPatch struct {
	sessionID    string
	answer       model.UserAnswer
	lastActiveAt time.Time
}

// answerLane holds the pending writes of one session. A single goroutine
// drains it, so writes for the same question reach the store in call order.
type answerLane struct {
	pending []answerPatch
}

// AnswerSyncer pushes optimistic answer updates to the session store in the
// background. Each session gets its own FIFO lane; failed writes are retried a
// bounded number of times and then handed to the durable queue, if any.
type AnswerSyncer struct {
	writer   AnswerWriter
	fallback AnswerQueue
	retries  int
	backoff  time.Duration
	log      zerolog.Logger

	mu     sync.Mutex
	lanes  map[string]*answerLane
	closed bool
	wg     sync.WaitGroup
}

// NewAnswerSyncer creates an AnswerSyncer. fallback may be nil.
func NewAnswerSyncer(writer AnswerWriter, fallback AnswerQueue, retries int, backoff time.Duration, log zerolog.Logger) *AnswerSyncer {
	if retries < 0 {
		retries = 0
	}
	return &AnswerSyncer{
		writer:   writer,
		fallback: fallback,
		retries:  retries,
		backoff:  backoff,
		log:      log.With().Str("component", "answer_syncer").Logger(),
		lanes:    make(map[string]*answerLane),
	}
}

// Enqueue schedules a write and returns immediately.
func (s *AnswerSyncer) Enqueue(sessionID string, answer model.UserAnswer, lastActiveAt time.Time) {
	p := answerPatch{sessionID: sessionID, answer: answer, lastActiveAt: lastActiveAt}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		s.log.Warn().
			Str("session_id", sessionID).
			Str("question_id", answer.QuestionID).
			Msg("Syncer closed, handing answer to fallback queue")
		go s.handOff(p)
		return
	}

	if lane, ok := s.lanes[sessionID]; ok {
		lane.pending = append(lane.pending, p)
		return
	}

	lane := &answerLane{pending: []answerPatch{p}}
	s.lanes[sessionID] = lane
	s.wg.Add(1)
	go s.drain(sessionID, lane)
}

// Close stops accepting new lanes and waits for pending writes to finish or
// for ctx to expire.
func (s *AnswerSyncer) Close(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *AnswerSyncer) drain(sessionID string, lane *answerLane) {
	defer s.wg.Done()

	for {
		s.mu.Lock()
		if len(lane.pending) == 0 {
			delete(s.lanes, sessionID)
			s.mu.Unlock()
			return
		}
		p := lane.pending[0]
		lane.pending = lane.pending[1:]
		s.mu.Unlock()

		s.write(p)
	}
}

func (s *AnswerSyncer) write(p answerPatch) {
	var err error
	for attempt := 0; attempt <= s.retries; attempt++ {
		if attempt > 0 {
			time.Sleep(s.backoff * time.Duration(attempt))
		}

		ctx, cancel := context.WithTimeout(context.Background(), answerWriteTimeout)
		err = s.writer.PatchAnswer(ctx, p.sessionID, p.answer, p.lastActiveAt)
		cancel()
		if err == nil {
			return
		}

		s.log.Debug().Err(err).
			Str("session_id", p.sessionID).
			Int("attempt", attempt+1).
			Msg("Answer write failed")
	}

	metrics.StoreWriteFailures.WithLabelValues("answer").Inc()
	s.log.Error().Err(err).
		Str("session_id", p.sessionID).
		Str("question_id", p.answer.QuestionID).
		Uint64("seq", p.answer.Seq).
		Msg("Answer write failed after retries")

	s.handOff(p)
}

func (s *AnswerSyncer) handOff(p answerPatch) {
	if s.fallback == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), answerWriteTimeout)
	defer cancel()

	if err := s.fallback.EnqueueAnswer(ctx, p.sessionID, p.answer, p.lastActiveAt); err != nil {
		s.log.Error().Err(err).
			Str("session_id", p.sessionID).
			Str("question_id", p.answer.QuestionID).
			Msg("Failed to queue answer for retry, answer kept in memory only")
		return
	}
	metrics.AnswersQueued.Inc()
}
