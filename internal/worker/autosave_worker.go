package worker

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-quiz/internal/config"
	"github.com/stemsi/exstem-quiz/internal/model"
	"github.com/stemsi/exstem-quiz/internal/repository"
)

const (
	AnswerPollTimeout = 1 * time.Second
	AnswerRetryDelay  = 5 * time.Second
)

// AnswerPatcher applies one seq-guarded answer patch.
type AnswerPatcher interface {
	PatchAnswer(ctx context.Context, sessionID string, answer model.UserAnswer, lastActiveAt time.Time) error
}

type answerPayload struct {
	SessionID    string           `json:"session_id"`
	Answer       model.UserAnswer `json:"answer"`
	LastActiveAt time.Time        `json:"last_active_at"`
}

// AnswerQueue pushes answer patches that could not be written in-process
// onto persist_answers_queue.
type AnswerQueue struct {
	rdb *redis.Client
}

func NewAnswerQueue(rdb *redis.Client) *AnswerQueue {
	return &AnswerQueue{rdb: rdb}
}

func (q *AnswerQueue) EnqueueAnswer(ctx context.Context, sessionID string, answer model.UserAnswer, lastActiveAt time.Time) error {
	raw, err := json.Marshal(answerPayload{SessionID: sessionID, Answer: answer, LastActiveAt: lastActiveAt})
	if err != nil {
		return err
	}
	return q.rdb.RPush(ctx, config.WorkerKey.PersistAnswersQueue, raw).Err()
}

// AutosaveWorker consumes persist_answers_queue and replays the patches
// against the session store. The store's seq guard makes replays safe.
type AutosaveWorker struct {
	store      AnswerPatcher
	rdb        *redis.Client
	retryDelay time.Duration
	log        zerolog.Logger
}

// NewAutosaveWorker creates a new AutosaveWorker.
func NewAutosaveWorker(store AnswerPatcher, rdb *redis.Client, log zerolog.Logger) *AutosaveWorker {
	return &AutosaveWorker{
		store:      store,
		rdb:        rdb,
		retryDelay: AnswerRetryDelay,
		log:        log.With().Str("component", "autosave_worker").Logger(),
	}
}

// Start begins the infinite worker loop. Call in a goroutine.
func (w *AutosaveWorker) Start(ctx context.Context) {
	w.log.Info().Msg("Worker started")

	for {
		select {
		case <-ctx.Done():
			w.log.Info().Msg("Worker stopping...")
			// Drain remaining items before exit.
			w.drain(context.Background())
			w.log.Info().Msg("Worker stopped")
			return
		default:
			w.processNext(ctx)
		}
	}
}

func (w *AutosaveWorker) processNext(ctx context.Context) {
	// BLPop blocks until an item is available or the poll timeout passes.
	result, err := w.rdb.BLPop(ctx, AnswerPollTimeout, config.WorkerKey.PersistAnswersQueue).Result()
	if err != nil {
		if !errors.Is(err, redis.Nil) && ctx.Err() == nil {
			w.log.Error().Err(err).Msg("BLPop error")
		}
		return
	}

	if len(result) < 2 {
		return
	}

	if err := w.handle(ctx, result[1]); err != nil {
		w.log.Error().Err(err).Msg("Persist error, retrying later")
		// Push back to queue for retry.
		w.rdb.RPush(ctx, config.WorkerKey.PersistAnswersQueue, result[1])
		select {
		case <-ctx.Done():
		case <-time.After(w.retryDelay):
		}
	}
}

// handle persists one raw payload. It returns an error only when the payload
// should be retried.
func (w *AutosaveWorker) handle(ctx context.Context, raw string) error {
	var p answerPayload
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		w.log.Error().Err(err).Msg("Unmarshal error, dropping payload")
		return nil
	}

	err := w.store.PatchAnswer(ctx, p.SessionID, p.Answer, p.LastActiveAt)
	if errors.Is(err, repository.ErrNotFound) {
		w.log.Warn().
			Str("session_id", p.SessionID).
			Str("question_id", p.Answer.QuestionID).
			Msg("Session no longer exists, dropping answer")
		return nil
	}
	return err
}

// drain processes all remaining items in the queue before shutdown.
func (w *AutosaveWorker) drain(ctx context.Context) {
	drained := 0
	for {
		result, err := w.rdb.LPop(ctx, config.WorkerKey.PersistAnswersQueue).Result()
		if err != nil {
			break
		}

		if err := w.handle(ctx, result); err != nil {
			w.log.Error().Err(err).Msg("Drain persist error")
			w.rdb.RPush(ctx, config.WorkerKey.PersistAnswersQueue, result)
			break
		}
		drained++
	}

	if drained > 0 {
		w.log.Info().Int("count", drained).Msg("Drained remaining items")
	}
}
