package worker

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-quiz/internal/config"
	"github.com/stemsi/exstem-quiz/internal/repository"
)

const (
	ScoreBatchSize    = 50
	ScoreBatchTimeout = 2 * time.Second
	ScorePollTimeout  = 1 * time.Second
)

// ScoreWriter persists final scores.
type ScoreWriter interface {
	UpdateScores(ctx context.Context, batch []repository.ScoreUpdate) error
	UpdateScore(ctx context.Context, u repository.ScoreUpdate) error
}

type scorePayload struct {
	SessionID string `json:"session_id"`
	Score     int    `json:"score"`
}

// ScoreQueue pushes graded scores onto persist_scores_queue.
type ScoreQueue struct {
	rdb *redis.Client
}

func NewScoreQueue(rdb *redis.Client) *ScoreQueue {
	return &ScoreQueue{rdb: rdb}
}

func (q *ScoreQueue) EnqueueScore(ctx context.Context, sessionID string, score int) error {
	raw, err := json.Marshal(scorePayload{SessionID: sessionID, Score: score})
	if err != nil {
		return err
	}
	return q.rdb.RPush(ctx, config.WorkerKey.PersistScoresQueue, raw).Err()
}

type ScoringWorker struct {
	store ScoreWriter
	rdb   *redis.Client
	log   zerolog.Logger
}

func NewScoringWorker(store ScoreWriter, rdb *redis.Client, log zerolog.Logger) *ScoringWorker {
	return &ScoringWorker{
		store: store,
		rdb:   rdb,
		log:   log.With().Str("component", "scoring_worker").Logger(),
	}
}

// ----------------------------------------------------------------
// Worker loop with batching
// ----------------------------------------------------------------

func (w *ScoringWorker) Start(ctx context.Context) {
	w.log.Info().Msg("ScoringWorker started")

	batch := make([]repository.ScoreUpdate, 0, ScoreBatchSize)
	lastFlush := time.Now()

	for {
		// Should flush?
		if len(batch) > 0 &&
			(len(batch) >= ScoreBatchSize || time.Since(lastFlush) >= ScoreBatchTimeout) {

			w.flushSafe(ctx, batch)
			batch = batch[:0]
			lastFlush = time.Now()
		}

		select {
		case <-ctx.Done():
			w.log.Info().Msg("Shutdown requested. Flushing remaining batch...")
			w.flushSafe(context.Background(), batch)
			return

		default:
			item, err := w.rdb.BLPop(ctx, ScorePollTimeout, config.WorkerKey.PersistScoresQueue).Result()
			if err != nil {
				if !errors.Is(err, redis.Nil) && ctx.Err() == nil {
					w.log.Error().Err(err).Msg("BLPop error")
				}
				continue
			}

			if len(item) < 2 {
				continue
			}

			var p scorePayload
			if err := json.Unmarshal([]byte(item[1]), &p); err != nil {
				w.log.Error().Err(err).Msg("Invalid JSON payload")
				continue
			}

			batch = append(batch, repository.ScoreUpdate{SessionID: p.SessionID, Score: p.Score})
		}
	}
}

// ----------------------------------------------------------------
// Batch update with per-row fallback
// ----------------------------------------------------------------

func (w *ScoringWorker) flushSafe(ctx context.Context, batch []repository.ScoreUpdate) {
	if len(batch) == 0 {
		return
	}

	if err := w.store.UpdateScores(ctx, batch); err != nil {
		w.log.Warn().Err(err).Msg("bulk score update failed, using fallback")

		for _, u := range batch {
			if err := w.store.UpdateScore(ctx, u); err != nil {
				w.log.Error().Err(err).Str("session_id", u.SessionID).Msg("UpdateScore failed, requeueing")
				raw, _ := json.Marshal(scorePayload{SessionID: u.SessionID, Score: u.Score})
				w.rdb.RPush(ctx, config.WorkerKey.PersistScoresQueue, raw)
			}
		}
		return
	}

	w.log.Debug().Int("count", len(batch)).Msg("Scores persisted")
}
