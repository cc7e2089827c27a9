package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stemsi/exstem-quiz/internal/model"
)

// ScoreUpdate is one entry of a batched score write.
type ScoreUpdate struct {
	SessionID string
	Score     int
}

// ExamSessionRepository handles exam session data access. Answers live in a
// JSONB column keyed by question id; each answer carries the seq that guards
// against out-of-order writes.
type ExamSessionRepository struct {
	pool *pgxpool.Pool
}

// NewExamSessionRepository creates a new ExamSessionRepository.
func NewExamSessionRepository(pool *pgxpool.Pool) *ExamSessionRepository {
	return &ExamSessionRepository{pool: pool}
}

const sessionColumns = `id, user_id, subject_id, chapter_id, device_info, created_at, last_active_at,
	status, start_time, end_time, answers, question_ids, total_questions, score`

func scanSession(row pgx.Row) (*model.ExamSession, error) {
	var (
		s           model.ExamSession
		deviceRaw   []byte
		answersRaw  []byte
		questionIDs []string
	)
	err := row.Scan(&s.ID, &s.UserID, &s.SubjectID, &s.ChapterID, &deviceRaw, &s.CreatedAt, &s.LastActiveAt,
		&s.Status, &s.StartTime, &s.EndTime, &answersRaw, &questionIDs, &s.TotalQuestions, &s.Score)
	if err != nil {
		return nil, err
	}

	if len(deviceRaw) > 0 {
		if err := json.Unmarshal(deviceRaw, &s.DeviceInfo); err != nil {
			return nil, fmt.Errorf("decode device_info: %w", err)
		}
	}
	s.Answers = make(map[string]model.UserAnswer)
	if len(answersRaw) > 0 {
		if err := json.Unmarshal(answersRaw, &s.Answers); err != nil {
			return nil, fmt.Errorf("decode answers: %w", err)
		}
	}
	s.QuestionIDs = questionIDs
	return &s, nil
}

// Get retrieves a session by id.
func (r *ExamSessionRepository) Get(ctx context.Context, sessionID string) (*model.ExamSession, error) {
	s, err := scanSession(r.pool.QueryRow(ctx,
		`SELECT `+sessionColumns+` FROM exam_sessions WHERE id = $1`, sessionID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return s, nil
}

// Put writes the full session document. An existing terminal row is never
// overwritten.
func (r *ExamSessionRepository) Put(ctx context.Context, s *model.ExamSession) error {
	device, err := json.Marshal(s.DeviceInfo)
	if err != nil {
		return err
	}
	answers := s.Answers
	if answers == nil {
		answers = map[string]model.UserAnswer{}
	}
	answersRaw, err := json.Marshal(answers)
	if err != nil {
		return err
	}
	questionIDs := s.QuestionIDs
	if questionIDs == nil {
		questionIDs = []string{}
	}

	_, err = r.pool.Exec(ctx,
		`INSERT INTO exam_sessions (`+sessionColumns+`)
		 VALUES ($1, $2, $3, $4, $5::jsonb, $6, $7, $8, $9, $10, $11::jsonb, $12, $13, $14)
		 ON CONFLICT (id) DO UPDATE
		 SET last_active_at = EXCLUDED.last_active_at,
		     status = EXCLUDED.status,
		     answers = EXCLUDED.answers,
		     score = EXCLUDED.score
		 WHERE exam_sessions.status = 'IN_PROGRESS'`,
		s.ID, s.UserID, s.SubjectID, s.ChapterID, string(device), s.CreatedAt, s.LastActiveAt,
		s.Status, s.StartTime, s.EndTime, string(answersRaw), questionIDs, s.TotalQuestions, s.Score,
	)
	return err
}

// PatchAnswer merges one answer into the session. A patch whose seq is not
// newer than the stored answer for the same question is ignored.
func (r *ExamSessionRepository) PatchAnswer(ctx context.Context, sessionID string, a model.UserAnswer, lastActiveAt time.Time) error {
	raw, err := json.Marshal(a)
	if err != nil {
		return err
	}

	tag, err := r.pool.Exec(ctx,
		`UPDATE exam_sessions
		 SET answers = jsonb_set(COALESCE(answers, '{}'::jsonb), ARRAY[$2::text], $3::jsonb, true),
		     last_active_at = GREATEST(last_active_at, $4)
		 WHERE id = $1
		   AND COALESCE((answers -> $2::text ->> 'seq')::bigint, 0) < $5`,
		sessionID, a.QuestionID, string(raw), lastActiveAt, int64(a.Seq),
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		// Either a newer answer is already stored or the session is gone.
		return r.ensureExists(ctx, sessionID)
	}
	return nil
}

// MarkCompleted moves an in-progress session to COMPLETED. Repeated calls are
// harmless.
func (r *ExamSessionRepository) MarkCompleted(ctx context.Context, sessionID string, at time.Time) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE exam_sessions
		 SET status = 'COMPLETED',
		     last_active_at = GREATEST(last_active_at, $2),
		     finished_at = $2
		 WHERE id = $1 AND status = 'IN_PROGRESS'`,
		sessionID, at,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return r.ensureExists(ctx, sessionID)
	}
	return nil
}

func (r *ExamSessionRepository) ensureExists(ctx context.Context, sessionID string) error {
	var exists bool
	if err := r.pool.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM exam_sessions WHERE id = $1)`, sessionID,
	).Scan(&exists); err != nil {
		return err
	}
	if !exists {
		return ErrNotFound
	}
	return nil
}

// UpdateScores writes a batch of scores in one statement using UNNEST.
func (r *ExamSessionRepository) UpdateScores(ctx context.Context, batch []ScoreUpdate) error {
	if len(batch) == 0 {
		return nil
	}

	ids := make([]string, len(batch))
	scores := make([]int32, len(batch))
	for i, u := range batch {
		ids[i] = u.SessionID
		scores[i] = int32(u.Score)
	}

	_, err := r.pool.Exec(ctx,
		`UPDATE exam_sessions AS s
		 SET score = t.score
		 FROM UNNEST($1::text[], $2::int[]) AS t (id, score)
		 WHERE s.id = t.id AND s.status <> 'IN_PROGRESS'`,
		ids, scores,
	)
	return err
}

// UpdateScore writes a single score. Used when a batch fails.
func (r *ExamSessionRepository) UpdateScore(ctx context.Context, u ScoreUpdate) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE exam_sessions SET score = $1 WHERE id = $2 AND status <> 'IN_PROGRESS'`,
		u.Score, u.SessionID,
	)
	return err
}

// AbandonExpired marks in-progress sessions whose end time is before cutoff
// as ABANDONED and returns how many rows changed.
func (r *ExamSessionRepository) AbandonExpired(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := r.pool.Exec(ctx,
		`UPDATE exam_sessions
		 SET status = 'ABANDONED'
		 WHERE status = 'IN_PROGRESS' AND end_time < $1`,
		cutoff,
	)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
