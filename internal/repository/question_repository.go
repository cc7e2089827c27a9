package repository

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stemsi/exstem-quiz/internal/model"
)

// QuestionListLimit bounds a single subject query.
const QuestionListLimit = 100

// QuestionRepository handles question data access.
type QuestionRepository struct {
	pool *pgxpool.Pool
}

// NewQuestionRepository creates a new QuestionRepository.
func NewQuestionRepository(pool *pgxpool.Pool) *QuestionRepository {
	return &QuestionRepository{pool: pool}
}

// ListBySubject retrieves questions for a subject, matched case-insensitively.
// An empty chapter or "all" returns every chapter.
func (r *QuestionRepository) ListBySubject(ctx context.Context, subjectID, chapterID string) ([]model.Question, error) {
	query := `SELECT id, subject_id, chapter_id, text, image_url, correct_answer, created_at
		 FROM questions WHERE lower(subject_id) = lower($1)`
	args := []any{subjectID}

	if ch := strings.TrimSpace(chapterID); ch != "" && !strings.EqualFold(ch, "all") {
		args = append(args, ch)
		query += fmt.Sprintf(` AND chapter_id = $%d`, len(args))
	}
	args = append(args, QuestionListLimit)
	query += fmt.Sprintf(` ORDER BY created_at, id LIMIT $%d`, len(args))

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return collectQuestions(rows)
}

// ListByIDs retrieves the given questions in the order of ids. Unknown ids
// are skipped.
func (r *QuestionRepository) ListByIDs(ctx context.Context, ids []string) ([]model.Question, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	rows, err := r.pool.Query(ctx,
		`SELECT id, subject_id, chapter_id, text, image_url, correct_answer, created_at
		 FROM questions WHERE id = ANY($1)`, ids,
	)
	if err != nil {
		return nil, err
	}
	found, err := collectQuestions(rows)
	if err != nil {
		return nil, err
	}

	byID := make(map[string]model.Question, len(found))
	for _, q := range found {
		byID[q.ID] = q
	}
	ordered := make([]model.Question, 0, len(ids))
	for _, id := range ids {
		if q, ok := byID[id]; ok {
			ordered = append(ordered, q)
		}
	}
	return ordered, nil
}

// Upsert inserts or replaces a question. Used by the seeder.
func (r *QuestionRepository) Upsert(ctx context.Context, q *model.Question) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO questions (id, subject_id, chapter_id, text, image_url, correct_answer)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (id) DO UPDATE
		 SET subject_id = EXCLUDED.subject_id,
		     chapter_id = EXCLUDED.chapter_id,
		     text = EXCLUDED.text,
		     image_url = EXCLUDED.image_url,
		     correct_answer = EXCLUDED.correct_answer`,
		q.ID, q.SubjectID, q.ChapterID, q.Text, q.ImageURL, q.CorrectAnswer,
	)
	return err
}

func collectQuestions(rows pgx.Rows) ([]model.Question, error) {
	defer rows.Close()

	var questions []model.Question
	for rows.Next() {
		var q model.Question
		if err := rows.Scan(&q.ID, &q.SubjectID, &q.ChapterID, &q.Text, &q.ImageURL, &q.CorrectAnswer, &q.CreatedAt); err != nil {
			return nil, err
		}
		questions = append(questions, q)
	}
	return questions, rows.Err()
}
