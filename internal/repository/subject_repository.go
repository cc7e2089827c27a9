package repository

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stemsi/exstem-quiz/internal/model"
)

type SubjectRepository struct {
	pool *pgxpool.Pool
}

func NewSubjectRepository(pool *pgxpool.Pool) *SubjectRepository {
	return &SubjectRepository{pool: pool}
}

// ListWithChapters returns every subject with its chapters in display order.
func (r *SubjectRepository) ListWithChapters(ctx context.Context) ([]model.Subject, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT s.id, s.name, c.id, c.name
		 FROM subjects s
		 LEFT JOIN chapters c ON c.subject_id = s.id
		 ORDER BY s.name ASC, c.position ASC, c.id ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var subjects []model.Subject
	index := make(map[string]int)
	for rows.Next() {
		var (
			subjectID, subjectName string
			chapterID, chapterName *string
		)
		if err := rows.Scan(&subjectID, &subjectName, &chapterID, &chapterName); err != nil {
			return nil, err
		}

		i, ok := index[subjectID]
		if !ok {
			subjects = append(subjects, model.Subject{ID: subjectID, Name: subjectName, Chapters: []model.Chapter{}})
			i = len(subjects) - 1
			index[subjectID] = i
		}
		if chapterID != nil {
			ch := model.Chapter{ID: *chapterID}
			if chapterName != nil {
				ch.Name = *chapterName
			}
			subjects[i].Chapters = append(subjects[i].Chapters, ch)
		}
	}
	return subjects, rows.Err()
}

// Upsert writes a subject and replaces its chapter list.
func (r *SubjectRepository) Upsert(ctx context.Context, s *model.Subject) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx,
		`INSERT INTO subjects (id, name) VALUES ($1, $2)
		 ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name`,
		s.ID, s.Name); err != nil {
		return err
	}

	if _, err := tx.Exec(ctx, `DELETE FROM chapters WHERE subject_id = $1`, s.ID); err != nil {
		return err
	}

	for i, ch := range s.Chapters {
		if _, err := tx.Exec(ctx,
			`INSERT INTO chapters (subject_id, id, name, position) VALUES ($1, $2, $3, $4)`,
			s.ID, ch.ID, ch.Name, i); err != nil {
			return err
		}
	}

	return tx.Commit(ctx)
}
