package service

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-quiz/internal/config"
	"github.com/stemsi/exstem-quiz/internal/model"
)

const questionCacheTTL = 5 * time.Minute

// QuestionService reads the question bank through a short-lived Redis cache.
type QuestionService struct {
	source QuestionSource
	rdb    *redis.Client
	log    zerolog.Logger
}

// NewQuestionService creates a new QuestionService. rdb may be nil to
// disable caching.
func NewQuestionService(source QuestionSource, rdb *redis.Client, log zerolog.Logger) *QuestionService {
	return &QuestionService{
		source: source,
		rdb:    rdb,
		log:    log.With().Str("component", "question_service").Logger(),
	}
}

// ListForSubject returns the questions for a subject and optional chapter.
func (s *QuestionService) ListForSubject(ctx context.Context, subjectID, chapterID string) ([]model.Question, error) {
	chapterID = normalizeChapter(chapterID)
	key := config.CacheKey.SubjectQuestionsKey(subjectID, chapterID)

	if s.rdb != nil {
		data, err := s.rdb.Get(ctx, key).Bytes()
		if err == nil {
			var cached []model.Question
			if err := json.Unmarshal(data, &cached); err == nil {
				return cached, nil
			}
			s.log.Warn().Str("key", key).Msg("Discarding unreadable question cache entry")
		} else if err != redis.Nil {
			s.log.Warn().Err(err).Str("key", key).Msg("Question cache read failed")
		}
	}

	questions, err := s.source.ListBySubject(ctx, subjectID, chapterID)
	if err != nil {
		return nil, fmt.Errorf("list questions: %w", err)
	}

	if s.rdb != nil && len(questions) > 0 {
		if raw, err := json.Marshal(questions); err == nil {
			if err := s.rdb.Set(ctx, key, raw, questionCacheTTL).Err(); err != nil {
				s.log.Warn().Err(err).Str("key", key).Msg("Question cache write failed")
			}
		}
	}
	return questions, nil
}

// DrawPaper picks up to limit questions for a new exam using the given seed.
func (s *QuestionService) DrawPaper(ctx context.Context, subjectID, chapterID string, limit int, seed int64) ([]model.Question, error) {
	questions, err := s.ListForSubject(ctx, subjectID, chapterID)
	if err != nil {
		return nil, err
	}
	if len(questions) == 0 {
		return nil, ErrNoQuestions
	}
	return SelectExamQuestions(questions, limit, seed), nil
}

// ByIDs loads a known paper in its original order.
func (s *QuestionService) ByIDs(ctx context.Context, ids []string) ([]model.Question, error) {
	questions, err := s.source.ListByIDs(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("load paper: %w", err)
	}
	return questions, nil
}

// SelectExamQuestions shuffles a copy of questions with the seed and keeps the
// first limit. A non-positive limit keeps all of them.
func SelectExamQuestions(questions []model.Question, limit int, seed int64) []model.Question {
	out := append([]model.Question(nil), questions...)
	r := rand.New(rand.NewSource(seed))
	r.Shuffle(len(out), func(i, j int) { out[i], out[j] = out[j], out[i] })

	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

// StudentView strips correct answers.
func StudentView(questions []model.Question) []model.QuestionForStudent {
	out := make([]model.QuestionForStudent, len(questions))
	for i, q := range questions {
		out[i] = model.QuestionForStudent{
			ID:        q.ID,
			SubjectID: q.SubjectID,
			ChapterID: q.ChapterID,
			Text:      q.Text,
			ImageURL:  q.ImageURL,
		}
	}
	return out
}

func normalizeChapter(chapterID string) string {
	ch := strings.TrimSpace(chapterID)
	if strings.EqualFold(ch, "all") {
		return ""
	}
	return ch
}
