package service

import (
	"fmt"
	"math"
	"strings"

	"github.com/stemsi/exstem-quiz/internal/model"
)

// ScoreResult is the outcome of grading a completed session.
type ScoreResult struct {
	Correct    int `json:"correct"`
	Total      int `json:"total"`
	Percentage int `json:"percentage"`
}

// Score grades recorded answers against the question set. Options compare
// case-insensitively; answers for questions missing from the set are ignored.
// Percentage is correct/total*100 rounded to the nearest integer.
func Score(answers map[string]model.UserAnswer, questions []model.Question, totalQuestions int) (ScoreResult, error) {
	if totalQuestions <= 0 {
		return ScoreResult{}, fmt.Errorf("%w: total=%d", ErrDegenerateScoring, totalQuestions)
	}

	byID := make(map[string]*model.Question, len(questions))
	for i := range questions {
		byID[questions[i].ID] = &questions[i]
	}

	correct := 0
	for qID, ans := range answers {
		q, ok := byID[qID]
		if !ok || q.CorrectAnswer == "" {
			continue
		}
		if strings.EqualFold(strings.TrimSpace(ans.SelectedOption), strings.TrimSpace(q.CorrectAnswer)) {
			correct++
		}
	}

	pct := math.Round(float64(correct) / float64(totalQuestions) * 100)

	return ScoreResult{
		Correct:    correct,
		Total:      totalQuestions,
		Percentage: int(pct),
	}, nil
}
