package model

import (
	"time"
)

// Question represents a single multiple-choice question from the bank.
type Question struct {
	ID            string    `json:"id" yaml:"id"`
	SubjectID     string    `json:"subject_id" yaml:"subject_id"`
	ChapterID     *string   `json:"chapter_id,omitempty" yaml:"chapter_id"`
	Text          string    `json:"text" yaml:"text"`
	ImageURL      string    `json:"image_url,omitempty" yaml:"image_url"`
	CorrectAnswer string    `json:"correct_answer" yaml:"correct_answer"`
	CreatedAt     time.Time `json:"created_at" yaml:"-"`
}

// QuestionForStudent is a question without the correct answer, sent to students.
type QuestionForStudent struct {
	ID        string  `json:"id"`
	SubjectID string  `json:"subject_id"`
	ChapterID *string `json:"chapter_id,omitempty"`
	Text      string  `json:"text"`
	ImageURL  string  `json:"image_url,omitempty"`
}

// QuestionListQuery selects questions for the picker.
type QuestionListQuery struct {
	ChapterID string `form:"chapter" binding:"omitempty,max=100"`
}
