package model

import (
	"time"
)

// SessionStatus enumerates exam session states.
type SessionStatus string

const (
	SessionStatusInProgress SessionStatus = "IN_PROGRESS"
	SessionStatusCompleted  SessionStatus = "COMPLETED"
	SessionStatusAbandoned  SessionStatus = "ABANDONED"
)

// Terminal reports whether no further mutation is permitted.
func (s SessionStatus) Terminal() bool {
	return s == SessionStatusCompleted || s == SessionStatusAbandoned
}

// DeviceInfo is an informational snapshot of the client captured at creation.
type DeviceInfo struct {
	UserAgent        string `json:"user_agent"`
	ScreenResolution string `json:"screen_resolution"`
	Language         string `json:"language"`
	Platform         string `json:"platform"`
}

// UserAnswer is one recorded answer. Seq orders writes to the same question
// in call order; a store must never replace an answer with a lower Seq.
type UserAnswer struct {
	QuestionID     string    `json:"question_id"`
	SelectedOption string    `json:"selected_option"`
	Timestamp      time.Time `json:"timestamp"`
	Seq            uint64    `json:"seq,omitempty"`
}

// ExamSession represents one student's single attempt at an exam.
type ExamSession struct {
	ID             string                `json:"id"`
	UserID         string                `json:"user_id"`
	SubjectID      string                `json:"subject_id"`
	ChapterID      *string               `json:"chapter_id,omitempty"`
	DeviceInfo     DeviceInfo            `json:"device_info"`
	CreatedAt      time.Time             `json:"created_at"`
	LastActiveAt   time.Time             `json:"last_active_at"`
	Status         SessionStatus         `json:"status"`
	StartTime      time.Time             `json:"start_time"`
	EndTime        time.Time             `json:"end_time"`
	Answers        map[string]UserAnswer `json:"answers"`
	QuestionIDs    []string              `json:"question_ids,omitempty"`
	TotalQuestions int                   `json:"total_questions"`
	Score          *int                  `json:"score,omitempty"`
}

// Live reports whether the session may still be resumed at the given instant.
func (s *ExamSession) Live(now time.Time) bool {
	return s.Status == SessionStatusInProgress && now.Before(s.EndTime)
}

// Clone returns a deep copy so callers can hand out snapshots safely.
func (s *ExamSession) Clone() ExamSession {
	c := *s
	c.Answers = make(map[string]UserAnswer, len(s.Answers))
	for k, v := range s.Answers {
		c.Answers[k] = v
	}
	if s.QuestionIDs != nil {
		c.QuestionIDs = append([]string(nil), s.QuestionIDs...)
	}
	if s.ChapterID != nil {
		ch := *s.ChapterID
		c.ChapterID = &ch
	}
	if s.Score != nil {
		sc := *s.Score
		c.Score = &sc
	}
	return c
}

// ExamSessionState is what the client receives after every transition.
type ExamSessionState struct {
	Session       ExamSession `json:"session"`
	Restored      bool        `json:"restored"`
	RemainingTime float64     `json:"remaining_seconds"`
}
