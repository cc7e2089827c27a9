package websocket

import "github.com/stemsi/exstem-quiz/internal/model"

// ─── Actions (Client → Server) ──────────────────────────────────────

type Action string

const (
	ActionStart  Action = "start"
	ActionAnswer Action = "answer"
	ActionSubmit Action = "submit"
	ActionPing   Action = "ping"
)

// RequestEnvelope is used to peek at the action before full parsing.
type RequestEnvelope struct {
	Action Action `json:"action"`
}

// StartRequest begins a new exam or resumes the live one for the subject.
// Subject and chapter fall back to the connection's query parameters.
type StartRequest struct {
	Action    Action           `json:"action"`
	SubjectID string           `json:"subject_id" binding:"max=100"`
	ChapterID string           `json:"chapter_id" binding:"max=100"`
	Device    model.DeviceInfo `json:"device"`
}

// AnswerRequest is sent by the client to record a single answer.
type AnswerRequest struct {
	Action Action `json:"action"`
	QID    string `json:"q_id" binding:"required,max=100"`
	Answer string `json:"ans" binding:"required,oneof=A B C D"`
}

// SubmitRequest is sent by the client to finish and grade the exam.
type SubmitRequest struct {
	Action Action `json:"action"`
}

// ─── Events (Server → Client) ───────────────────────────────────────

type Event string

const (
	EventSession Event = "session"
	EventSaved   Event = "saved"
	EventTick    Event = "tick"
	EventGraded  Event = "graded"
	EventError   Event = "error"
	EventPong    Event = "pong"
)

// SessionResponse carries the session snapshot and its question paper.
// Token is only set when the server minted a new identity for the connection.
type SessionResponse struct {
	Event     Event                      `json:"event"`
	Token     string                     `json:"token,omitempty"`
	Degraded  bool                       `json:"degraded,omitempty"`
	State     model.ExamSessionState     `json:"state"`
	Questions []model.QuestionForStudent `json:"questions"`
}

type SavedResponse struct {
	Event  Event  `json:"event"`
	QID    string `json:"q_id"`
	Answer string `json:"ans"`
}

type TickResponse struct {
	Event     Event  `json:"event"`
	Remaining string `json:"remaining"`
}

type GradedResponse struct {
	Event   Event  `json:"event"`
	Status  string `json:"status"`
	Expired bool   `json:"expired,omitempty"`
	Score   int    `json:"score"`
	Correct int    `json:"correct"`
	Total   int    `json:"total"`
}

type ErrorResponse struct {
	Event Event  `json:"event"`
	Code  string `json:"code,omitempty"`
	Error string `json:"error"`
}

type PongResponse struct {
	Event Event `json:"event"`
}
