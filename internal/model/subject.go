package model

// Subject represents an academic subject offered in the student portal.
type Subject struct {
	ID       string    `json:"id" yaml:"id"`
	Name     string    `json:"name" yaml:"name"`
	Chapters []Chapter `json:"chapters" yaml:"chapters"`
}

// Chapter narrows a subject's question pool.
type Chapter struct {
	ID   string `json:"id" yaml:"id"`
	Name string `json:"name" yaml:"name"`
}

// ActiveSessionQuery is the query for looking up a resumable session.
type ActiveSessionQuery struct {
	SubjectID string `form:"subject_id" binding:"required,max=100"`
}
