package main

import (
	"strings"
	"testing"

	"github.com/stemsi/exstem-quiz/internal/model"
)

func TestLoadBundledBank(t *testing.T) {
	bank, err := loadBank("../../seeds/questions.yaml")
	if err != nil {
		t.Fatalf("loadBank: %v", err)
	}
	if len(bank.Subjects) == 0 || len(bank.Questions) == 0 {
		t.Fatalf("bank has %d subjects and %d questions", len(bank.Subjects), len(bank.Questions))
	}

	subjects := map[string]bool{}
	for _, s := range bank.Subjects {
		subjects[s.ID] = true
	}
	for _, q := range bank.Questions {
		if !subjects[q.SubjectID] {
			t.Errorf("question %s references unknown subject %s", q.ID, q.SubjectID)
		}
	}
}

func TestValidateBank(t *testing.T) {
	q := func(id, answer string) model.Question {
		return model.Question{ID: id, SubjectID: "math", Text: "2+2?", CorrectAnswer: answer}
	}

	tests := []struct {
		name    string
		qs      []model.Question
		wantErr string
	}{
		{"ok", []model.Question{q("a", " b "), q("b", "D")}, ""},
		{"duplicate", []model.Question{q("a", "A"), q("a", "B")}, "twice"},
		{"missing text", []model.Question{{ID: "a", SubjectID: "math", CorrectAnswer: "A"}}, "required"},
		{"bad answer", []model.Question{q("a", "E")}, "correct_answer"},
		{"empty answer", []model.Question{q("a", "")}, "correct_answer"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			bank := &questionBank{Questions: tc.qs}
			err := validateBank(bank)
			if tc.wantErr == "" {
				if err != nil {
					t.Fatalf("validateBank: %v", err)
				}
				if bank.Questions[0].CorrectAnswer != "B" {
					t.Errorf("answer not normalized: %q", bank.Questions[0].CorrectAnswer)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tc.wantErr) {
				t.Errorf("err = %v, want %q", err, tc.wantErr)
			}
		})
	}
}
