package validator

import (
	"testing"
)

type answerFrame struct {
	QID    string `json:"q_id" binding:"required,max=10"`
	Answer string `json:"ans" binding:"required,oneof=A B C D"`
}

func TestValidate(t *testing.T) {
	Setup()

	tests := []struct {
		name  string
		in    answerFrame
		wantF []string
	}{
		{"valid", answerFrame{QID: "q1", Answer: "B"}, nil},
		{"bad option", answerFrame{QID: "q1", Answer: "E"}, []string{"ans"}},
		{"missing both", answerFrame{}, []string{"q_id", "ans"}},
		{"long id", answerFrame{QID: "0123456789abc", Answer: "A"}, []string{"q_id"}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			fields := Validate(&tc.in)
			if len(fields) != len(tc.wantF) {
				t.Fatalf("fields = %v, want keys %v", fields, tc.wantF)
			}
			for _, f := range tc.wantF {
				if fields[f] == "" {
					t.Errorf("missing message for %s in %v", f, fields)
				}
			}
		})
	}
}
