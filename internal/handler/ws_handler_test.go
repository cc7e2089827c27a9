package handler_test

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stemsi/exstem-quiz/internal/model"
)

type wsEvent struct {
	Event     string          `json:"event"`
	Code      string          `json:"code"`
	Token     string          `json:"token"`
	Remaining string          `json:"remaining"`
	QID       string          `json:"q_id"`
	Answer    string          `json:"ans"`
	Score     int             `json:"score"`
	Correct   int             `json:"correct"`
	Total     int             `json:"total"`
	State     json.RawMessage `json:"state"`
	Questions []struct {
		ID            string `json:"id"`
		CorrectAnswer string `json:"correct_answer"`
	} `json:"questions"`
}

func (e wsEvent) state() model.ExamSessionState {
	var st model.ExamSessionState
	json.Unmarshal(e.State, &st)
	return st
}

type examClient struct {
	conn *websocket.Conn
	srv  *httptest.Server
}

func dialExam(t *testing.T, app *testApp, token, subject string) *examClient {
	t.Helper()
	srv := httptest.NewServer(app.engine)

	u, _ := url.Parse(srv.URL)
	u.Scheme = "ws"
	u.Path = "/ws/v1/exam"
	q := url.Values{"subject_id": {subject}}
	if token != "" {
		q.Set("token", token)
	}
	u.RawQuery = q.Encode()

	conn, _, err := websocket.DefaultDialer.Dial(u.String(), nil)
	if err != nil {
		srv.Close()
		t.Fatalf("dial: %v", err)
	}
	c := &examClient{conn: conn, srv: srv}
	t.Cleanup(c.close)
	return c
}

func (c *examClient) close() {
	c.conn.Close()
	c.srv.Close()
}

func (c *examClient) send(t *testing.T, v any) {
	t.Helper()
	if err := c.conn.WriteJSON(v); err != nil {
		t.Fatalf("write: %v", err)
	}
}

// waitFor skips countdown ticks until the wanted event arrives.
func (c *examClient) waitFor(t *testing.T, event string) wsEvent {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for {
		c.conn.SetReadDeadline(deadline)
		var ev wsEvent
		if err := c.conn.ReadJSON(&ev); err != nil {
			t.Fatalf("read while waiting for %q: %v", event, err)
		}
		if ev.Event == event {
			return ev
		}
		if ev.Event != "tick" {
			t.Fatalf("got %+v while waiting for %q", ev, event)
		}
	}
}

func TestExamStreamFlow(t *testing.T) {
	app := newTestApp(t, nil)
	c := dialExam(t, app, "", "math")

	c.send(t, map[string]any{"action": "ping"})
	c.waitFor(t, "pong")

	c.send(t, map[string]any{"action": "answer", "q_id": "m1", "ans": "A"})
	if ev := c.waitFor(t, "error"); ev.Code != "EXAM_NOT_STARTED" {
		t.Fatalf("answer before start code = %s", ev.Code)
	}

	c.send(t, map[string]any{"action": "start", "device": map[string]string{"platform": "test"}})
	session := c.waitFor(t, "session")
	if session.Token == "" {
		t.Error("minted token missing from first session event")
	}
	st := session.state()
	if st.Restored || st.Session.Status != model.SessionStatusInProgress {
		t.Fatalf("state = %+v", st)
	}
	if st.Session.DeviceInfo.Platform != "test" {
		t.Errorf("device = %+v", st.Session.DeviceInfo)
	}
	if len(session.Questions) != 3 {
		t.Fatalf("questions = %d, want 3", len(session.Questions))
	}
	for _, q := range session.Questions {
		if q.CorrectAnswer != "" {
			t.Fatal("correct answer sent to client")
		}
	}
	if claims, err := app.identity.ValidateToken(session.Token); err != nil || claims.UserID != st.Session.UserID {
		t.Errorf("minted token does not own the session: %v", err)
	}

	first := session.Questions[0].ID
	c.send(t, map[string]any{"action": "answer", "q_id": first, "ans": " a "})
	if saved := c.waitFor(t, "saved"); saved.QID != first || saved.Answer != "A" {
		t.Errorf("saved = %+v", saved)
	}
	c.send(t, map[string]any{"action": "answer", "q_id": session.Questions[1].ID, "ans": "b"})
	c.waitFor(t, "saved")

	c.send(t, map[string]any{"action": "answer", "q_id": first, "ans": "E"})
	if ev := c.waitFor(t, "error"); ev.Code != "INVALID_OPTION" {
		t.Errorf("bad option code = %s", ev.Code)
	}
	c.send(t, map[string]any{"action": "answer", "q_id": "elsewhere", "ans": "A"})
	if ev := c.waitFor(t, "error"); ev.Code != "UNKNOWN_QUESTION" {
		t.Errorf("unknown question code = %s", ev.Code)
	}
	c.send(t, map[string]any{"action": "dance"})
	if ev := c.waitFor(t, "error"); ev.Code != "UNKNOWN_ACTION" {
		t.Errorf("unknown action code = %s", ev.Code)
	}
	if err := c.conn.WriteMessage(websocket.TextMessage, []byte("{")); err != nil {
		t.Fatal(err)
	}
	if ev := c.waitFor(t, "error"); ev.Code != "INVALID_PAYLOAD" {
		t.Errorf("bad frame code = %s", ev.Code)
	}

	c.send(t, map[string]any{"action": "submit"})
	graded := c.waitFor(t, "graded")
	if graded.Correct != 1 || graded.Total != 3 || graded.Score != 33 {
		t.Errorf("graded = %+v, want 1/3 33", graded)
	}

	c.send(t, map[string]any{"action": "answer", "q_id": first, "ans": "B"})
	if ev := c.waitFor(t, "error"); ev.Code != "SESSION_FINISHED" {
		t.Errorf("answer after submit code = %s", ev.Code)
	}
}

func TestExamStreamResume(t *testing.T) {
	app := newTestApp(t, nil)
	token, _, err := app.identity.IssueAnonymousToken()
	if err != nil {
		t.Fatal(err)
	}

	c := dialExam(t, app, token, "math")
	c.send(t, map[string]any{"action": "start"})
	first := c.waitFor(t, "session")
	if first.Token != "" {
		t.Error("token re-issued for an authenticated connection")
	}
	qid := first.Questions[0].ID
	c.send(t, map[string]any{"action": "answer", "q_id": qid, "ans": "C"})
	c.waitFor(t, "saved")
	c.close()

	// Wait for the background write to land before reconnecting.
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		s, err := app.sessions.Get(context.Background(), first.state().Session.ID)
		if err == nil && s.Answers[qid].SelectedOption == "C" {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	c = dialExam(t, app, token, "math")
	c.send(t, map[string]any{"action": "start"})
	second := c.waitFor(t, "session")
	st := second.state()
	if !st.Restored || st.Session.ID != first.state().Session.ID {
		t.Fatalf("resume = %+v", st)
	}
	if st.Session.Answers[qid].SelectedOption != "C" {
		t.Errorf("restored answers = %+v", st.Session.Answers)
	}
	if strings.Join(questionIDs(second), ",") != strings.Join(questionIDs(first), ",") {
		t.Errorf("restored paper %v, want %v", questionIDs(second), questionIDs(first))
	}

	// A second start on the same connection replays the session.
	c.send(t, map[string]any{"action": "start"})
	if again := c.waitFor(t, "session"); again.state().Session.ID != st.Session.ID {
		t.Error("second start switched sessions")
	}
}

func TestExamStreamUnknownSubject(t *testing.T) {
	app := newTestApp(t, nil)
	c := dialExam(t, app, "", "history")

	c.send(t, map[string]any{"action": "start"})
	if ev := c.waitFor(t, "error"); ev.Code != "NO_QUESTIONS" {
		t.Errorf("code = %s, want NO_QUESTIONS", ev.Code)
	}
}

func questionIDs(ev wsEvent) []string {
	ids := make([]string, len(ev.Questions))
	for i, q := range ev.Questions {
		ids[i] = q.ID
	}
	return ids
}
