package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-quiz/internal/model"
)

// flakyWriter fails the first n writes.
type flakyWriter struct {
	mu    sync.Mutex
	fails int
	calls int
	seen  []uint64
}

func (w *flakyWriter) PatchAnswer(ctx context.Context, id string, a model.UserAnswer, at time.Time) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.calls++
	if w.calls <= w.fails {
		return errBoom
	}
	w.seen = append(w.seen, a.Seq)
	return nil
}

func TestAnswerSyncerPreservesOrder(t *testing.T) {
	store := newMemStore()
	store.sessions["s1"] = model.ExamSession{ID: "s1", Answers: map[string]model.UserAnswer{}}
	store.patchDelay = 2 * time.Millisecond

	syncer := NewAnswerSyncer(store, nil, 0, 0, zerolog.Nop())
	for seq := uint64(1); seq <= 20; seq++ {
		opt := "A"
		if seq%2 == 0 {
			opt = "B"
		}
		syncer.Enqueue("s1", model.UserAnswer{QuestionID: "q1", SelectedOption: opt, Seq: seq}, time.Now())
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := syncer.Close(ctx); err != nil {
		t.Fatalf("Close: %v", err)
	}

	store.mu.Lock()
	defer store.mu.Unlock()
	for i, p := range store.patches {
		if p.Seq != uint64(i+1) {
			t.Fatalf("patch %d has seq %d, want %d", i, p.Seq, i+1)
		}
	}
	if got := store.sessions["s1"].Answers["q1"]; got.Seq != 20 || got.SelectedOption != "B" {
		t.Errorf("final answer = %+v, want seq 20 option B", got)
	}
}

func TestAnswerSyncerRetriesThenSucceeds(t *testing.T) {
	w := &flakyWriter{fails: 2}
	q := &memAnswerQueue{}
	syncer := NewAnswerSyncer(w, q, 2, time.Millisecond, zerolog.Nop())

	syncer.Enqueue("s1", model.UserAnswer{QuestionID: "q1", Seq: 1}, time.Now())
	if err := syncer.Close(context.Background()); err != nil {
		t.Fatal(err)
	}

	if w.calls != 3 {
		t.Errorf("calls = %d, want 3", w.calls)
	}
	if q.len() != 0 {
		t.Errorf("fallback queue = %d, want 0", q.len())
	}
}

func TestAnswerSyncerFallsBackAfterRetries(t *testing.T) {
	w := &flakyWriter{fails: 100}
	q := &memAnswerQueue{}
	syncer := NewAnswerSyncer(w, q, 2, time.Millisecond, zerolog.Nop())

	syncer.Enqueue("s1", model.UserAnswer{QuestionID: "q1", Seq: 1}, time.Now())
	syncer.Enqueue("s1", model.UserAnswer{QuestionID: "q2", Seq: 2}, time.Now())
	if err := syncer.Close(context.Background()); err != nil {
		t.Fatal(err)
	}

	if w.calls != 6 {
		t.Errorf("calls = %d, want 6", w.calls)
	}
	if q.len() != 2 {
		t.Fatalf("fallback queue = %d, want 2", q.len())
	}
	if q.items[0].QuestionID != "q1" || q.items[1].QuestionID != "q2" {
		t.Errorf("fallback order = %v", q.items)
	}
}

func TestAnswerSyncerIndependentSessions(t *testing.T) {
	store := newMemStore()
	for _, id := range []string{"s1", "s2", "s3"} {
		store.sessions[id] = model.ExamSession{ID: id, Answers: map[string]model.UserAnswer{}}
	}

	syncer := NewAnswerSyncer(store, nil, 0, 0, zerolog.Nop())
	var wg sync.WaitGroup
	for _, id := range []string{"s1", "s2", "s3"} {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			for seq := uint64(1); seq <= 10; seq++ {
				syncer.Enqueue(id, model.UserAnswer{QuestionID: "q", Seq: seq}, time.Now())
			}
		}(id)
	}
	wg.Wait()
	if err := syncer.Close(context.Background()); err != nil {
		t.Fatal(err)
	}

	for _, id := range []string{"s1", "s2", "s3"} {
		if got := store.session(id).Answers["q"].Seq; got != 10 {
			t.Errorf("%s final seq = %d, want 10", id, got)
		}
	}
}

func TestAnswerSyncerAfterCloseUsesFallback(t *testing.T) {
	w := &flakyWriter{}
	q := &memAnswerQueue{}
	syncer := NewAnswerSyncer(w, q, 0, 0, zerolog.Nop())
	if err := syncer.Close(context.Background()); err != nil {
		t.Fatal(err)
	}

	syncer.Enqueue("s1", model.UserAnswer{QuestionID: "q1", Seq: 1}, time.Now())

	deadline := time.Now().Add(2 * time.Second)
	for q.len() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if q.len() != 1 {
		t.Fatalf("fallback queue = %d, want 1", q.len())
	}
	if w.calls != 0 {
		t.Errorf("writer called %d times after close", w.calls)
	}
}

func TestAnswerSyncerCloseTimeout(t *testing.T) {
	store := newMemStore()
	store.sessions["s1"] = model.ExamSession{ID: "s1"}
	store.patchDelay = 200 * time.Millisecond

	syncer := NewAnswerSyncer(store, nil, 0, 0, zerolog.Nop())
	syncer.Enqueue("s1", model.UserAnswer{QuestionID: "q1", Seq: 1}, time.Now())

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if err := syncer.Close(ctx); err != context.DeadlineExceeded {
		t.Errorf("Close err = %v, want DeadlineExceeded", err)
	}
}
