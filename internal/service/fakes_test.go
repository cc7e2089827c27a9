package service

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-quiz/internal/model"
)

var errBoom = errors.New("boom")

type fakeIdentity struct {
	id  string
	err error
}

func (f *fakeIdentity) ResolveAnonymousIdentity(ctx context.Context) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	if id, ok := IdentityFromContext(ctx); ok {
		return id, nil
	}
	return f.id, nil
}

// memStore is an in-memory SessionStore honouring the seq guard.
type memStore struct {
	mu       sync.Mutex
	sessions map[string]model.ExamSession

	getErr      error
	putErr      error
	patchErr    error
	completeErr error

	puts      int
	completes int
	patches   []model.UserAnswer
	// patchDelay slows every patch to surface ordering bugs.
	patchDelay time.Duration
}

func newMemStore() *memStore {
	return &memStore{sessions: make(map[string]model.ExamSession)}
}

func (m *memStore) Get(ctx context.Context, id string) (*model.ExamSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.getErr != nil {
		return nil, m.getErr
	}
	s, ok := m.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	c := s.Clone()
	return &c, nil
}

func (m *memStore) Put(ctx context.Context, s *model.ExamSession) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.puts++
	if m.putErr != nil {
		return m.putErr
	}
	m.sessions[s.ID] = s.Clone()
	return nil
}

func (m *memStore) PatchAnswer(ctx context.Context, id string, a model.UserAnswer, at time.Time) error {
	if m.patchDelay > 0 {
		time.Sleep(m.patchDelay)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.patchErr != nil {
		return m.patchErr
	}
	s, ok := m.sessions[id]
	if !ok {
		return ErrSessionNotFound
	}
	m.patches = append(m.patches, a)
	if cur, exists := s.Answers[a.QuestionID]; exists && cur.Seq >= a.Seq {
		return nil
	}
	if s.Answers == nil {
		s.Answers = map[string]model.UserAnswer{}
	}
	s.Answers[a.QuestionID] = a
	if at.After(s.LastActiveAt) {
		s.LastActiveAt = at
	}
	m.sessions[id] = s
	return nil
}

func (m *memStore) MarkCompleted(ctx context.Context, id string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.completes++
	if m.completeErr != nil {
		return m.completeErr
	}
	s, ok := m.sessions[id]
	if !ok {
		return ErrSessionNotFound
	}
	if s.Status == model.SessionStatusInProgress {
		s.Status = model.SessionStatusCompleted
		s.LastActiveAt = at
		m.sessions[id] = s
	}
	return nil
}

func (m *memStore) session(id string) model.ExamSession {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.sessions[id]
	return s.Clone()
}

func (m *memStore) patchCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.patches)
}

type pointerKey struct{ user, subject string }

type memPointers struct {
	mu      sync.Mutex
	ptrs    map[pointerKey]string
	ttls    map[pointerKey]time.Duration
	getErr  error
	setErr  error
	removed []string
}

func newMemPointers() *memPointers {
	return &memPointers{ptrs: map[pointerKey]string{}, ttls: map[pointerKey]time.Duration{}}
}

func (p *memPointers) Get(ctx context.Context, user, subject string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.getErr != nil {
		return "", p.getErr
	}
	return p.ptrs[pointerKey{user, subject}], nil
}

func (p *memPointers) Set(ctx context.Context, user, subject, id string, ttl time.Duration) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.setErr != nil {
		return p.setErr
	}
	p.ptrs[pointerKey{user, subject}] = id
	p.ttls[pointerKey{user, subject}] = ttl
	return nil
}

func (p *memPointers) Remove(ctx context.Context, user, subject, id string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	k := pointerKey{user, subject}
	if p.ptrs[k] == id {
		delete(p.ptrs, k)
		p.removed = append(p.removed, id)
	}
	return nil
}

func (p *memPointers) pointer(user, subject string) string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ptrs[pointerKey{user, subject}]
}

type memAnswerQueue struct {
	mu    sync.Mutex
	items []model.UserAnswer
}

func (q *memAnswerQueue) EnqueueAnswer(ctx context.Context, id string, a model.UserAnswer, at time.Time) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = append(q.items, a)
	return nil
}

func (q *memAnswerQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

type memScoreQueue struct {
	mu     sync.Mutex
	scores map[string]int
	calls  int
}

func (q *memScoreQueue) EnqueueScore(ctx context.Context, id string, score int) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.scores == nil {
		q.scores = map[string]int{}
	}
	q.scores[id] = score
	q.calls++
	return nil
}

type memQuestions struct {
	questions []model.Question
	err       error
	calls     int
}

func (m *memQuestions) ListBySubject(ctx context.Context, subjectID, chapterID string) ([]model.Question, error) {
	m.calls++
	if m.err != nil {
		return nil, m.err
	}
	var out []model.Question
	for _, q := range m.questions {
		if q.SubjectID != subjectID {
			continue
		}
		if chapterID != "" && (q.ChapterID == nil || *q.ChapterID != chapterID) {
			continue
		}
		out = append(out, q)
	}
	return out, nil
}

func (m *memQuestions) ListByIDs(ctx context.Context, ids []string) ([]model.Question, error) {
	byID := map[string]model.Question{}
	for _, q := range m.questions {
		byID[q.ID] = q
	}
	var out []model.Question
	for _, id := range ids {
		if q, ok := byID[id]; ok {
			out = append(out, q)
		}
	}
	return out, nil
}

// fakeClock is a manually advanced clock.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type testEnv struct {
	svc      *ExamSessionService
	store    *memStore
	pointers *memPointers
	queue    *memAnswerQueue
	scores   *memScoreQueue
	syncer   *AnswerSyncer
	clock    *fakeClock
	identity *fakeIdentity
}

func newTestEnv() *testEnv {
	env := &testEnv{
		store:    newMemStore(),
		pointers: newMemPointers(),
		queue:    &memAnswerQueue{},
		scores:   &memScoreQueue{},
		clock:    newFakeClock(),
		identity: &fakeIdentity{id: "user-1"},
	}
	env.syncer = NewAnswerSyncer(env.store, env.queue, 1, time.Millisecond, zerolog.Nop())
	env.svc = NewExamSessionService(env.identity, env.store, env.pointers, env.syncer, env.scores, time.Minute, zerolog.Nop())
	env.svc.now = env.clock.Now

	n := 0
	env.svc.newID = func() string {
		n++
		return "session-" + strconv.Itoa(n)
	}
	return env
}

// flush waits until every queued answer write has been attempted.
func (e *testEnv) flush() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = e.syncer.Close(ctx)
}

func basicRequest() InitializeRequest {
	return InitializeRequest{
		SubjectID:       "math",
		DurationMinutes: 30,
		QuestionIDs:     []string{"q1", "q2", "q3"},
	}
}
