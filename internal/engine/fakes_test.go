package engine

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/genricoloni/presenced/internal/domain"
)

// mockConfig implements domain.Config for tests
type mockConfig struct {
	alwaysPublish bool
	autoConnect   bool
}

func (m *mockConfig) GetConfigFile() string                   { return "config.json" }
func (m *mockConfig) GetListenAddr() string                   { return "127.0.0.1:0" }
func (m *mockConfig) GetRefreshInterval() time.Duration       { return 5 * time.Second }
func (m *mockConfig) GetSourceRefreshInterval() time.Duration { return 5 * time.Second }
func (m *mockConfig) GetAutoSaveInterval() time.Duration      { return 30 * time.Second }
func (m *mockConfig) GetAlwaysPublish() bool                  { return m.alwaysPublish }
func (m *mockConfig) GetAutoConnect() bool                    { return m.autoConnect }

// fakeSource is an in-memory domain.MediaSource
type fakeSource struct {
	mu      sync.Mutex
	sources []domain.SourceID
	meta    map[domain.SourceID]domain.MediaMetadata
	listErr error
	events  chan domain.SourceEvent
}

func newFakeSource(ids ...domain.SourceID) *fakeSource {
	return &fakeSource{
		sources: ids,
		meta:    make(map[domain.SourceID]domain.MediaMetadata),
		events:  make(chan domain.SourceEvent, 16),
	}
}

func (f *fakeSource) Start(ctx context.Context) error { return nil }
func (f *fakeSource) Stop(ctx context.Context) error  { return nil }

func (f *fakeSource) Events() <-chan domain.SourceEvent { return f.events }

func (f *fakeSource) ListSources(ctx context.Context) ([]domain.SourceID, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listErr != nil {
		return nil, &domain.QueryError{Err: f.listErr}
	}
	return append([]domain.SourceID(nil), f.sources...), nil
}

func (f *fakeSource) ReadMetadata(ctx context.Context, id domain.SourceID) (domain.MediaMetadata, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	meta, ok := f.meta[id]
	if !ok {
		return domain.MediaMetadata{}, &domain.QueryError{Source: id, Err: errors.New("no such object")}
	}
	return meta, nil
}

func (f *fakeSource) setSources(ids ...domain.SourceID) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sources = ids
}

func (f *fakeSource) setMeta(id domain.SourceID, meta domain.MediaMetadata) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.meta[id] = meta
}

// fakeSink hands out fakeSessions
type fakeSink struct {
	mu         sync.Mutex
	connectErr error
	publishErr error // preset on new sessions
	appIDs     []string
	sessions   []*fakeSession
}

func (f *fakeSink) Connect(ctx context.Context, appID string) (domain.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.appIDs = append(f.appIDs, appID)
	if f.connectErr != nil {
		return nil, &domain.ConnectError{AppID: appID, Err: f.connectErr}
	}
	s := &fakeSession{publishErr: f.publishErr}
	f.sessions = append(f.sessions, s)
	return s, nil
}

func (f *fakeSink) connects() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.appIDs)
}

func (f *fakeSink) session(i int) *fakeSession {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sessions[i]
}

// fakeSession records everything sent to it
type fakeSession struct {
	mu         sync.Mutex
	published  []domain.PresenceState
	clears     int
	closed     bool
	publishErr error
	clearErr   error
}

func (s *fakeSession) Publish(ctx context.Context, state domain.PresenceState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.publishErr != nil {
		return &domain.PublishError{Op: "publish", Err: s.publishErr}
	}
	s.published = append(s.published, state)
	return nil
}

func (s *fakeSession) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.clearErr != nil {
		return &domain.PublishError{Op: "clear", Err: s.clearErr}
	}
	s.clears++
	return nil
}

func (s *fakeSession) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *fakeSession) publishes() []domain.PresenceState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.PresenceState(nil), s.published...)
}

func (s *fakeSession) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *fakeSession) setPublishErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.publishErr = err
}

// memStore is an in-memory domain.FormStore
type memStore struct {
	mu      sync.Mutex
	form    domain.Form
	loadErr error
	saveErr error
	saves   int
}

func (m *memStore) Load() (domain.Form, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.loadErr != nil {
		return domain.DefaultForm(), m.loadErr
	}
	return m.form, nil
}

func (m *memStore) Save(form domain.Form) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.saveErr != nil {
		return m.saveErr
	}
	m.form = form
	m.saves++
	return nil
}

func (m *memStore) saveCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saves
}

// fakeClock is a settable time source
type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Add(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}
