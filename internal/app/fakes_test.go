package app

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sort"
	"sync"
	"testing"
	"time"

	"gemcast/internal/agents"
	"gemcast/internal/auth"
	"gemcast/internal/config"
	"gemcast/internal/document"
	"gemcast/internal/gitrepo"
	"gemcast/internal/store"
)

const testSecret = "test-secret"

// fakeStore keeps revisions, users and refresh sessions in memory. Every
// append advances the clock by one minute.
type fakeStore struct {
	mu        sync.Mutex
	seq       int64
	clock     time.Time
	revisions []document.Revision
	users     map[string]store.User
	sessions  map[string]string
	pingErr   error
	appendErr error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		clock:    time.Date(2025, 5, 1, 8, 0, 0, 0, time.UTC),
		users:    make(map[string]store.User),
		sessions: make(map[string]string),
	}
}

func (f *fakeStore) Ping(context.Context) error { return f.pingErr }

func (f *fakeStore) AppendRevision(_ context.Context, in store.RevisionInput) (store.RevisionRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.appendErr != nil {
		return store.RevisionRef{}, f.appendErr
	}
	f.seq++
	f.clock = f.clock.Add(time.Minute)
	f.revisions = append(f.revisions, document.Revision{
		ID:        in.ID,
		Seq:       f.seq,
		CreatedAt: f.clock,
		Title:     in.Title,
		Kind:      in.Kind,
		Content:   in.Content,
		Metadata:  in.Metadata,
		UserID:    in.UserID,
	})
	return store.RevisionRef{ID: in.ID, Seq: f.seq, CreatedAt: f.clock}, nil
}

func (f *fakeStore) ListRevisions(_ context.Context, id string) ([]document.Revision, error) {
	return f.filter(func(r document.Revision) bool { return r.ID == id }), nil
}

func (f *fakeStore) ListRevisionsByOwner(_ context.Context, userID string) ([]document.Revision, error) {
	return f.filter(func(r document.Revision) bool { return r.UserID == userID }), nil
}

func (f *fakeStore) filter(keep func(document.Revision) bool) []document.Revision {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]document.Revision, 0)
	for _, r := range f.revisions {
		if keep(r) {
			out = append(out, r)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	return out
}

func (f *fakeStore) CreateUser(_ context.Context, user store.User) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, existing := range f.users {
		if existing.Email == user.Email {
			return store.ErrEmailTaken
		}
	}
	f.users[user.ID] = user
	return nil
}

func (f *fakeStore) GetUserByEmail(_ context.Context, email string) (store.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, u := range f.users {
		if u.Email == email {
			return u, nil
		}
	}
	return store.User{}, store.ErrUserNotFound
}

func (f *fakeStore) GetUserByID(_ context.Context, id string) (store.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[id]
	if !ok {
		return store.User{}, store.ErrUserNotFound
	}
	return u, nil
}

func (f *fakeStore) SaveRefreshSession(_ context.Context, tokenHash, userID string, _ time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sessions[tokenHash] = userID
	return nil
}

func (f *fakeStore) LookupRefreshSession(_ context.Context, tokenHash string) (store.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	userID, ok := f.sessions[tokenHash]
	if !ok {
		return store.User{}, store.ErrSessionNotFound
	}
	return store.User{ID: userID}, nil
}

func (f *fakeStore) RevokeRefreshSession(_ context.Context, tokenHash string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.sessions, tokenHash)
	return nil
}

type fakeMirror struct {
	mu       sync.Mutex
	recorded []int64
	err      error
}

func (m *fakeMirror) Record(rev document.Revision) (gitrepo.CommitInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return gitrepo.CommitInfo{}, m.err
	}
	m.recorded = append(m.recorded, rev.Seq)
	return gitrepo.CommitInfo{Hash: "abc1234", Author: rev.UserID}, nil
}

func (m *fakeMirror) History(documentID string, limit int) ([]gitrepo.CommitInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.recorded) == 0 {
		return nil, gitrepo.ErrNoHistory
	}
	out := make([]gitrepo.CommitInfo, 0, len(m.recorded))
	for i := len(m.recorded) - 1; i >= 0; i-- {
		out = append(out, gitrepo.CommitInfo{Hash: "abc1234", Message: "Revision", Author: "user-1"})
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (m *fakeMirror) seqs() []int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := append([]int64(nil), m.recorded...)
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

type testEnv struct {
	svc    *Service
	store  *fakeStore
	mirror *fakeMirror
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	registry, err := agents.Load()
	if err != nil {
		t.Fatalf("agents.Load() error = %v", err)
	}
	return newTestEnvWithRegistry(t, registry)
}

func newTestEnvWithRegistry(t *testing.T, registry *agents.Registry) testEnv {
	t.Helper()
	provider, err := registry.Provider(agents.ProviderMock)
	if err != nil {
		t.Fatalf("Provider() error = %v", err)
	}
	fs := newFakeStore()
	mirror := &fakeMirror{}
	svc := New(config.Config{
		JWTSecret:  testSecret,
		AccessTTL:  time.Hour,
		RefreshTTL: 24 * time.Hour,
	}, Dependencies{
		Store:    fs,
		Agents:   registry,
		Provider: provider,
		History:  mirror,
		Logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	t.Cleanup(svc.Wait)
	return testEnv{svc: svc, store: fs, mirror: mirror}
}

func accessToken(t *testing.T, userID string) string {
	t.Helper()
	token, err := auth.IssueToken([]byte(testSecret), auth.NewClaims(userID, userID+"@example.com", "jti-"+userID, time.Now(), time.Hour))
	if err != nil {
		t.Fatalf("IssueToken() error = %v", err)
	}
	return token
}

func requireDomainError(t *testing.T, err error, status int, code string) {
	t.Helper()
	var domainErr *DomainError
	if !errors.As(err, &domainErr) {
		t.Fatalf("expected DomainError %s, got %v", code, err)
	}
	if domainErr.Status != status || domainErr.Code != code {
		t.Fatalf("DomainError = %d %s, want %d %s", domainErr.Status, domainErr.Code, status, code)
	}
}
