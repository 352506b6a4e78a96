package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"gemcast/internal/agents"
	"gemcast/internal/auth"
	"gemcast/internal/authpw"
	"gemcast/internal/blob"
	"gemcast/internal/config"
	"gemcast/internal/document"
	"gemcast/internal/export"
	"gemcast/internal/gitrepo"
	"gemcast/internal/prosemirror"
	"gemcast/internal/search"
	"gemcast/internal/session"
	"gemcast/internal/store"
	"gemcast/internal/util"
)

type Session struct {
	AccessToken  string    `json:"accessToken"`
	RefreshToken string    `json:"refreshToken,omitempty"`
	UserID       string    `json:"userId"`
	Email        string    `json:"email,omitempty"`
	ExpiresAt    time.Time `json:"expiresAt"`
}

type dataStore interface {
	Ping(ctx context.Context) error
	AppendRevision(ctx context.Context, in store.RevisionInput) (store.RevisionRef, error)
	ListRevisions(ctx context.Context, id string) ([]document.Revision, error)
	ListRevisionsByOwner(ctx context.Context, userID string) ([]document.Revision, error)
	CreateUser(ctx context.Context, user store.User) error
	GetUserByEmail(ctx context.Context, email string) (store.User, error)
	GetUserByID(ctx context.Context, id string) (store.User, error)
}

type searchService interface {
	Search(ctx context.Context, q search.Query) (search.Response, error)
	IndexDocument(doc search.DocumentRecord)
	ReindexAll(documents []search.DocumentRecord)
}

type historyMirror interface {
	Record(rev document.Revision) (gitrepo.CommitInfo, error)
	History(documentID string, limit int) ([]gitrepo.CommitInfo, error)
}

// Dependencies are the collaborators of a Service. Store and Agents are
// required; the rest fall back to local implementations when nil.
type Dependencies struct {
	Store    dataStore
	Sessions session.Store
	Verifier auth.Verifier
	Agents   *agents.Registry
	Provider agents.ProviderConfig
	Schema   *prosemirror.Schema
	Search   searchService
	History  historyMirror
	Blobs    blob.Store
	Logger   *slog.Logger
}

type Service struct {
	cfg       config.Config
	store     dataStore
	sessions  session.Store
	verifier  auth.Verifier
	passwords *authpw.Service
	agents    *agents.Registry
	provider  agents.ProviderConfig
	schema    *prosemirror.Schema
	exporter  *export.Service
	search    searchService
	history   historyMirror
	blobs     blob.Store
	logger    *slog.Logger
	now       func() time.Time

	background sync.WaitGroup
}

func New(cfg config.Config, deps Dependencies) *Service {
	s := &Service{
		cfg:      cfg,
		store:    deps.Store,
		sessions: deps.Sessions,
		verifier: deps.Verifier,
		agents:   deps.Agents,
		provider: deps.Provider,
		schema:   deps.Schema,
		search:   deps.Search,
		history:  deps.History,
		blobs:    deps.Blobs,
		logger:   deps.Logger,
		now:      time.Now,
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.sessions == nil {
		if fallback, ok := deps.Store.(session.Store); ok {
			s.sessions = fallback
		}
	}
	if s.verifier == nil {
		s.verifier = auth.HMACVerifier{Secret: []byte(cfg.JWTSecret)}
	}
	if s.schema == nil {
		s.schema = prosemirror.DefaultSchema()
	}
	if s.search == nil {
		s.search = search.NewService(nil, search.NewProjection(deps.Store), s.logger)
	}
	if s.blobs == nil {
		s.blobs = blob.Inline{}
	}
	s.passwords = authpw.NewService(deps.Store)
	s.exporter = export.NewService(s.schema)
	return s
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

// Wait blocks until background indexing and mirroring have finished.
func (s *Service) Wait() {
	s.background.Wait()
}

func (s *Service) goBackground(name string, fn func() error) {
	s.background.Add(1)
	go func() {
		defer s.background.Done()
		if err := fn(); err != nil {
			s.logger.Warn("background task failed", "task", name, "error", err)
		}
	}()
}

func (s *Service) SignUp(ctx context.Context, creds authpw.Credentials) (Session, error) {
	user, err := s.passwords.SignUp(ctx, creds)
	if err != nil {
		return Session{}, err
	}
	s.logger.Info("user signed up", "user_id", user.ID)
	return s.issueSession(ctx, user)
}

func (s *Service) SignIn(ctx context.Context, creds authpw.Credentials) (Session, error) {
	user, err := s.passwords.SignIn(ctx, creds)
	if err != nil {
		return Session{}, err
	}
	s.reindexOwner(user.ID)
	return s.issueSession(ctx, user)
}

// Refresh rotates a refresh token: the old one is revoked and a new pair
// is issued.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (Session, error) {
	if refreshToken == "" {
		return Session{}, store.ErrSessionNotFound
	}
	tokenHash := auth.HashToken(refreshToken)
	owner, err := s.sessions.LookupRefreshSession(ctx, tokenHash)
	if err != nil {
		return Session{}, err
	}
	user, err := s.store.GetUserByID(ctx, owner.ID)
	if err != nil {
		if errors.Is(err, store.ErrUserNotFound) {
			return Session{}, store.ErrSessionNotFound
		}
		return Session{}, err
	}
	if err := s.sessions.RevokeRefreshSession(ctx, tokenHash); err != nil {
		return Session{}, err
	}
	return s.issueSession(ctx, user)
}

func (s *Service) issueSession(ctx context.Context, user store.User) (Session, error) {
	now := s.now()
	claims := auth.NewClaims(user.ID, user.Email, util.NewID("jti"), now, s.cfg.AccessTTL)
	token, err := auth.IssueToken([]byte(s.cfg.JWTSecret), claims)
	if err != nil {
		return Session{}, err
	}

	refresh, err := util.NewSecret()
	if err != nil {
		return Session{}, fmt.Errorf("generate refresh token: %w", err)
	}
	if err := s.sessions.SaveRefreshSession(ctx, auth.HashToken(refresh), user.ID, now.Add(s.cfg.RefreshTTL)); err != nil {
		return Session{}, err
	}

	return Session{
		AccessToken:  token,
		RefreshToken: refresh,
		UserID:       user.ID,
		Email:        user.Email,
		ExpiresAt:    claims.ExpiresAt.Time,
	}, nil
}

func (s *Service) SessionFromToken(token string) (Session, error) {
	identity, err := s.verifier.Verify(token)
	if err != nil {
		return Session{}, err
	}
	return Session{AccessToken: token, UserID: identity.UserID, Email: identity.Email}, nil
}

func (s *Service) Logout(ctx context.Context, refreshToken string) error {
	if refreshToken == "" {
		return nil
	}
	return s.sessions.RevokeRefreshSession(ctx, auth.HashToken(refreshToken))
}

// reindexOwner pushes the latest revision of every document the user owns
// to the search index, covering writes made while it was unreachable.
func (s *Service) reindexOwner(userID string) {
	s.goBackground("reindex", func() error {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		revs, err := s.store.ListRevisionsByOwner(ctx, userID)
		if err != nil {
			return err
		}
		latest := document.Latest(revs)
		records := make([]search.DocumentRecord, 0, len(latest))
		for _, rev := range latest {
			records = append(records, search.RecordFromRevision(rev))
		}
		s.search.ReindexAll(records)
		return nil
	})
}
