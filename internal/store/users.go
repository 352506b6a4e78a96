package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"
)

func (s *SQLStore) CreateUser(ctx context.Context, user User) error {
	if user.CreatedAt.IsZero() {
		user.CreatedAt = s.now().UTC().Truncate(time.Microsecond)
	}
	query, args, err := s.sb.Insert("users").
		Columns("id", "email", "password_hash", "created_at").
		Values(user.ID, normalizeEmail(user.Email), user.PasswordHash, user.CreatedAt).
		ToSql()
	if err != nil {
		return fmt.Errorf("build create user: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		if isUniqueViolation(err) {
			return ErrEmailTaken
		}
		return storageError("create user", err)
	}
	return nil
}

func (s *SQLStore) GetUserByEmail(ctx context.Context, email string) (User, error) {
	return s.getUser(ctx, sq.Eq{"email": normalizeEmail(email)})
}

func (s *SQLStore) GetUserByID(ctx context.Context, id string) (User, error) {
	return s.getUser(ctx, sq.Eq{"id": id})
}

func (s *SQLStore) getUser(ctx context.Context, where sq.Sqlizer) (User, error) {
	query, args, err := s.sb.Select("id", "email", "password_hash", "created_at").
		From("users").
		Where(where).
		ToSql()
	if err != nil {
		return User{}, fmt.Errorf("build get user: %w", err)
	}
	var user User
	if err := s.db.GetContext(ctx, &user, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return User{}, ErrUserNotFound
		}
		return User{}, storageError("get user", err)
	}
	return user, nil
}

// SaveRefreshSession records a refresh token hash. Used when Redis is not
// configured.
func (s *SQLStore) SaveRefreshSession(ctx context.Context, tokenHash, userID string, expiresAt time.Time) error {
	query, args, err := s.sb.Insert("refresh_sessions").
		Columns("token_hash", "user_id", "expires_at", "created_at").
		Values(tokenHash, userID, expiresAt.UTC(), s.now().UTC()).
		ToSql()
	if err != nil {
		return fmt.Errorf("build save refresh session: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return storageError("save refresh session", err)
	}
	return nil
}

func (s *SQLStore) LookupRefreshSession(ctx context.Context, tokenHash string) (User, error) {
	query, args, err := s.sb.Select("u.id", "u.email", "u.password_hash", "u.created_at").
		From("refresh_sessions rs").
		Join("users u ON u.id = rs.user_id").
		Where(sq.Eq{"rs.token_hash": tokenHash, "rs.revoked_at": nil}).
		Where(sq.Gt{"rs.expires_at": s.now().UTC()}).
		ToSql()
	if err != nil {
		return User{}, fmt.Errorf("build lookup refresh session: %w", err)
	}
	var user User
	if err := s.db.GetContext(ctx, &user, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return User{}, ErrSessionNotFound
		}
		return User{}, storageError("lookup refresh session", err)
	}
	return user, nil
}

func (s *SQLStore) RevokeRefreshSession(ctx context.Context, tokenHash string) error {
	query, args, err := s.sb.Update("refresh_sessions").
		Set("revoked_at", s.now().UTC()).
		Where(sq.Eq{"token_hash": tokenHash, "revoked_at": nil}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build revoke refresh session: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return storageError("revoke refresh session", err)
	}
	return nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
