package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/jmoiron/sqlx"

	"gemcast/internal/document"
)

var revisionColumns = []string{"seq", "id", "created_at", "title", "kind", "content", "metadata", "user_id"}

// SQLStore persists revisions and accounts in Postgres or SQLite.
// Revisions are only ever inserted.
type SQLStore struct {
	db  *sqlx.DB
	sb  sq.StatementBuilderType
	now func() time.Time
}

func NewSQLStore(db *sqlx.DB) *SQLStore {
	return &SQLStore{
		db:  db,
		sb:  statementBuilder(db),
		now: time.Now,
	}
}

func (s *SQLStore) DB() *sqlx.DB {
	return s.db
}

func (s *SQLStore) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return storageError("ping", err)
	}
	return nil
}

// AppendRevision inserts one revision row in a single statement.
func (s *SQLStore) AppendRevision(ctx context.Context, in RevisionInput) (RevisionRef, error) {
	if in.ID == "" || in.UserID == "" {
		return RevisionRef{}, fmt.Errorf("append revision: id and user id are required")
	}
	metadata, err := json.Marshal(in.Metadata)
	if err != nil {
		return RevisionRef{}, fmt.Errorf("marshal metadata: %w", err)
	}
	createdAt := s.now().UTC().Truncate(time.Microsecond)

	query, args, err := s.sb.Insert("document_revisions").
		Columns("id", "created_at", "title", "kind", "content", "metadata", "user_id").
		Values(in.ID, createdAt, in.Title, string(in.Kind), in.Content, string(metadata), in.UserID).
		Suffix("RETURNING seq").
		ToSql()
	if err != nil {
		return RevisionRef{}, fmt.Errorf("build append revision: %w", err)
	}

	var seq int64
	if err := s.db.QueryRowxContext(ctx, query, args...).Scan(&seq); err != nil {
		return RevisionRef{}, storageError("append revision", err)
	}
	return RevisionRef{ID: in.ID, Seq: seq, CreatedAt: createdAt}, nil
}

// ListRevisions returns every revision of a logical document, oldest first.
// An unknown id yields an empty slice.
func (s *SQLStore) ListRevisions(ctx context.Context, id string) ([]document.Revision, error) {
	return s.selectRevisions(ctx, "list revisions", sq.Eq{"id": id})
}

// ListRevisionsByOwner returns every revision of every document owned by
// userID, oldest first.
func (s *SQLStore) ListRevisionsByOwner(ctx context.Context, userID string) ([]document.Revision, error) {
	return s.selectRevisions(ctx, "list revisions by owner", sq.Eq{"user_id": userID})
}

func (s *SQLStore) selectRevisions(ctx context.Context, op string, where sq.Sqlizer) ([]document.Revision, error) {
	query, args, err := s.sb.Select(revisionColumns...).
		From("document_revisions").
		Where(where).
		OrderBy("created_at ASC", "seq ASC").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build %s: %w", op, err)
	}

	var rows []revisionRow
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, storageError(op, err)
	}

	out := make([]document.Revision, 0, len(rows))
	for _, row := range rows {
		rev, err := row.revision()
		if err != nil {
			return nil, storageError(op, err)
		}
		out = append(out, rev)
	}
	document.SortOldestFirst(out)
	return out, nil
}

func (r revisionRow) revision() (document.Revision, error) {
	var metadata document.Metadata
	if r.Metadata != "" {
		if err := json.Unmarshal([]byte(r.Metadata), &metadata); err != nil {
			return document.Revision{}, fmt.Errorf("decode metadata of %s#%d: %w", r.ID, r.Seq, err)
		}
	}
	return document.Revision{
		ID:        r.ID,
		Seq:       r.Seq,
		CreatedAt: r.CreatedAt.UTC(),
		Title:     r.Title,
		Kind:      document.Kind(r.Kind),
		Content:   r.Content,
		Metadata:  metadata,
		UserID:    r.UserID,
	}, nil
}
