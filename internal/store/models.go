package store

import (
	"time"

	"gemcast/internal/document"
)

type User struct {
	ID           string    `db:"id"`
	Email        string    `db:"email"`
	PasswordHash string    `db:"password_hash"`
	CreatedAt    time.Time `db:"created_at"`
}

// RevisionInput is the data for one new revision. The store assigns the
// sequence number and timestamp.
type RevisionInput struct {
	ID       string
	Title    string
	Kind     document.Kind
	Content  string
	Metadata document.Metadata
	UserID   string
}

// RevisionRef identifies an appended revision.
type RevisionRef struct {
	ID        string    `json:"id"`
	Seq       int64     `json:"seq"`
	CreatedAt time.Time `json:"createdAt"`
}

type revisionRow struct {
	Seq       int64     `db:"seq"`
	ID        string    `db:"id"`
	CreatedAt time.Time `db:"created_at"`
	Title     string    `db:"title"`
	Kind      string    `db:"kind"`
	Content   string    `db:"content"`
	Metadata  string    `db:"metadata"`
	UserID    string    `db:"user_id"`
}
