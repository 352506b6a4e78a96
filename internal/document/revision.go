// Package document defines document revisions and the latest-per-id
// projection used to list a user's documents.
package document

import (
	"errors"
	"fmt"
	"sort"
	"time"
)

// Kind is the content type of a document.
type Kind string

const (
	KindText  Kind = "text"
	KindCode  Kind = "code"
	KindImage Kind = "image"
	KindSheet Kind = "sheet"
	// KindRich documents hold serialized ProseMirror JSON.
	KindRich Kind = "rich"
)

// Kinds lists every valid Kind.
var Kinds = []Kind{KindText, KindCode, KindImage, KindSheet, KindRich}

func ParseKind(value string) (Kind, error) {
	for _, k := range Kinds {
		if string(k) == value {
			return k, nil
		}
	}
	return "", fmt.Errorf("unknown document kind %q", value)
}

// Revision is one immutable saved version of a logical document. The
// current state of a document is its newest revision.
type Revision struct {
	ID        string    `json:"id"`
	Seq       int64     `json:"seq"`
	CreatedAt time.Time `json:"createdAt"`
	Title     string    `json:"title"`
	Kind      Kind      `json:"kind"`
	Content   string    `json:"content"`
	Metadata  Metadata  `json:"metadata"`
	UserID    string    `json:"userId"`
}

// Newer reports whether r supersedes other: a later createdAt wins, and
// equal timestamps fall back to the store sequence number.
func (r Revision) Newer(other Revision) bool {
	if !r.CreatedAt.Equal(other.CreatedAt) {
		return r.CreatedAt.After(other.CreatedAt)
	}
	return r.Seq > other.Seq
}

// SortOldestFirst orders revisions by (createdAt, seq) ascending.
func SortOldestFirst(revs []Revision) {
	sort.SliceStable(revs, func(i, j int) bool {
		return revs[j].Newer(revs[i])
	})
}

// ErrNotFound is matched by every NotFoundError.
var ErrNotFound = errors.New("document not found")

// NotFoundError reports a logical document id with no revisions.
type NotFoundError struct {
	ID string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("document %s not found", e.ID)
}

func (e *NotFoundError) Is(target error) bool {
	return target == ErrNotFound
}
