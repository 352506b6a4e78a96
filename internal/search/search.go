package search

import (
	"unicode/utf8"

	"gemcast/internal/document"
)

// Result is a single search hit returned to the caller.
type Result struct {
	ID      string        `json:"id"`
	Title   string        `json:"title"`
	Snippet string        `json:"snippet"`
	Kind    document.Kind `json:"kind"`
	Status  string        `json:"status"`
}

// Query describes a search request. Results are always scoped to UserID.
type Query struct {
	Text   string
	UserID string
	Status document.Status // empty = all
	Limit  int
	Offset int
}

// Response is the envelope returned by the search endpoint.
type Response struct {
	Results []Result `json:"results"`
	Total   int      `json:"total"`
	Query   string   `json:"query"`
	Engine  string   `json:"engine"`
}

// DocumentRecord is the data we index for the latest revision of a
// document.
type DocumentRecord struct {
	ID        string `json:"id"`
	Title     string `json:"title"`
	Content   string `json:"content"`
	Kind      string `json:"kind"`
	Type      string `json:"type"`
	Status    string `json:"status"`
	UserID    string `json:"userId"`
	UpdatedAt int64  `json:"updatedAt"`
}

const maxIndexedContent = 20000

// RecordFromRevision builds the index record for a document's latest
// revision.
func RecordFromRevision(rev document.Revision) DocumentRecord {
	return DocumentRecord{
		ID:        rev.ID,
		Title:     rev.Title,
		Content:   truncate(rev.PlainText(), maxIndexedContent),
		Kind:      string(rev.Kind),
		Type:      rev.Metadata.Type,
		Status:    string(rev.Metadata.EffectiveStatus()),
		UserID:    rev.UserID,
		UpdatedAt: rev.CreatedAt.Unix(),
	}
}

func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	s = s[:limit]
	for !utf8.ValidString(s) {
		s = s[:len(s)-1]
	}
	return s
}

func nonNil(r []Result) []Result {
	if r == nil {
		return []Result{}
	}
	return r
}
