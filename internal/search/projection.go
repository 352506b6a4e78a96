package search

import (
	"context"
	"strings"

	"gemcast/internal/document"
)

// RevisionSource is the slice of the revision store the fallback searcher
// reads from.
type RevisionSource interface {
	ListRevisionsByOwner(ctx context.Context, userID string) ([]document.Revision, error)
}

// Projection searches a user's documents by title using the latest
// projection. It is used when Meilisearch is unavailable.
type Projection struct {
	source RevisionSource
}

func NewProjection(source RevisionSource) *Projection {
	return &Projection{source: source}
}

func (p *Projection) Search(ctx context.Context, q Query) ([]Result, int, error) {
	revs, err := p.source.ListRevisionsByOwner(ctx, q.UserID)
	if err != nil {
		return nil, 0, err
	}
	latest := document.Project(revs, document.Filter{Status: q.Status, Query: strings.TrimSpace(q.Text)})

	total := len(latest)
	latest = page(latest, q.Offset, limitOrDefault(q.Limit))

	results := make([]Result, 0, len(latest))
	for _, rev := range latest {
		results = append(results, Result{
			ID:      rev.ID,
			Title:   rev.Title,
			Snippet: truncate(rev.PlainText(), 160),
			Kind:    rev.Kind,
			Status:  string(rev.Metadata.Status),
		})
	}
	return results, total, nil
}

func limitOrDefault(limit int) int {
	if limit <= 0 {
		return 20
	}
	return limit
}

func page[T any](items []T, offset, limit int) []T {
	if offset < 0 {
		offset = 0
	}
	if offset >= len(items) {
		return nil
	}
	end := min(offset+limit, len(items))
	return items[offset:end]
}
