package search

import (
	"context"
	"log/slog"
)

// Service is the facade that tries Meilisearch first and falls back to the
// latest projection.
type Service struct {
	meili    *Meili
	fallback *Projection
	logger   *slog.Logger
}

// NewService creates a search service. meili may be nil if Meilisearch is not configured.
func NewService(meili *Meili, fallback *Projection, logger *slog.Logger) *Service {
	return &Service{meili: meili, fallback: fallback, logger: logger}
}

// Search tries Meilisearch if healthy, otherwise falls back to the
// projection.
func (s *Service) Search(ctx context.Context, q Query) (Response, error) {
	if s.meili != nil && s.meili.Healthy() {
		results, total, err := s.meili.Search(q)
		if err == nil {
			return Response{Results: nonNil(results), Total: total, Query: q.Text, Engine: "meilisearch"}, nil
		}
		s.logger.Warn("meilisearch error, falling back to projection", "error", err)
	}

	results, total, err := s.fallback.Search(ctx, q)
	if err != nil {
		return Response{}, err
	}
	return Response{Results: nonNil(results), Total: total, Query: q.Text, Engine: "projection"}, nil
}

// IndexDocument indexes a document (fire-and-forget to Meilisearch).
func (s *Service) IndexDocument(doc DocumentRecord) {
	if s.meili == nil || !s.meili.Healthy() {
		return
	}
	go func() {
		if err := s.meili.IndexDocument(doc); err != nil {
			s.logger.Error("index document", "document_id", doc.ID, "error", err)
		}
	}()
}

// ReindexAll pushes the given records to Meilisearch in one batch. Called
// at startup once the index is reachable.
func (s *Service) ReindexAll(documents []DocumentRecord) {
	if s.meili == nil || !s.meili.Healthy() || len(documents) == 0 {
		return
	}
	if err := s.meili.IndexDocuments(documents); err != nil {
		s.logger.Error("reindex documents", "count", len(documents), "error", err)
	}
}
