package search

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	meili "github.com/meilisearch/meilisearch-go"

	"gemcast/internal/document"
)

type fakeSource struct {
	revs []document.Revision
	err  error
}

func (f fakeSource) ListRevisionsByOwner(ctx context.Context, userID string) ([]document.Revision, error) {
	if f.err != nil {
		return nil, f.err
	}
	var out []document.Revision
	for _, r := range f.revs {
		if r.UserID == userID {
			out = append(out, r)
		}
	}
	return out, nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

var t0 = time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)

func testRevisions() []document.Revision {
	return []document.Revision{
		{ID: "a", Seq: 1, CreatedAt: t0, Title: "Podcast plan", Kind: document.KindText, Content: "draft", UserID: "u1"},
		{ID: "a", Seq: 2, CreatedAt: t0.Add(time.Minute), Title: "Podcast plan", Kind: document.KindText, Content: "final plan", UserID: "u1"},
		{ID: "b", Seq: 3, CreatedAt: t0, Title: "Guest dossier", Kind: document.KindText, UserID: "u1", Metadata: document.Metadata{Status: document.StatusArchived}},
		{ID: "c", Seq: 4, CreatedAt: t0, Title: "Podcast budget", Kind: document.KindText, UserID: "u2"},
	}
}

func TestProjectionSearch(t *testing.T) {
	p := NewProjection(fakeSource{revs: testRevisions()})

	results, total, err := p.Search(context.Background(), Query{Text: "PODCAST", UserID: "u1"})
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if total != 1 || len(results) != 1 {
		t.Fatalf("expected one hit, got %d (%+v)", total, results)
	}
	if results[0].ID != "a" || results[0].Snippet != "final plan" || results[0].Status != "active" {
		t.Fatalf("unexpected result: %+v", results[0])
	}

	results, _, err = p.Search(context.Background(), Query{UserID: "u1", Status: document.StatusArchived})
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if len(results) != 1 || results[0].ID != "b" {
		t.Fatalf("archived results = %+v", results)
	}
}

func TestProjectionSearchPaging(t *testing.T) {
	p := NewProjection(fakeSource{revs: testRevisions()})
	results, total, err := p.Search(context.Background(), Query{UserID: "u1", Limit: 1, Offset: 1})
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if total != 2 || len(results) != 1 || results[0].ID != "b" {
		t.Fatalf("page = %+v total %d", results, total)
	}
	results, _, _ = p.Search(context.Background(), Query{UserID: "u1", Offset: 5})
	if len(results) != 0 {
		t.Fatalf("expected empty page, got %+v", results)
	}
}

func TestServiceFallsBackWhenMeiliIsDown(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	m := NewMeili(server.URL, "key", discardLogger())
	defer m.Close()
	if m.Healthy() {
		t.Fatal("expected meilisearch to be unhealthy")
	}

	svc := NewService(m, NewProjection(fakeSource{revs: testRevisions()}), discardLogger())
	resp, err := svc.Search(context.Background(), Query{Text: "dossier", UserID: "u1"})
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if resp.Engine != "projection" || resp.Total != 1 || resp.Results[0].ID != "b" {
		t.Fatalf("unexpected response: %+v", resp)
	}

	// Indexing against an unhealthy index is a no-op.
	svc.IndexDocument(DocumentRecord{ID: "a"})
}

func TestServiceSurfacesFallbackErrors(t *testing.T) {
	boom := errors.New("db down")
	svc := NewService(nil, NewProjection(fakeSource{err: boom}), discardLogger())
	if _, err := svc.Search(context.Background(), Query{UserID: "u1"}); !errors.Is(err, boom) {
		t.Fatalf("expected fallback error, got %v", err)
	}
	resp, err := NewService(nil, NewProjection(fakeSource{}), discardLogger()).Search(context.Background(), Query{UserID: "nobody"})
	if err != nil || resp.Results == nil || len(resp.Results) != 0 {
		t.Fatalf("expected empty non-nil results, got %+v, %v", resp, err)
	}
}

func TestHitToResultPrefersFormattedFields(t *testing.T) {
	hit := meili.Hit{
		"id":         json.RawMessage(`"doc-1"`),
		"title":      json.RawMessage(`"Podcast plan"`),
		"content":    json.RawMessage(`"full content"`),
		"kind":       json.RawMessage(`"rich"`),
		"status":     json.RawMessage(`"active"`),
		"_formatted": json.RawMessage(`{"title":"<mark>Podcast</mark> plan","content":"…full…","updatedAt":"12"}`),
	}
	got := hitToResult(hit)
	want := Result{ID: "doc-1", Title: "<mark>Podcast</mark> plan", Snippet: "…full…", Kind: document.KindRich, Status: "active"}
	if got != want {
		t.Fatalf("hitToResult = %+v, want %+v", got, want)
	}
}

func TestRecordFromRevision(t *testing.T) {
	rev := document.Revision{
		ID:        "doc-1",
		CreatedAt: t0,
		Title:     "Show notes",
		Kind:      document.KindRich,
		Content:   `{"type":"doc","content":[{"type":"paragraph","content":[{"type":"text","text":"Hello"}]}]}`,
		Metadata:  document.Metadata{Type: "show_notes"},
		UserID:    "u1",
	}
	rec := RecordFromRevision(rev)
	if rec.Content != "Hello" || rec.Status != "active" || rec.Type != "show_notes" || rec.UpdatedAt != t0.Unix() {
		t.Fatalf("unexpected record: %+v", rec)
	}

	long := strings.Repeat("é", maxIndexedContent)
	if got := truncate(long, maxIndexedContent); len(got) > maxIndexedContent || !strings.HasPrefix(long, got) {
		t.Fatalf("truncate produced %d bytes", len(got))
	}
}
