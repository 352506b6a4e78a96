package app

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"reflect"
	"strings"
	"testing"

	"gemcast/internal/agents"
	"gemcast/internal/authpw"
	"gemcast/internal/document"
	"gemcast/internal/prosemirror"
	"gemcast/internal/store"
)

func saveText(t *testing.T, svc *Service, userID, id, title, content string) document.Revision {
	t.Helper()
	rev, err := svc.SaveDocument(context.Background(), userID, SaveDocumentInput{
		ID:      id,
		Title:   title,
		Kind:    "text",
		Content: content,
	})
	if err != nil {
		t.Fatalf("SaveDocument() error = %v", err)
	}
	return rev
}

func TestSaveDocumentAssignsIDAndAppends(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	first := saveText(t, env.svc, "user-1", "", "Episode brief", "draft")
	if first.ID == "" || first.Seq != 1 {
		t.Fatalf("first revision = %+v", first)
	}
	second := saveText(t, env.svc, "user-1", first.ID, "Episode brief", "final")
	if second.ID != first.ID || second.Seq != 2 {
		t.Fatalf("second revision = %+v", second)
	}

	latest, err := env.svc.GetDocument(ctx, "user-1", first.ID)
	if err != nil {
		t.Fatalf("GetDocument() error = %v", err)
	}
	if latest.Content != "final" || latest.Metadata.Status != document.StatusActive {
		t.Fatalf("latest = %+v", latest)
	}
}

func TestSaveDocumentValidation(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	cases := []struct {
		name string
		in   SaveDocumentInput
		code string
	}{
		{name: "missing title", in: SaveDocumentInput{Kind: "text"}, code: "INVALID_DOCUMENT"},
		{name: "unknown kind", in: SaveDocumentInput{Title: "x", Kind: "video"}, code: "INVALID_DOCUMENT"},
		{name: "path id", in: SaveDocumentInput{ID: "../etc", Title: "x", Kind: "text"}, code: "INVALID_DOCUMENT"},
		{name: "unknown metadata key", in: SaveDocumentInput{Title: "x", Kind: "text", Metadata: json.RawMessage(`{"colour":"red"}`)}, code: "INVALID_METADATA"},
		{name: "bad status", in: SaveDocumentInput{Title: "x", Kind: "text", Metadata: json.RawMessage(`{"status":"deleted"}`)}, code: "INVALID_METADATA"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := env.svc.SaveDocument(ctx, "user-1", tc.in)
			requireDomainError(t, err, http.StatusBadRequest, tc.code)
		})
	}
}

func TestSaveRichDocumentValidatesTree(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.svc.SaveDocument(context.Background(), "user-1", SaveDocumentInput{
		Title:   "Rich",
		Kind:    "rich",
		Content: `{"type":"doc","content":[{"type":"spaceship"}]}`,
	})
	var invalid *prosemirror.InvalidTreeError
	if !errors.As(err, &invalid) {
		t.Fatalf("expected InvalidTreeError, got %v", err)
	}
	if len(env.store.revisions) != 0 {
		t.Fatalf("invalid tree was stored")
	}
}

func TestSaveDocumentRejectsOtherOwner(t *testing.T) {
	env := newTestEnv(t)
	rev := saveText(t, env.svc, "user-1", "", "Mine", "x")

	_, err := env.svc.SaveDocument(context.Background(), "user-2", SaveDocumentInput{ID: rev.ID, Title: "Theirs", Kind: "text"})
	requireDomainError(t, err, http.StatusForbidden, "FORBIDDEN")
}

func TestArchiveAppendsExactlyOneRevision(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	rev := saveText(t, env.svc, "user-1", "", "Guest dossier", "bio")

	before, err := env.svc.History(ctx, "user-1", rev.ID)
	if err != nil {
		t.Fatalf("History() error = %v", err)
	}

	archived, err := env.svc.ArchiveDocument(ctx, "user-1", ArchiveInput{ID: rev.ID, Status: "archived"})
	if err != nil {
		t.Fatalf("ArchiveDocument() error = %v", err)
	}
	if archived.Metadata.Status != document.StatusArchived || archived.Content != "bio" {
		t.Fatalf("archived revision = %+v", archived)
	}

	after, err := env.svc.History(ctx, "user-1", rev.ID)
	if err != nil {
		t.Fatalf("History() error = %v", err)
	}
	if len(after) != len(before)+1 {
		t.Fatalf("history grew from %d to %d, want +1", len(before), len(after))
	}
	if !reflect.DeepEqual(after[0], before[0]) {
		t.Fatalf("prior revision changed: %+v -> %+v", before[0], after[0])
	}

	active, err := env.svc.ListDocuments(ctx, "user-1", "", "")
	if err != nil {
		t.Fatalf("ListDocuments() error = %v", err)
	}
	if len(active) != 0 {
		t.Fatalf("active list = %+v, want empty", active)
	}
	archivedList, err := env.svc.ListDocuments(ctx, "user-1", "archived", "")
	if err != nil {
		t.Fatalf("ListDocuments(archived) error = %v", err)
	}
	if len(archivedList) != 1 || archivedList[0].Seq != archived.Seq {
		t.Fatalf("archived list = %+v", archivedList)
	}

	restored, err := env.svc.ArchiveDocument(ctx, "user-1", ArchiveInput{ID: rev.ID, Status: "active"})
	if err != nil {
		t.Fatalf("ArchiveDocument(active) error = %v", err)
	}
	if restored.Metadata.Status != document.StatusActive {
		t.Fatalf("restored status = %q", restored.Metadata.Status)
	}
}

func TestArchiveErrors(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	rev := saveText(t, env.svc, "user-1", "", "Notes", "x")

	_, err := env.svc.ArchiveDocument(ctx, "user-1", ArchiveInput{ID: rev.ID, Status: "deleted"})
	requireDomainError(t, err, http.StatusBadRequest, "INVALID_ARCHIVE_REQUEST")

	_, err = env.svc.ArchiveDocument(ctx, "user-1", ArchiveInput{Status: "archived"})
	requireDomainError(t, err, http.StatusBadRequest, "INVALID_ARCHIVE_REQUEST")

	_, err = env.svc.ArchiveDocument(ctx, "user-1", ArchiveInput{ID: "missing", Status: "archived"})
	if !errors.Is(err, document.ErrNotFound) {
		t.Fatalf("unknown id error = %v, want ErrNotFound", err)
	}

	_, err = env.svc.ArchiveDocument(ctx, "user-2", ArchiveInput{ID: rev.ID, Status: "archived"})
	requireDomainError(t, err, http.StatusForbidden, "FORBIDDEN")
}

func TestReadsHideOtherOwnersDocuments(t *testing.T) {
	env := newTestEnv(t)
	rev := saveText(t, env.svc, "user-1", "", "Private", "x")

	if _, err := env.svc.GetDocument(context.Background(), "user-2", rev.ID); !errors.Is(err, document.ErrNotFound) {
		t.Fatalf("GetDocument() error = %v, want ErrNotFound", err)
	}
	docs, err := env.svc.ListDocuments(context.Background(), "user-2", "all", "")
	if err != nil {
		t.Fatalf("ListDocuments() error = %v", err)
	}
	if len(docs) != 0 {
		t.Fatalf("user-2 sees %d documents", len(docs))
	}
}

func TestListDocumentsFilters(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	plan := saveText(t, env.svc, "user-1", "", "Podcast Plan", "x")
	saveText(t, env.svc, "user-1", "", "Notes", "y")
	if _, err := env.svc.ArchiveDocument(ctx, "user-1", ArchiveInput{ID: plan.ID, Status: "archived"}); err != nil {
		t.Fatalf("ArchiveDocument() error = %v", err)
	}

	all, err := env.svc.ListDocuments(ctx, "user-1", "all", "")
	if err != nil {
		t.Fatalf("ListDocuments(all) error = %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("all = %d documents, want 2", len(all))
	}
	matched, err := env.svc.ListDocuments(ctx, "user-1", "all", "PLAN")
	if err != nil {
		t.Fatalf("ListDocuments(q) error = %v", err)
	}
	if len(matched) != 1 || matched[0].ID != plan.ID {
		t.Fatalf("query result = %+v", matched)
	}

	_, err = env.svc.ListDocuments(ctx, "user-1", "deleted", "")
	requireDomainError(t, err, http.StatusBadRequest, "INVALID_STATUS")
}

func TestDiffDocumentDefaultsToPreviousRevision(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	rev := saveText(t, env.svc, "user-1", "", "Script", "hello world")
	saveText(t, env.svc, "user-1", rev.ID, "Script", "hello there")

	result, err := env.svc.DiffDocument(ctx, "user-1", rev.ID, 0, 0)
	if err != nil {
		t.Fatalf("DiffDocument() error = %v", err)
	}
	if result.From != 1 || result.To != 2 {
		t.Fatalf("diff range = %d..%d, want 1..2", result.From, result.To)
	}

	schema := prosemirror.DefaultSchema()
	deleted := schema.PlainText(prosemirror.DropMarked(result.Merged, prosemirror.MarkInserted))
	inserted := schema.PlainText(prosemirror.DropMarked(result.Merged, prosemirror.MarkDeleted))
	if deleted != "hello world" || inserted != "hello there" {
		t.Fatalf("round trip = %q / %q", deleted, inserted)
	}
	if !strings.Contains(result.HTML, "<del") || !strings.Contains(result.HTML, "<ins") {
		t.Fatalf("diff html missing marks: %s", result.HTML)
	}

	same, err := env.svc.DiffDocument(ctx, "user-1", rev.ID, 2, 2)
	if err != nil {
		t.Fatalf("DiffDocument(2,2) error = %v", err)
	}
	if strings.Contains(same.HTML, "<del") || strings.Contains(same.HTML, "<ins") {
		t.Fatalf("no-op diff has marks: %s", same.HTML)
	}

	_, err = env.svc.DiffDocument(ctx, "user-1", rev.ID, 9, 0)
	requireDomainError(t, err, http.StatusNotFound, "REVISION_NOT_FOUND")
}

func TestDiffDocumentRejectsImages(t *testing.T) {
	env := newTestEnv(t)
	rev, err := env.svc.SaveDocument(context.Background(), "user-1", SaveDocumentInput{Title: "Cover", Kind: "image", Content: "aGVsbG8="})
	if err != nil {
		t.Fatalf("SaveDocument() error = %v", err)
	}
	_, err = env.svc.DiffDocument(context.Background(), "user-1", rev.ID, 0, 0)
	requireDomainError(t, err, http.StatusUnprocessableEntity, "DIFF_UNSUPPORTED")
}

func TestDiffTrees(t *testing.T) {
	env := newTestEnv(t)
	merged, err := env.svc.DiffTrees(DiffTreesInput{
		Old: json.RawMessage(`{"type":"doc","content":[{"type":"paragraph","content":[{"type":"text","text":"a b"}]}]}`),
		New: json.RawMessage(`{"type":"doc","content":[{"type":"paragraph","content":[{"type":"text","text":"a c"}]}]}`),
	})
	if err != nil {
		t.Fatalf("DiffTrees() error = %v", err)
	}
	if got := prosemirror.DefaultSchema().PlainText(merged); got != "a bc" {
		t.Fatalf("merged text = %q, want %q", got, "a bc")
	}

	_, err = env.svc.DiffTrees(DiffTreesInput{Old: json.RawMessage(`{}`)})
	requireDomainError(t, err, http.StatusBadRequest, "INVALID_BODY")

	_, err = env.svc.DiffTrees(DiffTreesInput{
		Schema: json.RawMessage(`{"nodes":{"doc":{"content":["paragraph"]},"paragraph":{"content":["text"]},"text":{"text":true}}}`),
		Old:    json.RawMessage(`{"type":"doc"}`),
		New:    json.RawMessage(`{"type":"doc"}`),
	})
	var mismatch *prosemirror.SchemaMismatchError
	if !errors.As(err, &mismatch) {
		t.Fatalf("expected SchemaMismatchError, got %v", err)
	}
}

func TestExportDocumentFormats(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	rev := saveText(t, env.svc, "user-1", "", "Show Notes", "first line")
	saveText(t, env.svc, "user-1", rev.ID, "Show Notes", "second line")

	html, err := env.svc.ExportDocument(ctx, "user-1", rev.ID, "html", 0, 0)
	if err != nil {
		t.Fatalf("ExportDocument(html) error = %v", err)
	}
	if !strings.Contains(string(html.Data), "second line") || html.Filename != "Show-Notes.html" {
		t.Fatalf("html export = %s (%s)", html.Data, html.Filename)
	}

	old, err := env.svc.ExportDocument(ctx, "user-1", rev.ID, "md", 1, 0)
	if err != nil {
		t.Fatalf("ExportDocument(md) error = %v", err)
	}
	if !strings.Contains(string(old.Data), "first line") {
		t.Fatalf("markdown export of seq 1 = %s", old.Data)
	}

	compared, err := env.svc.ExportDocument(ctx, "user-1", rev.ID, "html", 0, 1)
	if err != nil {
		t.Fatalf("ExportDocument(compare) error = %v", err)
	}
	if !strings.Contains(string(compared.Data), "<del") {
		t.Fatalf("compare export has no deletions: %s", compared.Data)
	}

	if _, err := env.svc.ExportDocument(ctx, "user-1", rev.ID, "odt", 0, 0); err == nil {
		t.Fatal("expected unsupported format error")
	}
}

func TestSearchFallsBackToProjection(t *testing.T) {
	env := newTestEnv(t)
	saveText(t, env.svc, "user-1", "", "Guest dossier", "x")
	saveText(t, env.svc, "user-1", "", "Outline", "y")

	resp, err := env.svc.SearchDocuments(context.Background(), "user-1", "dossier", "", 0, 0)
	if err != nil {
		t.Fatalf("SearchDocuments() error = %v", err)
	}
	if resp.Engine != "projection" || resp.Total != 1 || resp.Results[0].Title != "Guest dossier" {
		t.Fatalf("search response = %+v", resp)
	}
}

func TestAgentCreateDocument(t *testing.T) {
	env := newTestEnv(t)
	result, err := env.svc.AgentCreateDocument(context.Background(), "user-1", "ember", AgentDocumentInput{
		Title:   "Guest dossier",
		Content: "Background",
		Type:    "guest_dossier",
	})
	if err != nil {
		t.Fatalf("AgentCreateDocument() error = %v", err)
	}
	if result.Document.Metadata.AgentID != "ember" || result.Document.Metadata.Type != "guest_dossier" {
		t.Fatalf("metadata = %+v", result.Document.Metadata)
	}
	if result.Document.Kind != document.KindText {
		t.Fatalf("kind = %q, want text default", result.Document.Kind)
	}
	if result.Model != "mock/chat" {
		t.Fatalf("model = %q", result.Model)
	}

	_, err = env.svc.AgentCreateDocument(context.Background(), "user-1", "nova", AgentDocumentInput{Title: "x"})
	requireDomainError(t, err, http.StatusNotFound, "AGENT_NOT_FOUND")
}

func TestAgentWithoutToolIsForbidden(t *testing.T) {
	registry, err := agents.Parse([]byte(`
models:
  mock: {chat-model: mock/chat}
agents:
  - {id: ida, name: Ida, model: chat-model, prompt: hi, tools: [createDocument]}
  - {id: astra, name: Astra, model: chat-model, prompt: hi, tools: [requestSuggestions]}
`))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	env := newTestEnvWithRegistry(t, registry)

	_, err = env.svc.AgentCreateDocument(context.Background(), "user-1", "astra", AgentDocumentInput{Title: "Plan"})
	requireDomainError(t, err, http.StatusForbidden, "TOOL_NOT_ALLOWED")
	if len(env.store.revisions) != 0 {
		t.Fatal("forbidden tool call stored a revision")
	}
}

func TestEveryRevisionIsMirrored(t *testing.T) {
	env := newTestEnv(t)
	rev := saveText(t, env.svc, "user-1", "", "Outline", "v1")
	saveText(t, env.svc, "user-1", rev.ID, "Outline", "v2")
	if _, err := env.svc.ArchiveDocument(context.Background(), "user-1", ArchiveInput{ID: rev.ID, Status: "archived"}); err != nil {
		t.Fatalf("ArchiveDocument() error = %v", err)
	}
	env.svc.Wait()

	if got := env.mirror.seqs(); !reflect.DeepEqual(got, []int64{1, 2, 3}) {
		t.Fatalf("mirrored seqs = %v, want [1 2 3]", got)
	}

	commits, err := env.svc.Commits(context.Background(), "user-1", rev.ID, 2)
	if err != nil {
		t.Fatalf("Commits() error = %v", err)
	}
	if len(commits) != 2 {
		t.Fatalf("commits = %d, want 2", len(commits))
	}
}

func TestMirrorFailureDoesNotFailSave(t *testing.T) {
	env := newTestEnv(t)
	env.mirror.err = errors.New("disk full")
	saveText(t, env.svc, "user-1", "", "Outline", "v1")
	env.svc.Wait()
}

func TestStorageErrorsPropagate(t *testing.T) {
	env := newTestEnv(t)
	env.store.appendErr = &store.StorageError{Op: "append revision", Err: errors.New("connection reset")}

	_, err := env.svc.SaveDocument(context.Background(), "user-1", SaveDocumentInput{Title: "x", Kind: "text"})
	var storageErr *store.StorageError
	if !errors.As(err, &storageErr) {
		t.Fatalf("expected StorageError, got %v", err)
	}
	status, code, _, _ := mapError(err)
	if status != http.StatusInternalServerError || code != "STORAGE_ERROR" {
		t.Fatalf("mapError = %d %s", status, code)
	}
}

func TestSignUpSignInAndRefresh(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	creds := authpw.Credentials{Email: "host@example.com", Password: "correct horse"}

	created, err := env.svc.SignUp(ctx, creds)
	if err != nil {
		t.Fatalf("SignUp() error = %v", err)
	}
	if created.AccessToken == "" || created.RefreshToken == "" || created.UserID == "" {
		t.Fatalf("session = %+v", created)
	}
	if _, err := env.svc.SignUp(ctx, creds); !errors.Is(err, authpw.ErrEmailTaken) {
		t.Fatalf("duplicate SignUp() error = %v", err)
	}

	identity, err := env.svc.SessionFromToken(created.AccessToken)
	if err != nil {
		t.Fatalf("SessionFromToken() error = %v", err)
	}
	if identity.UserID != created.UserID || identity.Email != "host@example.com" {
		t.Fatalf("identity = %+v", identity)
	}

	signedIn, err := env.svc.SignIn(ctx, creds)
	if err != nil {
		t.Fatalf("SignIn() error = %v", err)
	}
	if _, err := env.svc.SignIn(ctx, authpw.Credentials{Email: creds.Email, Password: "wrong password"}); !errors.Is(err, authpw.ErrInvalidCredentials) {
		t.Fatalf("SignIn(wrong) error = %v", err)
	}

	rotated, err := env.svc.Refresh(ctx, signedIn.RefreshToken)
	if err != nil {
		t.Fatalf("Refresh() error = %v", err)
	}
	if rotated.RefreshToken == signedIn.RefreshToken {
		t.Fatal("refresh token was not rotated")
	}
	if _, err := env.svc.Refresh(ctx, signedIn.RefreshToken); !errors.Is(err, store.ErrSessionNotFound) {
		t.Fatalf("reused refresh token error = %v", err)
	}

	if err := env.svc.Logout(ctx, rotated.RefreshToken); err != nil {
		t.Fatalf("Logout() error = %v", err)
	}
	if _, err := env.svc.Refresh(ctx, rotated.RefreshToken); !errors.Is(err, store.ErrSessionNotFound) {
		t.Fatalf("refresh after logout error = %v", err)
	}
}
