package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"gemcast/internal/agents"
	"gemcast/internal/blob"
	"gemcast/internal/document"
	"gemcast/internal/export"
	"gemcast/internal/gitrepo"
	"gemcast/internal/prosemirror"
	"gemcast/internal/search"
	"gemcast/internal/store"
	"gemcast/internal/util"
)

// Document ids double as directory names in the history mirror.
var documentIDPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_-]{0,127}$`)

var kindValues = func() []any {
	out := make([]any, 0, len(document.Kinds))
	for _, k := range document.Kinds {
		out = append(out, string(k))
	}
	return out
}()

type SaveDocumentInput struct {
	ID       string          `json:"id"`
	Title    string          `json:"title"`
	Kind     string          `json:"kind"`
	Content  string          `json:"content"`
	Metadata json.RawMessage `json:"metadata"`
}

func (in SaveDocumentInput) Validate() error {
	return validation.ValidateStruct(&in,
		validation.Field(&in.ID, validation.Match(documentIDPattern)),
		validation.Field(&in.Title, validation.Required, validation.Length(1, 200)),
		validation.Field(&in.Kind, validation.Required, validation.In(kindValues...)),
	)
}

type ArchiveInput struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

func (in ArchiveInput) Validate() error {
	return validation.ValidateStruct(&in,
		validation.Field(&in.ID, validation.Required),
		validation.Field(&in.Status, validation.Required, validation.In(string(document.StatusActive), string(document.StatusArchived))),
	)
}

type AgentDocumentInput struct {
	Title   string `json:"title"`
	Kind    string `json:"kind"`
	Content string `json:"content"`
	Type    string `json:"type"`
}

type AgentDocumentResult struct {
	Document document.Revision `json:"document"`
	Agent    agents.ID         `json:"agentId"`
	Model    string            `json:"model"`
}

type DiffTreesInput struct {
	Schema json.RawMessage `json:"schema"`
	Old    json.RawMessage `json:"old"`
	New    json.RawMessage `json:"new"`
}

type DiffResult struct {
	ID     string           `json:"id"`
	From   int64            `json:"from"`
	To     int64            `json:"to"`
	Merged prosemirror.Node `json:"merged"`
	HTML   string           `json:"html"`
}

// draft is a validated revision waiting to be appended.
type draft struct {
	id       string
	title    string
	kind     document.Kind
	content  string
	metadata document.Metadata
}

// SaveDocument appends a revision. A missing id starts a new logical
// document; an existing id must belong to userID.
func (s *Service) SaveDocument(ctx context.Context, userID string, in SaveDocumentInput) (document.Revision, error) {
	in.ID = strings.TrimSpace(in.ID)
	in.Title = strings.TrimSpace(in.Title)
	if err := in.Validate(); err != nil {
		return document.Revision{}, invalidInput("INVALID_DOCUMENT", err)
	}
	metadata, err := document.ParseMetadata(in.Metadata)
	if err != nil {
		return document.Revision{}, invalidInput("INVALID_METADATA", err)
	}

	d := draft{
		id:       in.ID,
		title:    in.Title,
		kind:     document.Kind(in.Kind),
		content:  in.Content,
		metadata: metadata,
	}
	if d.id == "" {
		d.id = util.NewID("")
	} else if _, err := s.ownedRevisions(ctx, userID, d.id); err != nil && !errors.Is(err, document.ErrNotFound) {
		return document.Revision{}, err
	}
	return s.save(ctx, userID, d)
}

// UpdateDocument appends a revision to an existing document.
func (s *Service) UpdateDocument(ctx context.Context, userID, id string, in SaveDocumentInput) (document.Revision, error) {
	if _, err := s.ownedRevisions(ctx, userID, id); err != nil {
		return document.Revision{}, err
	}
	in.ID = id
	return s.SaveDocument(ctx, userID, in)
}

func (s *Service) save(ctx context.Context, userID string, d draft) (document.Revision, error) {
	if d.kind == document.KindRich {
		if _, err := s.schema.Parse([]byte(d.content)); err != nil {
			return document.Revision{}, err
		}
	}
	ref, err := s.store.AppendRevision(ctx, store.RevisionInput{
		ID:       d.id,
		Title:    d.title,
		Kind:     d.kind,
		Content:  d.content,
		Metadata: d.metadata,
		UserID:   userID,
	})
	if err != nil {
		return document.Revision{}, err
	}
	rev := document.Revision{
		ID:        ref.ID,
		Seq:       ref.Seq,
		CreatedAt: ref.CreatedAt,
		Title:     d.title,
		Kind:      d.kind,
		Content:   d.content,
		Metadata:  d.metadata,
		UserID:    userID,
	}
	s.afterAppend(rev)
	return rev, nil
}

func (s *Service) afterAppend(rev document.Revision) {
	s.search.IndexDocument(search.RecordFromRevision(rev))
	if s.history == nil {
		return
	}
	s.goBackground("mirror revision", func() error {
		_, err := s.history.Record(rev)
		return err
	})
}

// ownedRevisions loads every revision of id, oldest first. Unknown ids are
// NotFoundError; documents created by someone else are forbidden.
func (s *Service) ownedRevisions(ctx context.Context, userID, id string) ([]document.Revision, error) {
	revs, err := s.store.ListRevisions(ctx, id)
	if err != nil {
		return nil, err
	}
	if len(revs) == 0 {
		return nil, &document.NotFoundError{ID: id}
	}
	if revs[0].UserID != userID {
		return nil, errForbidden
	}
	return revs, nil
}

// visibleRevisions is ownedRevisions for read paths, where another user's
// document is reported as missing.
func (s *Service) visibleRevisions(ctx context.Context, userID, id string) ([]document.Revision, error) {
	revs, err := s.ownedRevisions(ctx, userID, id)
	if errors.Is(err, errForbidden) {
		return nil, &document.NotFoundError{ID: id}
	}
	return revs, err
}

// ListDocuments returns the latest revision of each of the user's
// documents. status defaults to active; "all" disables the filter.
func (s *Service) ListDocuments(ctx context.Context, userID, status, query string) ([]document.Revision, error) {
	st, err := parseStatusFilter(status, document.StatusActive)
	if err != nil {
		return nil, err
	}
	revs, err := s.store.ListRevisionsByOwner(ctx, userID)
	if err != nil {
		return nil, err
	}
	out := document.Project(revs, document.Filter{Status: st, Query: strings.TrimSpace(query)})
	if out == nil {
		out = []document.Revision{}
	}
	return out, nil
}

func parseStatusFilter(value string, fallback document.Status) (document.Status, error) {
	switch strings.TrimSpace(value) {
	case "":
		return fallback, nil
	case "all":
		return "", nil
	}
	st, err := document.ParseStatus(strings.TrimSpace(value))
	if err != nil {
		return "", domainError(http.StatusBadRequest, "INVALID_STATUS", err.Error(), nil)
	}
	return st, nil
}

func (s *Service) GetDocument(ctx context.Context, userID, id string) (document.Revision, error) {
	revs, err := s.visibleRevisions(ctx, userID, id)
	if err != nil {
		return document.Revision{}, err
	}
	latest, _ := document.LatestOf(revs)
	latest.Metadata.Status = latest.Metadata.EffectiveStatus()
	return latest, nil
}

func (s *Service) History(ctx context.Context, userID, id string) ([]document.Revision, error) {
	return s.visibleRevisions(ctx, userID, id)
}

// Commits lists the mirrored git history of a document, newest first.
func (s *Service) Commits(ctx context.Context, userID, id string, limit int) ([]gitrepo.CommitInfo, error) {
	if _, err := s.visibleRevisions(ctx, userID, id); err != nil {
		return nil, err
	}
	if s.history == nil {
		return []gitrepo.CommitInfo{}, nil
	}
	commits, err := s.history.History(id, limit)
	if errors.Is(err, gitrepo.ErrNoHistory) {
		return []gitrepo.CommitInfo{}, nil
	}
	return commits, err
}

// ArchiveDocument sets the status of a document by appending one revision
// that repeats the latest content with the new status.
func (s *Service) ArchiveDocument(ctx context.Context, userID string, in ArchiveInput) (document.Revision, error) {
	in.ID = strings.TrimSpace(in.ID)
	if err := in.Validate(); err != nil {
		return document.Revision{}, invalidInput("INVALID_ARCHIVE_REQUEST", err)
	}
	revs, err := s.ownedRevisions(ctx, userID, in.ID)
	if err != nil {
		return document.Revision{}, err
	}
	latest, _ := document.LatestOf(revs)
	metadata := latest.Metadata
	metadata.Status = document.Status(in.Status)
	return s.save(ctx, userID, draft{
		id:       latest.ID,
		title:    latest.Title,
		kind:     latest.Kind,
		content:  latest.Content,
		metadata: metadata,
	})
}

// DiffDocument merges two revisions of a document into one track-changes
// tree. Zero seqs default to the latest revision and the one before it.
func (s *Service) DiffDocument(ctx context.Context, userID, id string, fromSeq, toSeq int64) (DiffResult, error) {
	revs, err := s.visibleRevisions(ctx, userID, id)
	if err != nil {
		return DiffResult{}, err
	}
	document.SortOldestFirst(revs)

	toIdx := len(revs) - 1
	if toSeq != 0 {
		if toIdx = indexOfSeq(revs, toSeq); toIdx < 0 {
			return DiffResult{}, revisionNotFound(toSeq)
		}
	}
	fromIdx := max(toIdx-1, 0)
	if fromSeq != 0 {
		if fromIdx = indexOfSeq(revs, fromSeq); fromIdx < 0 {
			return DiffResult{}, revisionNotFound(fromSeq)
		}
	}

	from, to := revs[fromIdx], revs[toIdx]
	merged, err := s.diffRevisions(from, to)
	if err != nil {
		return DiffResult{}, err
	}
	html, err := s.exporter.Body(export.Request{Revision: to, Merged: &merged})
	if err != nil {
		return DiffResult{}, err
	}
	return DiffResult{ID: id, From: from.Seq, To: to.Seq, Merged: merged, HTML: string(html)}, nil
}

func (s *Service) diffRevisions(from, to document.Revision) (prosemirror.Node, error) {
	oldTree, err := from.Tree(s.schema)
	if err != nil {
		return prosemirror.Node{}, diffUnsupported(from, err)
	}
	newTree, err := to.Tree(s.schema)
	if err != nil {
		return prosemirror.Node{}, diffUnsupported(to, err)
	}
	return prosemirror.DiffNodes(s.schema, oldTree, newTree)
}

func diffUnsupported(rev document.Revision, err error) error {
	var invalid *prosemirror.InvalidTreeError
	if errors.As(err, &invalid) {
		return err
	}
	return domainError(http.StatusUnprocessableEntity, "DIFF_UNSUPPORTED", err.Error(), map[string]any{"seq": rev.Seq, "kind": rev.Kind})
}

func indexOfSeq(revs []document.Revision, seq int64) int {
	for i, rev := range revs {
		if rev.Seq == seq {
			return i
		}
	}
	return -1
}

func revisionNotFound(seq int64) error {
	return domainError(http.StatusNotFound, "REVISION_NOT_FOUND", fmt.Sprintf("revision %d not found", seq), nil)
}

// DiffTrees merges two arbitrary trees, under the given schema or the
// default one.
func (s *Service) DiffTrees(in DiffTreesInput) (prosemirror.Node, error) {
	if len(in.Old) == 0 || len(in.New) == 0 {
		return prosemirror.Node{}, domainError(http.StatusBadRequest, "INVALID_BODY", "old and new are required", nil)
	}
	schema := s.schema
	if len(in.Schema) > 0 && string(in.Schema) != "null" {
		parsed, err := prosemirror.ParseSchema(in.Schema)
		if err != nil {
			var mismatch *prosemirror.SchemaMismatchError
			if errors.As(err, &mismatch) {
				return prosemirror.Node{}, err
			}
			return prosemirror.Node{}, domainError(http.StatusBadRequest, "INVALID_SCHEMA", err.Error(), nil)
		}
		schema = parsed
	}
	return prosemirror.Diff(schema, in.Old, in.New)
}

// ExportDocument renders one revision (the latest when seq is zero). With a
// compare seq the export shows the changes since that revision.
func (s *Service) ExportDocument(ctx context.Context, userID, id, format string, seq, compareSeq int64) (*export.Result, error) {
	f, err := export.ParseFormat(strings.ToLower(strings.TrimSpace(format)))
	if err != nil {
		return nil, err
	}
	revs, err := s.visibleRevisions(ctx, userID, id)
	if err != nil {
		return nil, err
	}

	rev, _ := document.LatestOf(revs)
	if seq != 0 {
		idx := indexOfSeq(revs, seq)
		if idx < 0 {
			return nil, revisionNotFound(seq)
		}
		rev = revs[idx]
	}
	req := export.Request{Revision: rev, Format: f}

	if compareSeq != 0 {
		idx := indexOfSeq(revs, compareSeq)
		if idx < 0 {
			return nil, revisionNotFound(compareSeq)
		}
		merged, err := s.diffRevisions(revs[idx], rev)
		if err != nil {
			return nil, err
		}
		req.Merged = &merged
		req.Compare = fmt.Sprintf("Changes since revision %d", compareSeq)
	}
	return s.exporter.Export(ctx, req)
}

func (s *Service) SearchDocuments(ctx context.Context, userID, query, status string, limit, offset int) (search.Response, error) {
	st, err := parseStatusFilter(status, "")
	if err != nil {
		return search.Response{}, err
	}
	return s.search.Search(ctx, search.Query{
		Text:   strings.TrimSpace(query),
		UserID: userID,
		Status: st,
		Limit:  limit,
		Offset: offset,
	})
}

func (s *Service) ListAgents() []agents.Agent {
	return s.agents.List()
}

// AgentCreateDocument runs the createDocument tool on behalf of an agent.
// The new document records the agent in its metadata.
func (s *Service) AgentCreateDocument(ctx context.Context, userID, agentID string, in AgentDocumentInput) (AgentDocumentResult, error) {
	agent, ok := s.agents.Lookup(agents.ID(agentID))
	if !ok {
		return AgentDocumentResult{}, domainError(http.StatusNotFound, "AGENT_NOT_FOUND", fmt.Sprintf("unknown agent %q", agentID), nil)
	}
	if !agent.CanUse(agents.ToolCreateDocument) {
		return AgentDocumentResult{}, domainError(http.StatusForbidden, "TOOL_NOT_ALLOWED",
			fmt.Sprintf("agent %s may not use %s", agent.ID, agents.ToolCreateDocument), nil)
	}
	model, err := s.provider.ModelFor(agent)
	if err != nil {
		return AgentDocumentResult{}, err
	}

	kind := in.Kind
	if kind == "" {
		kind = string(document.KindText)
	}
	metadata, err := json.Marshal(document.Metadata{Type: in.Type, AgentID: string(agent.ID)})
	if err != nil {
		return AgentDocumentResult{}, fmt.Errorf("marshal agent metadata: %w", err)
	}
	rev, err := s.SaveDocument(ctx, userID, SaveDocumentInput{
		Title:    in.Title,
		Kind:     kind,
		Content:  in.Content,
		Metadata: metadata,
	})
	if err != nil {
		return AgentDocumentResult{}, err
	}
	s.logger.Info("agent created document", "agent", agent.ID, "model", model, "document_id", rev.ID)
	return AgentDocumentResult{Document: rev, Agent: agent.ID, Model: model}, nil
}

func (s *Service) Upload(ctx context.Context, filename string, data []byte) (blob.Object, error) {
	obj, err := s.blobs.Put(ctx, filename, data)
	switch {
	case errors.Is(err, blob.ErrEmptyFile), errors.Is(err, blob.ErrTooLarge), errors.Is(err, blob.ErrUnsupportedType):
		return blob.Object{}, domainError(http.StatusBadRequest, "INVALID_FILE", err.Error(), nil)
	case err != nil:
		return blob.Object{}, err
	}
	return obj, nil
}
