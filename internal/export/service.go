package export

import (
	"context"
	"fmt"
	"html/template"

	"gemcast/internal/document"
	"gemcast/internal/prosemirror"
)

// Request names the revision to export. When Merged is set the export shows
// that track-changes tree instead of the revision's own content.
type Request struct {
	Revision document.Revision
	Format   Format
	Merged   *prosemirror.Node
	Compare  string
}

// Service provides document export functionality
type Service struct {
	schema *prosemirror.Schema
}

func NewService(schema *prosemirror.Schema) *Service {
	return &Service{schema: schema}
}

// Body renders just the document body as sanitized HTML.
func (s *Service) Body(req Request) (template.HTML, error) {
	if req.Merged != nil {
		return Sanitize(ProseMirrorToHTML(*req.Merged)), nil
	}
	return RevisionHTML(req.Revision, s.schema)
}

// Page renders the full standalone HTML page for a revision.
func (s *Service) Page(req Request) (string, error) {
	body, err := s.Body(req)
	if err != nil {
		return "", err
	}
	rev := req.Revision
	page, err := RenderDocumentHTML(TemplateData{
		Title:       rev.Title,
		Kind:        string(rev.Kind),
		Type:        rev.Metadata.Type,
		Agent:       rev.Metadata.AgentID,
		Compare:     req.Compare,
		ContentHTML: body,
		UpdatedAt:   rev.CreatedAt,
	})
	if err != nil {
		return "", fmt.Errorf("render template: %w", err)
	}
	return page, nil
}

// Export generates an export in the requested format
func (s *Service) Export(ctx context.Context, req Request) (*Result, error) {
	title := req.Revision.Title
	if req.Format == FormatMarkdown {
		body, err := s.Body(req)
		if err != nil {
			return nil, err
		}
		return exportMarkdown(string(body), title)
	}

	page, err := s.Page(req)
	if err != nil {
		return nil, err
	}

	switch req.Format {
	case FormatHTML:
		return &Result{
			Data:     []byte(page),
			Filename: sanitizeFilename(title) + ".html",
			MimeType: "text/html; charset=utf-8",
		}, nil
	case FormatPDF:
		return exportPDF(ctx, page, title)
	case FormatDOCX:
		return exportDOCX(ctx, page, title)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, req.Format)
	}
}
