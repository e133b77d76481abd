package export

import (
	"encoding/json"
	"fmt"
	"html/template"
	"time"
)

// Document is the content a caller hands in for export. Content is the raw
// delta blob as stored.
type Document struct {
	Title         string
	WorkspaceName string
	Content       json.RawMessage
}

// Export generates the document in the requested format.
func Export(doc Document, format Format) (*Result, error) {
	delta, err := ParseDelta(doc.Content)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrContentUnavailable, err)
	}

	switch format {
	case FormatText:
		return &Result{
			Data:     []byte(delta.PlainText()),
			Filename: sanitizeFilename(doc.Title) + ".txt",
			MimeType: "text/plain; charset=utf-8",
		}, nil
	case FormatPDF:
		page, err := RenderDocumentHTML(TemplateData{
			Title:         doc.Title,
			WorkspaceName: doc.WorkspaceName,
			ContentHTML:   template.HTML(delta.HTML()),
			ExportedAt:    time.Now(),
		})
		if err != nil {
			return nil, fmt.Errorf("render template: %w", err)
		}
		return renderPDF(page, doc.Title)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, format)
	}
}
