package export

import (
	"bytes"
	"html/template"
	"time"
)

var documentTemplate = template.Must(template.New("document").Parse(documentPageTemplate))

// TemplateData holds data for document template rendering
type TemplateData struct {
	Title         string
	WorkspaceName string
	ContentHTML   template.HTML
	ExportedAt    time.Time
}

// RenderDocumentHTML renders the printable document page.
func RenderDocumentHTML(data TemplateData) (string, error) {
	var buf bytes.Buffer
	if err := documentTemplate.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

const documentPageTemplate = `<!DOCTYPE html>
<html>
<head>
  <meta charset="UTF-8">
  <title>{{.Title}}</title>
  <style>
    body { font-family: Arial, sans-serif; line-height: 1.6; max-width: 800px; margin: 2rem auto; color: #1f2937; }
    h1.doc-title { border-bottom: 2px solid #4f46e5; padding-bottom: 0.5rem; }
    .meta { color: #666; font-size: 0.9em; margin-bottom: 2rem; }
    code { background: #f3f4f6; padding: 0.1em 0.3em; border-radius: 3px; }
    img { max-width: 100%; }
  </style>
</head>
<body>
  <h1 class="doc-title">{{.Title}}</h1>
  <div class="meta">{{.WorkspaceName}} | exported {{.ExportedAt.Format "Jan 2, 2006"}}</div>
  <div>{{.ContentHTML}}</div>
</body>
</html>`
