// Package export turns stored document content into downloadable files.
package export

import "errors"

// Format represents the export output format
type Format string

const (
	FormatText Format = "txt"
	FormatPDF  Format = "pdf"
)

// Result contains the export output
type Result struct {
	Data     []byte
	Filename string
	MimeType string
}

var (
	// ErrContentUnavailable indicates document content could not be parsed for export.
	ErrContentUnavailable = errors.New("export content unavailable")
	// ErrPDFDependencyMissing indicates PDF export runtime dependencies are unavailable.
	ErrPDFDependencyMissing = errors.New("export pdf dependency missing")
	// ErrUnsupportedFormat indicates the requested format is not recognized.
	ErrUnsupportedFormat = errors.New("export format unsupported")
)
