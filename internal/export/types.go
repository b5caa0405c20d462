// Package export renders a project's chat transcript to PDF and DOCX.
package export

import (
	"errors"
	"time"
)

// Format represents the export output format
type Format string

const (
	FormatPDF  Format = "pdf"
	FormatDOCX Format = "docx"
)

// Request contains parameters for a transcript export.
type Request struct {
	ProjectID string
	Format    Format
}

// Result contains the export output
type Result struct {
	Data     []byte
	Filename string
	MimeType string
}

// TemplateData holds data for transcript template rendering.
type TemplateData struct {
	ProjectName string
	GeneratedAt time.Time
	Messages    []TemplateMessage
}

// TemplateMessage is one rendered transcript line.
type TemplateMessage struct {
	SenderName      string
	SentAt          time.Time
	Content         string
	Edited          bool
	ReplyToUserName string
	ReplyToContent  string
}

var (
	// ErrPDFDependencyMissing indicates PDF export runtime dependencies are unavailable.
	ErrPDFDependencyMissing = errors.New("export pdf dependency missing")
	// ErrDOCXDependencyMissing indicates DOCX export runtime dependencies are unavailable.
	ErrDOCXDependencyMissing = errors.New("export docx dependency missing")
)
