package export

import (
	"context"
	"fmt"
	"time"

	"taskroom/api/internal/store"
)

// DataStore is the slice of persistence the exporter reads from.
type DataStore interface {
	GetProject(ctx context.Context, id string) (store.Project, error)
	ListMessagePage(ctx context.Context, projectID string, limit, offset int) ([]store.ChatMessage, error)
}

const transcriptPageSize = 500

// Service renders chat transcripts.
type Service struct {
	store DataStore
}

func NewService(store DataStore) *Service {
	return &Service{store: store}
}

// Export builds the full transcript for a project and renders it in
// the requested format. Soft-deleted messages never appear; the store
// already filters them.
func (s *Service) Export(ctx context.Context, req Request) (*Result, error) {
	project, err := s.store.GetProject(ctx, req.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("get project: %w", err)
	}

	data := TemplateData{
		ProjectName: project.Name,
		GeneratedAt: time.Now().UTC(),
	}

	for offset := 0; ; offset += transcriptPageSize {
		page, err := s.store.ListMessagePage(ctx, req.ProjectID, transcriptPageSize, offset)
		if err != nil {
			return nil, fmt.Errorf("list messages: %w", err)
		}
		for _, m := range page {
			tm := TemplateMessage{
				SenderName: m.SenderName,
				SentAt:     m.CreatedAt,
				Content:    m.Content,
				Edited:     m.EditedAt != nil,
			}
			if m.ReplyToUserName != nil {
				tm.ReplyToUserName = *m.ReplyToUserName
			}
			if m.ReplyToContent != nil {
				tm.ReplyToContent = *m.ReplyToContent
			}
			data.Messages = append(data.Messages, tm)
		}
		if len(page) < transcriptPageSize {
			break
		}
	}

	html, err := RenderTranscriptHTML(data)
	if err != nil {
		return nil, fmt.Errorf("render template: %w", err)
	}

	switch req.Format {
	case FormatPDF:
		return exportPDF(html, project.Name)
	case FormatDOCX:
		return exportDOCX(html, project.Name)
	default:
		return nil, fmt.Errorf("unsupported format: %s", req.Format)
	}
}
