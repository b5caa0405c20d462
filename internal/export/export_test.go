package export

import (
	"context"
	"strings"
	"testing"
	"time"

	"taskroom/api/internal/store"
)

func TestSanitizeFilename(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{name: "plain", input: "Taskroom", expected: "Taskroom"},
		{name: "spaces become hyphens", input: "Release Planning", expected: "Release-Planning"},
		{name: "specials dropped", input: "ops/on-call (2026)!", expected: "opson-call-2026"},
		{name: "empty falls back", input: "///", expected: "transcript"},
		{name: "long names truncated", input: strings.Repeat("a", 80), expected: strings.Repeat("a", 50)},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := sanitizeFilename(tc.input); got != tc.expected {
				t.Fatalf("sanitizeFilename(%q) = %q, want %q", tc.input, got, tc.expected)
			}
		})
	}
}

func TestEncodeDataURL(t *testing.T) {
	got := strings.TrimPrefix(encodeDataURL("a b<c>"), "data:text/html;charset=utf-8,")
	if got != "a%20b%3Cc%3E" {
		t.Fatalf("unexpected encoding: %q", got)
	}
	if strings.Contains(got, "+") {
		t.Fatal("data URLs must not use + for spaces")
	}
}

func TestRenderTranscriptHTML(t *testing.T) {
	data := TemplateData{
		ProjectName: "Taskroom",
		GeneratedAt: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		Messages: []TemplateMessage{
			{
				SenderName: "Alice",
				SentAt:     time.Date(2026, 3, 1, 9, 30, 0, 0, time.UTC),
				Content:    "morning <everyone>",
			},
			{
				SenderName:      "Bob",
				SentAt:          time.Date(2026, 3, 1, 9, 31, 0, 0, time.UTC),
				Content:         "replying",
				Edited:          true,
				ReplyToUserName: "Alice",
				ReplyToContent:  "the original",
			},
		},
	}

	html, err := RenderTranscriptHTML(data)
	if err != nil {
		t.Fatalf("render: %v", err)
	}

	if !strings.Contains(html, "Taskroom") {
		t.Fatal("project name missing from transcript")
	}
	if !strings.Contains(html, "morning &lt;everyone&gt;") {
		t.Fatal("message content should be HTML-escaped")
	}
	if !strings.Contains(html, "(edited)") {
		t.Fatal("edited marker missing")
	}
	if !strings.Contains(html, "Alice: the original") {
		t.Fatal("reply quote missing")
	}
}

type fakeExportStore struct {
	project  store.Project
	messages []store.ChatMessage
}

func (f *fakeExportStore) GetProject(ctx context.Context, id string) (store.Project, error) {
	return f.project, nil
}

func (f *fakeExportStore) ListMessagePage(ctx context.Context, projectID string, limit, offset int) ([]store.ChatMessage, error) {
	if offset >= len(f.messages) {
		return nil, nil
	}
	end := offset + limit
	if end > len(f.messages) {
		end = len(f.messages)
	}
	return f.messages[offset:end], nil
}

func TestExportRejectsUnknownFormat(t *testing.T) {
	svc := NewService(&fakeExportStore{project: store.Project{ID: "proj_1", Name: "Taskroom"}})

	_, err := svc.Export(context.Background(), Request{ProjectID: "proj_1", Format: Format("csv")})
	if err == nil || !strings.Contains(err.Error(), "unsupported format") {
		t.Fatalf("expected unsupported-format error, got %v", err)
	}
}
