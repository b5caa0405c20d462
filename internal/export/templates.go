package export

import (
	"bytes"
	"html/template"
	"time"
)

var transcriptTemplate = template.Must(template.New("transcript").Funcs(template.FuncMap{
	"formatTime": func(t time.Time) string {
		return t.Format("Jan 2, 2006 15:04")
	},
}).Parse(transcriptHTML))

// RenderTranscriptHTML renders the transcript template with the given
// data.
func RenderTranscriptHTML(data TemplateData) (string, error) {
	var buf bytes.Buffer
	if err := transcriptTemplate.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

const transcriptHTML = `<!DOCTYPE html>
<html>
<head>
  <meta charset="UTF-8">
  <title>{{.ProjectName}} — chat transcript</title>
  <style>
    body { font-family: Arial, sans-serif; line-height: 1.5; max-width: 800px; margin: 2rem auto; }
    h1 { border-bottom: 2px solid #333; padding-bottom: 0.5rem; }
    .meta { color: #666; font-size: 0.9em; margin-bottom: 2rem; }
    .message { margin: 0.75rem 0; }
    .sender { font-weight: bold; }
    .time { color: #999; font-size: 0.85em; margin-left: 0.5rem; }
    .edited { color: #999; font-size: 0.85em; font-style: italic; }
    .reply { background: #f5f5f5; padding: 0.5rem; margin: 0.25rem 0; border-left: 3px solid #ccc; font-size: 0.9em; color: #555; }
  </style>
</head>
<body>
  <h1>{{.ProjectName}}</h1>
  <div class="meta">Chat transcript, generated {{formatTime .GeneratedAt}}</div>
  {{range .Messages}}
  <div class="message">
    <span class="sender">{{.SenderName}}</span><span class="time">{{formatTime .SentAt}}</span>
    {{if .Edited}}<span class="edited">(edited)</span>{{end}}
    {{if .ReplyToUserName}}<div class="reply">{{.ReplyToUserName}}: {{.ReplyToContent}}</div>{{end}}
    <div>{{.Content}}</div>
  </div>
  {{end}}
</body>
</html>`
