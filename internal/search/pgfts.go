package search

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

var _ Searcher = (*PgFTS)(nil)

// PgFTS implements Searcher using PostgreSQL full-text search as a
// fallback when Meilisearch is not available.
type PgFTS struct {
	db *sql.DB
}

func NewPgFTS(db *sql.DB) *PgFTS {
	return &PgFTS{db: db}
}

// Healthy always returns true. If Postgres is down the whole app is
// down.
func (p *PgFTS) Healthy() bool {
	return true
}

// Search executes a UNION ALL query across tasks, notes, and chat
// messages using plainto_tsquery and ts_rank, with ts_headline for
// snippets. The tsvectors are computed inline; the tables are small
// enough that dedicated fts columns have not been worth a migration.
func (p *PgFTS) Search(q Query) ([]Result, int, error) {
	if strings.TrimSpace(q.Text) == "" {
		return nil, 0, nil
	}

	limit := q.Limit
	if limit <= 0 {
		limit = 20
	}
	offset := q.Offset
	if offset < 0 {
		offset = 0
	}

	tsQuery := "plainto_tsquery('english', $1)"
	args := []any{q.Text}
	argN := 2

	var subQueries []string

	if q.FilterType == "" || q.FilterType == ResultTask {
		taskVector := "to_tsvector('english', t.title || ' ' || coalesce(t.description, ''))"
		taskWhere := taskVector + " @@ " + tsQuery
		if q.FilterProjectID != "" {
			taskWhere += fmt.Sprintf(" AND t.project_id = $%d", argN)
			args = append(args, q.FilterProjectID)
			argN++
		}
		subQueries = append(subQueries, fmt.Sprintf(`
			SELECT 'task'::text AS type, t.id, t.title,
				ts_headline('english', coalesce(t.description, ''), %s, 'MaxFragments=1,MaxWords=30') AS snippet,
				t.project_id,
				ts_rank(%s, %s) AS rank
			FROM tasks t
			WHERE %s`, tsQuery, taskVector, tsQuery, taskWhere))
	}

	if q.FilterType == "" || q.FilterType == ResultNote {
		noteVector := "to_tsvector('english', n.title || ' ' || coalesce(n.body, ''))"
		noteWhere := noteVector + " @@ " + tsQuery
		if q.FilterProjectID != "" {
			noteWhere += fmt.Sprintf(" AND n.project_id = $%d", argN)
			args = append(args, q.FilterProjectID)
			argN++
		}
		subQueries = append(subQueries, fmt.Sprintf(`
			SELECT 'note'::text AS type, n.id, n.title,
				ts_headline('english', coalesce(n.body, ''), %s, 'MaxFragments=1,MaxWords=30') AS snippet,
				n.project_id,
				ts_rank(%s, %s) AS rank
			FROM notes n
			WHERE %s`, tsQuery, noteVector, tsQuery, noteWhere))
	}

	if q.FilterType == "" || q.FilterType == ResultMessage {
		msgVector := "to_tsvector('english', m.content)"
		msgWhere := msgVector + " @@ " + tsQuery + " AND NOT m.is_deleted"
		if q.FilterProjectID != "" {
			msgWhere += fmt.Sprintf(" AND m.project_id = $%d", argN)
			args = append(args, q.FilterProjectID)
			argN++
		}
		subQueries = append(subQueries, fmt.Sprintf(`
			SELECT 'message'::text AS type, m.id::text, m.sender_name AS title,
				ts_headline('english', m.content, %s, 'MaxFragments=1,MaxWords=30') AS snippet,
				m.project_id,
				ts_rank(%s, %s) AS rank
			FROM chat_messages m
			WHERE %s`, tsQuery, msgVector, tsQuery, msgWhere))
	}

	if len(subQueries) == 0 {
		return nil, 0, nil
	}

	countSQL := fmt.Sprintf("SELECT count(*) FROM (%s) sub",
		strings.Join(subQueries, " UNION ALL "))

	dataSQL := fmt.Sprintf(`SELECT type, id, title, snippet, project_id
		FROM (%s) sub
		ORDER BY rank DESC
		LIMIT %d OFFSET %d`,
		strings.Join(subQueries, " UNION ALL "),
		limit, offset)

	ctx := context.Background()

	var total int
	if err := p.db.QueryRowContext(ctx, countSQL, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("pgfts count: %w", err)
	}

	rows, err := p.db.QueryContext(ctx, dataSQL, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("pgfts query: %w", err)
	}
	defer rows.Close()

	var results []Result
	for rows.Next() {
		var r Result
		var typ string
		if err := rows.Scan(&typ, &r.ID, &r.Title, &r.Snippet, &r.ProjectID); err != nil {
			return nil, 0, fmt.Errorf("pgfts scan: %w", err)
		}
		r.Type = ResultType(typ)
		results = append(results, r)
	}

	return results, total, rows.Err()
}

// LoadAllRecords returns all searchable records for full reindexing.
func (p *PgFTS) LoadAllRecords(ctx context.Context) ([]TaskRecord, []NoteRecord, []MessageRecord, error) {
	taskRows, err := p.db.QueryContext(ctx, `
		SELECT id, title, coalesce(description, ''), project_id, status
		FROM tasks
	`)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("load tasks: %w", err)
	}
	defer taskRows.Close()

	tasks := make([]TaskRecord, 0)
	for taskRows.Next() {
		var t TaskRecord
		if err := taskRows.Scan(&t.ID, &t.Title, &t.Description, &t.ProjectID, &t.Status); err != nil {
			return nil, nil, nil, fmt.Errorf("scan task: %w", err)
		}
		tasks = append(tasks, t)
	}
	if err := taskRows.Err(); err != nil {
		return nil, nil, nil, fmt.Errorf("iterate tasks: %w", err)
	}

	noteRows, err := p.db.QueryContext(ctx, `
		SELECT id, title, coalesce(body, ''), project_id
		FROM notes
	`)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("load notes: %w", err)
	}
	defer noteRows.Close()

	notes := make([]NoteRecord, 0)
	for noteRows.Next() {
		var n NoteRecord
		if err := noteRows.Scan(&n.ID, &n.Title, &n.Body, &n.ProjectID); err != nil {
			return nil, nil, nil, fmt.Errorf("scan note: %w", err)
		}
		notes = append(notes, n)
	}
	if err := noteRows.Err(); err != nil {
		return nil, nil, nil, fmt.Errorf("iterate notes: %w", err)
	}

	msgRows, err := p.db.QueryContext(ctx, `
		SELECT id::text, content, sender_name, project_id
		FROM chat_messages
		WHERE NOT is_deleted
	`)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("load messages: %w", err)
	}
	defer msgRows.Close()

	messages := make([]MessageRecord, 0)
	for msgRows.Next() {
		var m MessageRecord
		if err := msgRows.Scan(&m.ID, &m.Content, &m.SenderName, &m.ProjectID); err != nil {
			return nil, nil, nil, fmt.Errorf("scan message: %w", err)
		}
		messages = append(messages, m)
	}
	if err := msgRows.Err(); err != nil {
		return nil, nil, nil, fmt.Errorf("iterate messages: %w", err)
	}

	return tasks, notes, messages, nil
}
