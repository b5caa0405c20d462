package store

import (
	"context"
	"fmt"
)

const messageColumns = `id, project_id, sender_id, sender_name, content,
	reply_to_message_id, reply_to_user_name, reply_to_content,
	status, is_deleted, edited_at, created_at, updated_at`

func scanMessage(row interface{ Scan(...any) error }) (ChatMessage, error) {
	var m ChatMessage
	err := row.Scan(&m.ID, &m.ProjectID, &m.SenderID, &m.SenderName, &m.Content,
		&m.ReplyToMessageID, &m.ReplyToUserName, &m.ReplyToContent,
		&m.Status, &m.IsDeleted, &m.EditedAt, &m.CreatedAt, &m.UpdatedAt)
	return m, err
}

// InsertMessage persists a new chat message and returns the stored row
// with its store-assigned id and timestamps.
func (s *PostgresStore) InsertMessage(ctx context.Context, m ChatMessage) (ChatMessage, error) {
	row := s.db.QueryRowContext(ctx, `
		INSERT INTO chat_messages
			(project_id, sender_id, sender_name, content,
			 reply_to_message_id, reply_to_user_name, reply_to_content, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, 'sent')
		RETURNING `+messageColumns,
		m.ProjectID, m.SenderID, m.SenderName, m.Content,
		m.ReplyToMessageID, m.ReplyToUserName, m.ReplyToContent)
	stored, err := scanMessage(row)
	if err != nil {
		return ChatMessage{}, fmt.Errorf("insert message: %w", err)
	}
	return stored, nil
}

// GetMessage fetches a message by id. Soft-deleted rows are invisible
// here; callers treat sql.ErrNoRows as not found.
func (s *PostgresStore) GetMessage(ctx context.Context, id int64) (ChatMessage, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+messageColumns+`
		FROM chat_messages
		WHERE id = $1 AND NOT is_deleted
	`, id)
	return scanMessage(row)
}

// UpdateMessageContent rewrites the content and stamps edited_at.
func (s *PostgresStore) UpdateMessageContent(ctx context.Context, id int64, content string) (ChatMessage, error) {
	row := s.db.QueryRowContext(ctx, `
		UPDATE chat_messages
		SET content=$2, edited_at=NOW(), updated_at=NOW()
		WHERE id=$1 AND NOT is_deleted
		RETURNING `+messageColumns, id, content)
	stored, err := scanMessage(row)
	if err != nil {
		return ChatMessage{}, fmt.Errorf("update message content: %w", err)
	}
	return stored, nil
}

func (s *PostgresStore) UpdateMessageStatus(ctx context.Context, id int64, status string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE chat_messages SET status=$2, updated_at=NOW()
		WHERE id=$1 AND NOT is_deleted
	`, id, status)
	if err != nil {
		return fmt.Errorf("update message status: %w", err)
	}
	return nil
}

// SoftDeleteMessage flips the soft-delete flag. The row stays for audit.
func (s *PostgresStore) SoftDeleteMessage(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE chat_messages SET is_deleted=TRUE, updated_at=NOW() WHERE id=$1
	`, id)
	if err != nil {
		return fmt.Errorf("soft delete message: %w", err)
	}
	return nil
}

// ListMessagePage returns a page of a project's visible history in
// creation order. Creation time, not broadcast order, is canonical.
func (s *PostgresStore) ListMessagePage(ctx context.Context, projectID string, limit, offset int) ([]ChatMessage, error) {
	if limit <= 0 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+messageColumns+`
		FROM chat_messages
		WHERE project_id = $1 AND NOT is_deleted
		ORDER BY created_at ASC
		LIMIT $2 OFFSET $3
	`, projectID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	items := make([]ChatMessage, 0)
	for rows.Next() {
		item, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate messages: %w", err)
	}
	return items, nil
}

// ClearProjectMessages hard-deletes a project's entire chat history.
// This is the only path that removes rows; it is gated to the project
// owner at the service layer.
func (s *PostgresStore) ClearProjectMessages(ctx context.Context, projectID string) (int64, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM chat_messages WHERE project_id=$1`, projectID)
	if err != nil {
		return 0, fmt.Errorf("clear project messages: %w", err)
	}
	removed, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("clear rows affected: %w", err)
	}
	return removed, nil
}
