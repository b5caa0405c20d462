package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// ---- users ----

func (s *PostgresStore) CreateUser(ctx context.Context, user User) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (id, display_name, email, password_hash)
		VALUES ($1, $2, $3, $4)
	`, user.ID, user.DisplayName, user.Email, user.PasswordHash)
	if err != nil {
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetUserByEmail(ctx context.Context, email string) (User, error) {
	var user User
	err := s.db.QueryRowContext(ctx, `
		SELECT id, display_name, email, password_hash, created_at, updated_at
		FROM users WHERE email = $1
	`, email).Scan(&user.ID, &user.DisplayName, &user.Email, &user.PasswordHash, &user.CreatedAt, &user.UpdatedAt)
	if err != nil {
		return User{}, err
	}
	return user, nil
}

func (s *PostgresStore) GetUserByID(ctx context.Context, userID string) (User, error) {
	var user User
	err := s.db.QueryRowContext(ctx, `
		SELECT id, display_name, email, password_hash, created_at, updated_at
		FROM users WHERE id = $1
	`, userID).Scan(&user.ID, &user.DisplayName, &user.Email, &user.PasswordHash, &user.CreatedAt, &user.UpdatedAt)
	if err != nil {
		return User{}, err
	}
	return user, nil
}

// ---- projects ----

func (s *PostgresStore) InsertProject(ctx context.Context, project Project) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin insert project: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO projects (id, name, description, owner_id)
		VALUES ($1, $2, $3, $4)
	`, project.ID, project.Name, project.Description, project.OwnerID); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("insert project: %w", err)
	}
	// The owner is an approved member from the start.
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO project_memberships (id, project_id, user_id, status, role)
		VALUES ($1, $2, $3, 'approved', 'owner')
	`, project.ID+"_owner", project.ID, project.OwnerID); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("insert owner membership: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit insert project: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetProject(ctx context.Context, projectID string) (Project, error) {
	var project Project
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, description, owner_id, repo_full_name, repo_clone_url, created_at, updated_at
		FROM projects WHERE id = $1
	`, projectID).Scan(&project.ID, &project.Name, &project.Description, &project.OwnerID,
		&project.RepoFullName, &project.RepoCloneURL, &project.CreatedAt, &project.UpdatedAt)
	if err != nil {
		return Project{}, err
	}
	return project, nil
}

func (s *PostgresStore) ListProjectsForUser(ctx context.Context, userID string) ([]Project, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT p.id, p.name, p.description, p.owner_id, p.repo_full_name, p.repo_clone_url, p.created_at, p.updated_at
		FROM projects p
		JOIN project_memberships m ON m.project_id = p.id
		WHERE m.user_id = $1 AND m.status = 'approved'
		ORDER BY p.updated_at DESC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("list projects: %w", err)
	}
	defer rows.Close()

	items := make([]Project, 0)
	for rows.Next() {
		var item Project
		if err := rows.Scan(&item.ID, &item.Name, &item.Description, &item.OwnerID,
			&item.RepoFullName, &item.RepoCloneURL, &item.CreatedAt, &item.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan project: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate projects: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) SetProjectRepo(ctx context.Context, projectID, fullName, cloneURL string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE projects SET repo_full_name=$2, repo_clone_url=$3, updated_at=NOW() WHERE id=$1
	`, projectID, fullName, cloneURL)
	if err != nil {
		return fmt.Errorf("set project repo: %w", err)
	}
	return nil
}

// ---- memberships ----

// IsApprovedMember is the membership gate consumed by the chat service.
// True iff a membership row exists with status 'approved'.
func (s *PostgresStore) IsApprovedMember(ctx context.Context, projectID, userID string) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx, `
		SELECT EXISTS(
			SELECT 1 FROM project_memberships
			WHERE project_id=$1 AND user_id=$2 AND status='approved'
		)
	`, projectID, userID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check membership: %w", err)
	}
	return exists, nil
}

func (s *PostgresStore) RequestMembership(ctx context.Context, membership ProjectMembership) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO project_memberships (id, project_id, user_id, status, role)
		VALUES ($1, $2, $3, 'pending', 'member')
		ON CONFLICT (project_id, user_id) DO NOTHING
	`, membership.ID, membership.ProjectID, membership.UserID)
	if err != nil {
		return fmt.Errorf("request membership: %w", err)
	}
	return nil
}

func (s *PostgresStore) SetMembershipStatus(ctx context.Context, projectID, userID, status string) (bool, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE project_memberships SET status=$3, updated_at=NOW()
		WHERE project_id=$1 AND user_id=$2
	`, projectID, userID, status)
	if err != nil {
		return false, fmt.Errorf("set membership status: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("membership rows affected: %w", err)
	}
	return affected > 0, nil
}

func (s *PostgresStore) ListMembers(ctx context.Context, projectID string) ([]ProjectMembership, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT m.id, m.project_id, m.user_id, m.status, m.role, m.created_at, m.updated_at,
			u.display_name, u.email
		FROM project_memberships m
		JOIN users u ON u.id = m.user_id
		WHERE m.project_id = $1
		ORDER BY m.created_at ASC
	`, projectID)
	if err != nil {
		return nil, fmt.Errorf("list members: %w", err)
	}
	defer rows.Close()

	items := make([]ProjectMembership, 0)
	for rows.Next() {
		var item ProjectMembership
		if err := rows.Scan(&item.ID, &item.ProjectID, &item.UserID, &item.Status, &item.Role,
			&item.CreatedAt, &item.UpdatedAt, &item.UserName, &item.UserEmail); err != nil {
			return nil, fmt.Errorf("scan member: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate members: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) GetMembershipRole(ctx context.Context, projectID, userID string) (string, error) {
	var role string
	err := s.db.QueryRowContext(ctx, `
		SELECT role FROM project_memberships
		WHERE project_id=$1 AND user_id=$2 AND status='approved'
	`, projectID, userID).Scan(&role)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("read membership role: %w", err)
	}
	return role, nil
}

// ---- tasks ----

func (s *PostgresStore) InsertTask(ctx context.Context, task Task) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO tasks (id, project_id, title, description, status, assignee_id, due_at, created_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, task.ID, task.ProjectID, task.Title, task.Description, task.Status, task.AssigneeID, task.DueAt, task.CreatedBy)
	if err != nil {
		return fmt.Errorf("insert task: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetTask(ctx context.Context, taskID string) (Task, error) {
	var task Task
	err := s.db.QueryRowContext(ctx, `
		SELECT id, project_id, title, description, status, assignee_id, due_at, created_by, created_at, updated_at
		FROM tasks WHERE id = $1
	`, taskID).Scan(&task.ID, &task.ProjectID, &task.Title, &task.Description, &task.Status,
		&task.AssigneeID, &task.DueAt, &task.CreatedBy, &task.CreatedAt, &task.UpdatedAt)
	if err != nil {
		return Task{}, err
	}
	return task, nil
}

func (s *PostgresStore) ListTasks(ctx context.Context, projectID string) ([]Task, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, project_id, title, description, status, assignee_id, due_at, created_by, created_at, updated_at
		FROM tasks WHERE project_id = $1
		ORDER BY created_at ASC
	`, projectID)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()

	items := make([]Task, 0)
	for rows.Next() {
		var item Task
		if err := rows.Scan(&item.ID, &item.ProjectID, &item.Title, &item.Description, &item.Status,
			&item.AssigneeID, &item.DueAt, &item.CreatedBy, &item.CreatedAt, &item.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate tasks: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) UpdateTask(ctx context.Context, task Task) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE tasks SET title=$2, description=$3, status=$4, assignee_id=$5, due_at=$6, updated_at=NOW()
		WHERE id=$1
	`, task.ID, task.Title, task.Description, task.Status, task.AssigneeID, task.DueAt)
	if err != nil {
		return fmt.Errorf("update task: %w", err)
	}
	return nil
}

func (s *PostgresStore) DeleteTask(ctx context.Context, taskID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM tasks WHERE id=$1`, taskID)
	if err != nil {
		return fmt.Errorf("delete task: %w", err)
	}
	return nil
}

// ---- notes ----

func (s *PostgresStore) InsertNote(ctx context.Context, note Note) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO notes (id, project_id, title, body, created_by)
		VALUES ($1, $2, $3, $4, $5)
	`, note.ID, note.ProjectID, note.Title, note.Body, note.CreatedBy)
	if err != nil {
		return fmt.Errorf("insert note: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetNote(ctx context.Context, noteID string) (Note, error) {
	var note Note
	err := s.db.QueryRowContext(ctx, `
		SELECT id, project_id, title, body, created_by, created_at, updated_at
		FROM notes WHERE id = $1
	`, noteID).Scan(&note.ID, &note.ProjectID, &note.Title, &note.Body, &note.CreatedBy, &note.CreatedAt, &note.UpdatedAt)
	if err != nil {
		return Note{}, err
	}
	return note, nil
}

func (s *PostgresStore) ListNotes(ctx context.Context, projectID string) ([]Note, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, project_id, title, body, created_by, created_at, updated_at
		FROM notes WHERE project_id = $1
		ORDER BY updated_at DESC
	`, projectID)
	if err != nil {
		return nil, fmt.Errorf("list notes: %w", err)
	}
	defer rows.Close()

	items := make([]Note, 0)
	for rows.Next() {
		var item Note
		if err := rows.Scan(&item.ID, &item.ProjectID, &item.Title, &item.Body, &item.CreatedBy,
			&item.CreatedAt, &item.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan note: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate notes: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) UpdateNote(ctx context.Context, note Note) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE notes SET title=$2, body=$3, updated_at=NOW() WHERE id=$1
	`, note.ID, note.Title, note.Body)
	if err != nil {
		return fmt.Errorf("update note: %w", err)
	}
	return nil
}

func (s *PostgresStore) DeleteNote(ctx context.Context, noteID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM notes WHERE id=$1`, noteID)
	if err != nil {
		return fmt.Errorf("delete note: %w", err)
	}
	return nil
}

// ---- attachments ----

func (s *PostgresStore) InsertAttachment(ctx context.Context, attachment Attachment) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO attachments (id, project_id, file_name, object_key, content_type, size_bytes, uploaded_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, attachment.ID, attachment.ProjectID, attachment.FileName, attachment.ObjectKey,
		attachment.ContentType, attachment.SizeBytes, attachment.UploadedBy)
	if err != nil {
		return fmt.Errorf("insert attachment: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetAttachment(ctx context.Context, attachmentID string) (Attachment, error) {
	var item Attachment
	err := s.db.QueryRowContext(ctx, `
		SELECT id, project_id, file_name, object_key, content_type, size_bytes, uploaded_by, created_at
		FROM attachments WHERE id = $1
	`, attachmentID).Scan(&item.ID, &item.ProjectID, &item.FileName, &item.ObjectKey,
		&item.ContentType, &item.SizeBytes, &item.UploadedBy, &item.CreatedAt)
	if err != nil {
		return Attachment{}, err
	}
	return item, nil
}

func (s *PostgresStore) ListAttachments(ctx context.Context, projectID string) ([]Attachment, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, project_id, file_name, object_key, content_type, size_bytes, uploaded_by, created_at
		FROM attachments WHERE project_id = $1
		ORDER BY created_at DESC
	`, projectID)
	if err != nil {
		return nil, fmt.Errorf("list attachments: %w", err)
	}
	defer rows.Close()

	items := make([]Attachment, 0)
	for rows.Next() {
		var item Attachment
		if err := rows.Scan(&item.ID, &item.ProjectID, &item.FileName, &item.ObjectKey,
			&item.ContentType, &item.SizeBytes, &item.UploadedBy, &item.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan attachment: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate attachments: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) DeleteAttachment(ctx context.Context, attachmentID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM attachments WHERE id=$1`, attachmentID)
	if err != nil {
		return fmt.Errorf("delete attachment: %w", err)
	}
	return nil
}
