package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"taskroom/api/internal/auth"
	"taskroom/api/internal/authpw"
	"taskroom/api/internal/config"
	"taskroom/api/internal/export"
	"taskroom/api/internal/logging"
	"taskroom/api/internal/rbac"
	"taskroom/api/internal/repohost"
	"taskroom/api/internal/search"
	"taskroom/api/internal/session"
	"taskroom/api/internal/store"
	"taskroom/api/internal/util"
)

type Session struct {
	Token        string
	RefreshToken string
	UserID       string
	UserName     string
	JTI          string
	ExpiresAt    time.Time
}

type CreateProjectInput struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

type LinkRepoInput struct {
	FullName string `json:"fullName"`
	CloneURL string `json:"cloneUrl"`
}

type TaskInput struct {
	Title       string     `json:"title"`
	Description string     `json:"description"`
	Status      string     `json:"status"`
	AssigneeID  *string    `json:"assigneeId"`
	DueAt       *time.Time `json:"dueAt"`
}

type NoteInput struct {
	Title string `json:"title"`
	Body  string `json:"body"`
}

var allowedTaskStatuses = map[string]struct{}{
	store.TaskStatusTodo:       {},
	store.TaskStatusInProgress: {},
	store.TaskStatusDone:       {},
}

type dataStore interface {
	CreateUser(ctx context.Context, user store.User) error
	GetUserByEmail(ctx context.Context, email string) (store.User, error)
	GetUserByID(ctx context.Context, userID string) (store.User, error)

	InsertProject(ctx context.Context, project store.Project) error
	GetProject(ctx context.Context, projectID string) (store.Project, error)
	ListProjectsForUser(ctx context.Context, userID string) ([]store.Project, error)
	SetProjectRepo(ctx context.Context, projectID, fullName, cloneURL string) error

	IsApprovedMember(ctx context.Context, projectID, userID string) (bool, error)
	RequestMembership(ctx context.Context, membership store.ProjectMembership) error
	SetMembershipStatus(ctx context.Context, projectID, userID, status string) (bool, error)
	ListMembers(ctx context.Context, projectID string) ([]store.ProjectMembership, error)
	GetMembershipRole(ctx context.Context, projectID, userID string) (string, error)

	InsertTask(ctx context.Context, task store.Task) error
	GetTask(ctx context.Context, taskID string) (store.Task, error)
	ListTasks(ctx context.Context, projectID string) ([]store.Task, error)
	UpdateTask(ctx context.Context, task store.Task) error
	DeleteTask(ctx context.Context, taskID string) error

	InsertNote(ctx context.Context, note store.Note) error
	GetNote(ctx context.Context, noteID string) (store.Note, error)
	ListNotes(ctx context.Context, projectID string) ([]store.Note, error)
	UpdateNote(ctx context.Context, note store.Note) error
	DeleteNote(ctx context.Context, noteID string) error

	ListMessagePage(ctx context.Context, projectID string, limit, offset int) ([]store.ChatMessage, error)
	GetMessage(ctx context.Context, id int64) (store.ChatMessage, error)
	UpdateMessageStatus(ctx context.Context, id int64, status string) error
	ClearProjectMessages(ctx context.Context, projectID string) (int64, error)

	InsertAttachment(ctx context.Context, attachment store.Attachment) error
	GetAttachment(ctx context.Context, attachmentID string) (store.Attachment, error)
	ListAttachments(ctx context.Context, projectID string) ([]store.Attachment, error)
	DeleteAttachment(ctx context.Context, attachmentID string) error

	Ping(ctx context.Context) error
}

type sessionStore interface {
	Save(ctx context.Context, tokenHash string, record session.Record, expiresAt time.Time) error
	Lookup(ctx context.Context, tokenHash string) (session.Record, error)
	Revoke(ctx context.Context, tokenHash string) error
}

type repoMetaService interface {
	GetRepoMeta(ctx context.Context, fullName string) (repohost.RepoMeta, error)
	InvalidateRepoMeta(ctx context.Context, fullName string) error
}

type searcher interface {
	Search(q search.Query) search.Response
	IndexTask(t search.TaskRecord)
	IndexNote(n search.NoteRecord)
	DeleteTask(id string)
	DeleteNote(id string)
}

type fileStore interface {
	Upload(ctx context.Context, key string, r io.Reader, size int64, contentType string) error
	Download(ctx context.Context, key string) (io.ReadCloser, error)
	Delete(ctx context.Context, key string) error
	PresignedGetURL(ctx context.Context, key string, expires time.Duration) (string, error)
}

type exporter interface {
	Export(ctx context.Context, req export.Request) (*export.Result, error)
}

type approvalNotifier interface {
	IsConfigured() bool
	SendMembershipApproved(to, userName, projectName string) error
}

// Service carries the REST-facing application logic. Optional
// collaborators (repos, search, files, exporter) may be nil; their
// endpoints answer 503 when unconfigured.
type Service struct {
	cfg      config.Config
	store    dataStore
	sessions sessionStore
	repos    repoMetaService
	search   searcher
	files    fileStore
	exporter exporter
	notifier approvalNotifier
}

func New(cfg config.Config, data dataStore, sessions sessionStore) *Service {
	return &Service{
		cfg:      cfg,
		store:    data,
		sessions: sessions,
	}
}

func (s *Service) WithRepoHost(repos repoMetaService) *Service { s.repos = repos; return s }
func (s *Service) WithSearch(search searcher) *Service         { s.search = search; return s }
func (s *Service) WithFiles(files fileStore) *Service          { s.files = files; return s }
func (s *Service) WithExporter(exporter exporter) *Service     { s.exporter = exporter; return s }

func (s *Service) WithNotifier(notifier approvalNotifier) *Service { s.notifier = notifier; return s }

// Ready reports per-dependency health for the readiness endpoint.
func (s *Service) Ready(ctx context.Context) map[string]error {
	checks := map[string]error{"postgres": s.store.Ping(ctx)}
	if pinger, ok := s.sessions.(interface{ Ping(context.Context) error }); ok {
		checks["redis"] = pinger.Ping(ctx)
	}
	return checks
}

// ---- auth ----

func (s *Service) SignUp(ctx context.Context, name, email, password string) (Session, error) {
	name = strings.TrimSpace(name)
	email = strings.ToLower(strings.TrimSpace(email))
	if name == "" || email == "" {
		return Session{}, domainError(http.StatusBadRequest, "INVALID_INPUT", "Name and email are required", nil)
	}
	if !strings.Contains(email, "@") {
		return Session{}, domainError(http.StatusBadRequest, "INVALID_EMAIL", "Email address is invalid", nil)
	}

	if _, err := s.store.GetUserByEmail(ctx, email); err == nil {
		return Session{}, domainError(http.StatusConflict, "EMAIL_TAKEN", "An account with this email already exists", nil)
	} else if !errors.Is(err, sql.ErrNoRows) {
		return Session{}, fmt.Errorf("check existing user: %w", err)
	}

	hash, err := authpw.HashPassword(password)
	if err != nil {
		if errors.Is(err, authpw.ErrPasswordTooShort) {
			return Session{}, domainError(http.StatusBadRequest, "WEAK_PASSWORD", "Password must be at least 8 characters", nil)
		}
		return Session{}, fmt.Errorf("hash password: %w", err)
	}

	user := store.User{
		ID:           util.NewID("user"),
		DisplayName:  name,
		Email:        email,
		PasswordHash: hash,
	}
	if err := s.store.CreateUser(ctx, user); err != nil {
		return Session{}, fmt.Errorf("create user: %w", err)
	}

	return s.issueSession(ctx, user)
}

func (s *Service) SignIn(ctx context.Context, email, password string) (Session, error) {
	email = strings.ToLower(strings.TrimSpace(email))

	user, err := s.store.GetUserByEmail(ctx, email)
	if errors.Is(err, sql.ErrNoRows) {
		return Session{}, domainError(http.StatusUnauthorized, "INVALID_CREDENTIALS", "Email or password is incorrect", nil)
	}
	if err != nil {
		return Session{}, fmt.Errorf("load user: %w", err)
	}
	if err := authpw.VerifyPassword(user.PasswordHash, password); err != nil {
		return Session{}, domainError(http.StatusUnauthorized, "INVALID_CREDENTIALS", "Email or password is incorrect", nil)
	}

	return s.issueSession(ctx, user)
}

// Refresh rotates the refresh token: the presented token is revoked
// and a fresh pair is issued.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (Session, error) {
	tokenHash := auth.HashToken(refreshToken)

	record, err := s.sessions.Lookup(ctx, tokenHash)
	if errors.Is(err, session.ErrNotFound) {
		return Session{}, domainError(http.StatusUnauthorized, "UNAUTHORIZED", "Refresh token invalid", nil)
	}
	if err != nil {
		return Session{}, fmt.Errorf("lookup refresh session: %w", err)
	}
	if err := s.sessions.Revoke(ctx, tokenHash); err != nil {
		return Session{}, fmt.Errorf("revoke refresh session: %w", err)
	}

	user, err := s.store.GetUserByID(ctx, record.UserID)
	if err != nil {
		return Session{}, fmt.Errorf("load user: %w", err)
	}
	return s.issueSession(ctx, user)
}

func (s *Service) Logout(ctx context.Context, refreshToken string) error {
	if refreshToken == "" {
		return nil
	}
	return s.sessions.Revoke(ctx, auth.HashToken(refreshToken))
}

func (s *Service) SessionFromToken(token string) (Session, error) {
	claims, err := auth.ParseToken([]byte(s.cfg.JWTSecret), token)
	if err != nil {
		return Session{}, err
	}
	return Session{
		Token:     token,
		UserID:    claims.Subject,
		UserName:  claims.Name,
		JTI:       claims.ID,
		ExpiresAt: claims.ExpiresAt.Time,
	}, nil
}

func (s *Service) issueSession(ctx context.Context, user store.User) (Session, error) {
	token, jti, err := auth.IssueToken([]byte(s.cfg.JWTSecret), user.ID, user.DisplayName, s.cfg.AccessTTL)
	if err != nil {
		return Session{}, fmt.Errorf("issue token: %w", err)
	}

	refresh := util.NewID("rft") + util.NewID("")
	expiresAt := time.Now().Add(s.cfg.RefreshTTL)
	if err := s.sessions.Save(ctx, auth.HashToken(refresh), session.Record{
		UserID:      user.ID,
		DisplayName: user.DisplayName,
	}, expiresAt); err != nil {
		return Session{}, fmt.Errorf("save refresh session: %w", err)
	}

	return Session{
		Token:        token,
		RefreshToken: refresh,
		UserID:       user.ID,
		UserName:     user.DisplayName,
		JTI:          jti,
		ExpiresAt:    time.Now().Add(s.cfg.AccessTTL),
	}, nil
}

// ---- projects ----

func (s *Service) CreateProject(ctx context.Context, sess Session, input CreateProjectInput) (store.Project, error) {
	name := strings.TrimSpace(input.Name)
	if name == "" {
		return store.Project{}, domainError(http.StatusBadRequest, "INVALID_INPUT", "Project name is required", nil)
	}

	project := store.Project{
		ID:          util.NewID("proj"),
		Name:        name,
		Description: strings.TrimSpace(input.Description),
		OwnerID:     sess.UserID,
	}
	if err := s.store.InsertProject(ctx, project); err != nil {
		return store.Project{}, fmt.Errorf("insert project: %w", err)
	}
	return s.store.GetProject(ctx, project.ID)
}

func (s *Service) GetProject(ctx context.Context, sess Session, projectID string) (store.Project, error) {
	if err := s.requireMember(ctx, sess, projectID); err != nil {
		return store.Project{}, err
	}
	project, err := s.store.GetProject(ctx, projectID)
	if errors.Is(err, sql.ErrNoRows) {
		return store.Project{}, domainError(http.StatusNotFound, "NOT_FOUND", "Project not found", nil)
	}
	return project, err
}

func (s *Service) ListProjects(ctx context.Context, sess Session) ([]store.Project, error) {
	return s.store.ListProjectsForUser(ctx, sess.UserID)
}

// ---- membership ----

// RequestJoin files a pending membership request. Repeats are
// harmless; an existing row of any status stays untouched.
func (s *Service) RequestJoin(ctx context.Context, sess Session, projectID string) error {
	if _, err := s.store.GetProject(ctx, projectID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domainError(http.StatusNotFound, "NOT_FOUND", "Project not found", nil)
		}
		return fmt.Errorf("load project: %w", err)
	}
	return s.store.RequestMembership(ctx, store.ProjectMembership{
		ID:        util.NewID("mem"),
		ProjectID: projectID,
		UserID:    sess.UserID,
	})
}

func (s *Service) ApproveMember(ctx context.Context, sess Session, projectID, userID string) error {
	if err := s.setMemberStatus(ctx, sess, projectID, userID, store.MembershipStatusApproved); err != nil {
		return err
	}
	s.notifyApproval(ctx, projectID, userID)
	return nil
}

// notifyApproval emails the approved user. Best effort only; a mail
// failure never rolls back the approval.
func (s *Service) notifyApproval(ctx context.Context, projectID, userID string) {
	if s.notifier == nil || !s.notifier.IsConfigured() {
		return
	}
	user, err := s.store.GetUserByID(ctx, userID)
	if err != nil {
		logging.L().Warn().Err(err).Str("userId", userID).Msg("approval mail skipped, user lookup failed")
		return
	}
	project, err := s.store.GetProject(ctx, projectID)
	if err != nil {
		logging.L().Warn().Err(err).Str("projectId", projectID).Msg("approval mail skipped, project lookup failed")
		return
	}
	go func() {
		if err := s.notifier.SendMembershipApproved(user.Email, user.DisplayName, project.Name); err != nil {
			logging.L().Warn().Err(err).Str("userId", userID).Msg("approval mail failed")
		}
	}()
}

func (s *Service) RejectMember(ctx context.Context, sess Session, projectID, userID string) error {
	return s.setMemberStatus(ctx, sess, projectID, userID, store.MembershipStatusRejected)
}

func (s *Service) setMemberStatus(ctx context.Context, sess Session, projectID, userID, status string) error {
	if err := s.requireRole(ctx, sess, projectID, rbac.ActionManageMembers); err != nil {
		return err
	}
	ok, err := s.store.SetMembershipStatus(ctx, projectID, userID, status)
	if err != nil {
		return fmt.Errorf("set membership status: %w", err)
	}
	if !ok {
		return domainError(http.StatusNotFound, "NOT_FOUND", "Membership request not found", nil)
	}
	return nil
}

func (s *Service) ListMembers(ctx context.Context, sess Session, projectID string) ([]store.ProjectMembership, error) {
	if err := s.requireMember(ctx, sess, projectID); err != nil {
		return nil, err
	}
	return s.store.ListMembers(ctx, projectID)
}

// ---- repository linking ----

func (s *Service) LinkRepo(ctx context.Context, sess Session, projectID string, input LinkRepoInput) error {
	if err := s.requireRole(ctx, sess, projectID, rbac.ActionManageProject); err != nil {
		return err
	}
	fullName := strings.TrimSpace(input.FullName)
	if fullName == "" || !strings.Contains(fullName, "/") {
		return domainError(http.StatusBadRequest, "INVALID_INPUT", "Repository name must look like owner/name", nil)
	}
	cloneURL := strings.TrimSpace(input.CloneURL)
	if cloneURL == "" {
		cloneURL = "https://github.com/" + fullName + ".git"
	}

	if err := s.store.SetProjectRepo(ctx, projectID, fullName, cloneURL); err != nil {
		return fmt.Errorf("link repo: %w", err)
	}
	if s.repos != nil {
		if err := s.repos.InvalidateRepoMeta(ctx, fullName); err != nil {
			return fmt.Errorf("invalidate repo cache: %w", err)
		}
	}
	return nil
}

func (s *Service) GetRepoMeta(ctx context.Context, sess Session, projectID string) (repohost.RepoMeta, error) {
	project, err := s.GetProject(ctx, sess, projectID)
	if err != nil {
		return repohost.RepoMeta{}, err
	}
	if project.RepoFullName == "" {
		return repohost.RepoMeta{}, domainError(http.StatusNotFound, "NO_REPO", "Project has no linked repository", nil)
	}
	if s.repos == nil {
		return repohost.RepoMeta{}, domainError(http.StatusServiceUnavailable, "REPO_HOST_DISABLED", "Repository metadata is not configured", nil)
	}

	meta, err := s.repos.GetRepoMeta(ctx, project.RepoFullName)
	if errors.Is(err, repohost.ErrRepoNotFound) {
		return repohost.RepoMeta{}, domainError(http.StatusNotFound, "REPO_NOT_FOUND", "Linked repository not found on the provider", nil)
	}
	if err != nil {
		return repohost.RepoMeta{}, fmt.Errorf("fetch repo meta: %w", err)
	}
	return meta, nil
}

func (s *Service) ListRepoRefs(ctx context.Context, sess Session, projectID string) (repohost.Refs, error) {
	project, err := s.GetProject(ctx, sess, projectID)
	if err != nil {
		return repohost.Refs{}, err
	}
	if project.RepoCloneURL == "" {
		return repohost.Refs{}, domainError(http.StatusNotFound, "NO_REPO", "Project has no linked repository", nil)
	}
	refs, err := repohost.ListRemoteRefs(ctx, project.RepoCloneURL)
	if err != nil {
		return repohost.Refs{}, domainError(http.StatusBadGateway, "REPO_UNREACHABLE", "Could not list repository refs", nil)
	}
	return refs, nil
}

// ---- tasks ----

func (s *Service) CreateTask(ctx context.Context, sess Session, projectID string, input TaskInput) (store.Task, error) {
	if err := s.requireMember(ctx, sess, projectID); err != nil {
		return store.Task{}, err
	}
	title := strings.TrimSpace(input.Title)
	if title == "" {
		return store.Task{}, domainError(http.StatusBadRequest, "INVALID_INPUT", "Task title is required", nil)
	}
	status := input.Status
	if status == "" {
		status = store.TaskStatusTodo
	}
	if _, ok := allowedTaskStatuses[status]; !ok {
		return store.Task{}, domainError(http.StatusBadRequest, "INVALID_STATUS", "Unknown task status", map[string]any{"status": status})
	}

	task := store.Task{
		ID:          util.NewID("task"),
		ProjectID:   projectID,
		Title:       title,
		Description: strings.TrimSpace(input.Description),
		Status:      status,
		AssigneeID:  input.AssigneeID,
		DueAt:       input.DueAt,
		CreatedBy:   sess.UserID,
	}
	if err := s.store.InsertTask(ctx, task); err != nil {
		return store.Task{}, fmt.Errorf("insert task: %w", err)
	}
	s.indexTask(task)
	return s.store.GetTask(ctx, task.ID)
}

func (s *Service) GetTask(ctx context.Context, sess Session, projectID, taskID string) (store.Task, error) {
	if err := s.requireMember(ctx, sess, projectID); err != nil {
		return store.Task{}, err
	}
	return s.loadProjectTask(ctx, projectID, taskID)
}

func (s *Service) ListTasks(ctx context.Context, sess Session, projectID string) ([]store.Task, error) {
	if err := s.requireMember(ctx, sess, projectID); err != nil {
		return nil, err
	}
	return s.store.ListTasks(ctx, projectID)
}

func (s *Service) UpdateTask(ctx context.Context, sess Session, projectID, taskID string, input TaskInput) (store.Task, error) {
	if err := s.requireMember(ctx, sess, projectID); err != nil {
		return store.Task{}, err
	}
	task, err := s.loadProjectTask(ctx, projectID, taskID)
	if err != nil {
		return store.Task{}, err
	}

	if title := strings.TrimSpace(input.Title); title != "" {
		task.Title = title
	}
	if input.Description != "" {
		task.Description = strings.TrimSpace(input.Description)
	}
	if input.Status != "" {
		if _, ok := allowedTaskStatuses[input.Status]; !ok {
			return store.Task{}, domainError(http.StatusBadRequest, "INVALID_STATUS", "Unknown task status", map[string]any{"status": input.Status})
		}
		task.Status = input.Status
	}
	if input.AssigneeID != nil {
		task.AssigneeID = input.AssigneeID
	}
	if input.DueAt != nil {
		task.DueAt = input.DueAt
	}

	if err := s.store.UpdateTask(ctx, task); err != nil {
		return store.Task{}, fmt.Errorf("update task: %w", err)
	}
	s.indexTask(task)
	return s.store.GetTask(ctx, task.ID)
}

func (s *Service) DeleteTask(ctx context.Context, sess Session, projectID, taskID string) error {
	if err := s.requireMember(ctx, sess, projectID); err != nil {
		return err
	}
	if _, err := s.loadProjectTask(ctx, projectID, taskID); err != nil {
		return err
	}
	if err := s.store.DeleteTask(ctx, taskID); err != nil {
		return fmt.Errorf("delete task: %w", err)
	}
	if s.search != nil {
		s.search.DeleteTask(taskID)
	}
	return nil
}

func (s *Service) loadProjectTask(ctx context.Context, projectID, taskID string) (store.Task, error) {
	task, err := s.store.GetTask(ctx, taskID)
	if errors.Is(err, sql.ErrNoRows) {
		return store.Task{}, domainError(http.StatusNotFound, "NOT_FOUND", "Task not found", nil)
	}
	if err != nil {
		return store.Task{}, fmt.Errorf("load task: %w", err)
	}
	if task.ProjectID != projectID {
		return store.Task{}, domainError(http.StatusNotFound, "NOT_FOUND", "Task not found", nil)
	}
	return task, nil
}

func (s *Service) indexTask(task store.Task) {
	if s.search == nil {
		return
	}
	s.search.IndexTask(search.TaskRecord{
		ID:          task.ID,
		Title:       task.Title,
		Description: task.Description,
		ProjectID:   task.ProjectID,
		Status:      task.Status,
	})
}

// ---- notes ----

func (s *Service) CreateNote(ctx context.Context, sess Session, projectID string, input NoteInput) (store.Note, error) {
	if err := s.requireMember(ctx, sess, projectID); err != nil {
		return store.Note{}, err
	}
	title := strings.TrimSpace(input.Title)
	if title == "" {
		return store.Note{}, domainError(http.StatusBadRequest, "INVALID_INPUT", "Note title is required", nil)
	}

	note := store.Note{
		ID:        util.NewID("note"),
		ProjectID: projectID,
		Title:     title,
		Body:      input.Body,
		CreatedBy: sess.UserID,
	}
	if err := s.store.InsertNote(ctx, note); err != nil {
		return store.Note{}, fmt.Errorf("insert note: %w", err)
	}
	s.indexNote(note)
	return s.store.GetNote(ctx, note.ID)
}

func (s *Service) ListNotes(ctx context.Context, sess Session, projectID string) ([]store.Note, error) {
	if err := s.requireMember(ctx, sess, projectID); err != nil {
		return nil, err
	}
	return s.store.ListNotes(ctx, projectID)
}

func (s *Service) UpdateNote(ctx context.Context, sess Session, projectID, noteID string, input NoteInput) (store.Note, error) {
	if err := s.requireMember(ctx, sess, projectID); err != nil {
		return store.Note{}, err
	}
	note, err := s.loadProjectNote(ctx, projectID, noteID)
	if err != nil {
		return store.Note{}, err
	}

	if title := strings.TrimSpace(input.Title); title != "" {
		note.Title = title
	}
	if input.Body != "" {
		note.Body = input.Body
	}

	if err := s.store.UpdateNote(ctx, note); err != nil {
		return store.Note{}, fmt.Errorf("update note: %w", err)
	}
	s.indexNote(note)
	return s.store.GetNote(ctx, note.ID)
}

func (s *Service) DeleteNote(ctx context.Context, sess Session, projectID, noteID string) error {
	if err := s.requireMember(ctx, sess, projectID); err != nil {
		return err
	}
	if _, err := s.loadProjectNote(ctx, projectID, noteID); err != nil {
		return err
	}
	if err := s.store.DeleteNote(ctx, noteID); err != nil {
		return fmt.Errorf("delete note: %w", err)
	}
	if s.search != nil {
		s.search.DeleteNote(noteID)
	}
	return nil
}

func (s *Service) loadProjectNote(ctx context.Context, projectID, noteID string) (store.Note, error) {
	note, err := s.store.GetNote(ctx, noteID)
	if errors.Is(err, sql.ErrNoRows) {
		return store.Note{}, domainError(http.StatusNotFound, "NOT_FOUND", "Note not found", nil)
	}
	if err != nil {
		return store.Note{}, fmt.Errorf("load note: %w", err)
	}
	if note.ProjectID != projectID {
		return store.Note{}, domainError(http.StatusNotFound, "NOT_FOUND", "Note not found", nil)
	}
	return note, nil
}

func (s *Service) indexNote(note store.Note) {
	if s.search == nil {
		return
	}
	s.search.IndexNote(search.NoteRecord{
		ID:        note.ID,
		Title:     note.Title,
		Body:      note.Body,
		ProjectID: note.ProjectID,
	})
}

// ---- chat over REST ----

// ChatHistory pages through the project's messages oldest-first.
// Soft-deleted rows never appear.
func (s *Service) ChatHistory(ctx context.Context, sess Session, projectID string, limit, offset int) ([]store.ChatMessage, error) {
	if err := s.requireMember(ctx, sess, projectID); err != nil {
		return nil, err
	}
	return s.store.ListMessagePage(ctx, projectID, limit, offset)
}

// ClearChat wipes the project's chat history. Owner only, and the
// rows are really gone, not soft-deleted.
func (s *Service) ClearChat(ctx context.Context, sess Session, projectID string) (int64, error) {
	if err := s.requireRole(ctx, sess, projectID, rbac.ActionClearChat); err != nil {
		return 0, err
	}
	return s.store.ClearProjectMessages(ctx, projectID)
}

var allowedMessageStatuses = map[string]struct{}{
	store.MessageStatusSent:      {},
	store.MessageStatusDelivered: {},
	store.MessageStatusRead:      {},
}

// MarkMessageStatus records a delivery-status transition for a message
// (sent -> delivered -> read). Any approved member may report one.
func (s *Service) MarkMessageStatus(ctx context.Context, sess Session, projectID string, messageID int64, status string) error {
	if err := s.requireMember(ctx, sess, projectID); err != nil {
		return err
	}
	if _, ok := allowedMessageStatuses[status]; !ok {
		return domainError(http.StatusBadRequest, "INVALID_STATUS", "Unknown message status", map[string]any{"status": status})
	}

	msg, err := s.store.GetMessage(ctx, messageID)
	if errors.Is(err, sql.ErrNoRows) {
		return domainError(http.StatusNotFound, "NOT_FOUND", "Message not found", nil)
	}
	if err != nil {
		return fmt.Errorf("load message: %w", err)
	}
	if msg.ProjectID != projectID {
		return domainError(http.StatusNotFound, "NOT_FOUND", "Message not found", nil)
	}
	return s.store.UpdateMessageStatus(ctx, messageID, status)
}

// ---- search ----

func (s *Service) Search(ctx context.Context, sess Session, projectID, text, filterType string, limit, offset int) (search.Response, error) {
	if err := s.requireMember(ctx, sess, projectID); err != nil {
		return search.Response{}, err
	}
	if s.search == nil {
		return search.Response{}, domainError(http.StatusServiceUnavailable, "SEARCH_DISABLED", "Search is not configured", nil)
	}
	return s.search.Search(search.Query{
		Text:            text,
		FilterType:      search.ResultType(filterType),
		FilterProjectID: projectID,
		Limit:           limit,
		Offset:          offset,
	}), nil
}

// ---- attachments ----

func (s *Service) UploadAttachment(ctx context.Context, sess Session, projectID, fileName, contentType string, size int64, r io.Reader) (store.Attachment, error) {
	if err := s.requireMember(ctx, sess, projectID); err != nil {
		return store.Attachment{}, err
	}
	if s.files == nil {
		return store.Attachment{}, domainError(http.StatusServiceUnavailable, "ATTACHMENTS_DISABLED", "Attachment storage is not configured", nil)
	}
	fileName = strings.TrimSpace(fileName)
	if fileName == "" {
		return store.Attachment{}, domainError(http.StatusBadRequest, "INVALID_INPUT", "File name is required", nil)
	}

	id := util.NewID("att")
	objectKey := projectID + "/" + id + "/" + fileName
	if err := s.files.Upload(ctx, objectKey, r, size, contentType); err != nil {
		return store.Attachment{}, fmt.Errorf("upload attachment: %w", err)
	}

	attachment := store.Attachment{
		ID:          id,
		ProjectID:   projectID,
		FileName:    fileName,
		ObjectKey:   objectKey,
		ContentType: contentType,
		SizeBytes:   size,
		UploadedBy:  sess.UserID,
	}
	if err := s.store.InsertAttachment(ctx, attachment); err != nil {
		return store.Attachment{}, fmt.Errorf("record attachment: %w", err)
	}
	return s.store.GetAttachment(ctx, id)
}

func (s *Service) ListAttachments(ctx context.Context, sess Session, projectID string) ([]store.Attachment, error) {
	if err := s.requireMember(ctx, sess, projectID); err != nil {
		return nil, err
	}
	return s.store.ListAttachments(ctx, projectID)
}

// DownloadAttachment streams attachment content for clients that
// cannot follow presigned URLs. The caller owns the reader.
func (s *Service) DownloadAttachment(ctx context.Context, sess Session, projectID, attachmentID string) (store.Attachment, io.ReadCloser, error) {
	attachment, err := s.projectAttachment(ctx, sess, projectID, attachmentID)
	if err != nil {
		return store.Attachment{}, nil, err
	}
	body, err := s.files.Download(ctx, attachment.ObjectKey)
	if err != nil {
		return store.Attachment{}, nil, fmt.Errorf("download attachment: %w", err)
	}
	return attachment, body, nil
}

// DeleteAttachment removes the object and then its row. A dangling row
// is worse than a dangling object, so storage goes first.
func (s *Service) DeleteAttachment(ctx context.Context, sess Session, projectID, attachmentID string) error {
	attachment, err := s.projectAttachment(ctx, sess, projectID, attachmentID)
	if err != nil {
		return err
	}
	if err := s.files.Delete(ctx, attachment.ObjectKey); err != nil {
		return fmt.Errorf("delete attachment object: %w", err)
	}
	if err := s.store.DeleteAttachment(ctx, attachmentID); err != nil {
		return fmt.Errorf("delete attachment row: %w", err)
	}
	return nil
}

// AttachmentURL returns a short-lived presigned download URL.
func (s *Service) AttachmentURL(ctx context.Context, sess Session, projectID, attachmentID string) (string, error) {
	attachment, err := s.projectAttachment(ctx, sess, projectID, attachmentID)
	if err != nil {
		return "", err
	}
	url, err := s.files.PresignedGetURL(ctx, attachment.ObjectKey, 15*time.Minute)
	if err != nil {
		return "", fmt.Errorf("presign attachment: %w", err)
	}
	return url, nil
}

func (s *Service) projectAttachment(ctx context.Context, sess Session, projectID, attachmentID string) (store.Attachment, error) {
	if err := s.requireMember(ctx, sess, projectID); err != nil {
		return store.Attachment{}, err
	}
	if s.files == nil {
		return store.Attachment{}, domainError(http.StatusServiceUnavailable, "ATTACHMENTS_DISABLED", "Attachment storage is not configured", nil)
	}

	attachment, err := s.store.GetAttachment(ctx, attachmentID)
	if errors.Is(err, sql.ErrNoRows) {
		return store.Attachment{}, domainError(http.StatusNotFound, "NOT_FOUND", "Attachment not found", nil)
	}
	if err != nil {
		return store.Attachment{}, fmt.Errorf("load attachment: %w", err)
	}
	if attachment.ProjectID != projectID {
		return store.Attachment{}, domainError(http.StatusNotFound, "NOT_FOUND", "Attachment not found", nil)
	}
	return attachment, nil
}

// ---- transcript export ----

func (s *Service) ExportTranscript(ctx context.Context, sess Session, projectID string, format export.Format) (*export.Result, error) {
	if err := s.requireMember(ctx, sess, projectID); err != nil {
		return nil, err
	}
	if s.exporter == nil {
		return nil, domainError(http.StatusServiceUnavailable, "EXPORT_DISABLED", "Transcript export is not configured", nil)
	}
	result, err := s.exporter.Export(ctx, export.Request{ProjectID: projectID, Format: format})
	if err != nil {
		if errors.Is(err, export.ErrPDFDependencyMissing) || errors.Is(err, export.ErrDOCXDependencyMissing) {
			return nil, domainError(http.StatusServiceUnavailable, "EXPORT_UNAVAILABLE", "Export dependencies are not installed", nil)
		}
		return nil, fmt.Errorf("export transcript: %w", err)
	}
	return result, nil
}

// ---- authorization helpers ----

func (s *Service) requireMember(ctx context.Context, sess Session, projectID string) error {
	ok, err := s.store.IsApprovedMember(ctx, projectID, sess.UserID)
	if err != nil {
		return fmt.Errorf("check membership: %w", err)
	}
	if !ok {
		return domainError(http.StatusForbidden, "FORBIDDEN", "Not an approved member of this project", nil)
	}
	return nil
}

func (s *Service) requireRole(ctx context.Context, sess Session, projectID string, action rbac.Action) error {
	role, err := s.store.GetMembershipRole(ctx, projectID, sess.UserID)
	if err != nil {
		return fmt.Errorf("read membership role: %w", err)
	}
	if role == "" || !rbac.Can(rbac.Normalize(role), action) {
		return domainError(http.StatusForbidden, "FORBIDDEN", "Insufficient project role", nil)
	}
	return nil
}

// parsePage reads limit/offset strings into sane bounds.
func parsePage(limitStr, offsetStr string) (int, int) {
	limit, _ := strconv.Atoi(limitStr)
	offset, _ := strconv.Atoi(offsetStr)
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}
