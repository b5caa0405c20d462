package store

import "time"

type User struct {
	ID           string    `json:"id"`
	DisplayName  string    `json:"displayName"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

type Project struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	Description  string    `json:"description"`
	OwnerID      string    `json:"ownerId"`
	RepoFullName string    `json:"repoFullName,omitempty"`
	RepoCloneURL string    `json:"repoCloneUrl,omitempty"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// MembershipStatusApproved is the only status the chat membership gate
// accepts. Pending and rejected rows exist but grant nothing.
const (
	MembershipStatusPending  = "pending"
	MembershipStatusApproved = "approved"
	MembershipStatusRejected = "rejected"
)

type ProjectMembership struct {
	ID        string    `json:"id"`
	ProjectID string    `json:"projectId"`
	UserID    string    `json:"userId"`
	Status    string    `json:"status"`
	Role      string    `json:"role"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
	// Joined for API responses.
	UserName  string `json:"userName"`
	UserEmail string `json:"userEmail"`
}

const (
	TaskStatusTodo       = "todo"
	TaskStatusInProgress = "in_progress"
	TaskStatusDone       = "done"
)

type Task struct {
	ID          string     `json:"id"`
	ProjectID   string     `json:"projectId"`
	Title       string     `json:"title"`
	Description string     `json:"description"`
	Status      string     `json:"status"`
	AssigneeID  *string    `json:"assigneeId,omitempty"`
	DueAt       *time.Time `json:"dueAt,omitempty"`
	CreatedBy   string     `json:"createdBy"`
	CreatedAt   time.Time  `json:"createdAt"`
	UpdatedAt   time.Time  `json:"updatedAt"`
}

type Note struct {
	ID        string    `json:"id"`
	ProjectID string    `json:"projectId"`
	Title     string    `json:"title"`
	Body      string    `json:"body"`
	CreatedBy string    `json:"createdBy"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

const (
	MessageStatusSent      = "sent"
	MessageStatusDelivered = "delivered"
	MessageStatusRead      = "read"
)

// ChatMessage is the durable chat row. The reply fields are a
// denormalized snapshot captured at send time; deleting the quoted
// message does not invalidate them.
type ChatMessage struct {
	ID               int64      `json:"id"`
	ProjectID        string     `json:"projectId"`
	SenderID         string     `json:"senderId"`
	SenderName       string     `json:"senderName"`
	Content          string     `json:"content"`
	ReplyToMessageID *int64     `json:"replyToMessageId,omitempty"`
	ReplyToUserName  *string    `json:"replyToUserName,omitempty"`
	ReplyToContent   *string    `json:"replyToContent,omitempty"`
	Status           string     `json:"status"`
	IsDeleted        bool       `json:"isDeleted"`
	EditedAt         *time.Time `json:"editedAt,omitempty"`
	CreatedAt        time.Time  `json:"createdAt"`
	UpdatedAt        time.Time  `json:"updatedAt"`
}

type Attachment struct {
	ID          string    `json:"id"`
	ProjectID   string    `json:"projectId"`
	FileName    string    `json:"fileName"`
	ObjectKey   string    `json:"-"`
	ContentType string    `json:"contentType"`
	SizeBytes   int64     `json:"sizeBytes"`
	UploadedBy  string    `json:"uploadedBy"`
	CreatedAt   time.Time `json:"createdAt"`
}
