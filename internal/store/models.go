package store

import (
	"encoding/json"
	"time"
)

type User struct {
	ID             string
	Name           string
	Email          string
	PasswordHash   string
	Role           string
	Title          string
	ProfilePicture string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// UserRef is the subset of user fields embedded in task, message, document
// and file payloads. Broadcast payloads carry these instead of bare ids so
// clients never need a follow-up lookup to render an event.
type UserRef struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
}

type Workspace struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	OwnerID   string    `json:"ownerId"`
	MemberIDs []string  `json:"memberIds"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

const (
	TaskStatusTodo       = "To Do"
	TaskStatusInProgress = "In Progress"
	TaskStatusDone       = "Done"
)

func ValidTaskStatus(status string) bool {
	return status == TaskStatusTodo || status == TaskStatusInProgress || status == TaskStatusDone
}

type Task struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	Status      string    `json:"status"`
	WorkspaceID string    `json:"workspaceId"`
	Assignees   []UserRef `json:"assignedTo"`
	CreatedBy   UserRef   `json:"createdBy"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

type Message struct {
	ID          string    `json:"id"`
	Content     string    `json:"content"`
	Sender      UserRef   `json:"sender"`
	WorkspaceID string    `json:"workspaceId"`
	CreatedAt   time.Time `json:"createdAt"`
}

// Document content is a Quill Delta blob. The store and the realtime layer
// treat it as opaque JSON; only the export package parses it.
type Document struct {
	ID          string          `json:"id"`
	Title       string          `json:"title"`
	Content     json.RawMessage `json:"content"`
	WorkspaceID string          `json:"workspaceId"`
	CreatedBy   UserRef         `json:"createdBy"`
	CreatedAt   time.Time       `json:"createdAt"`
	UpdatedAt   time.Time       `json:"updatedAt"`
}

type File struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	StorageKey  string    `json:"path"`
	Size        int64     `json:"size"`
	ContentType string    `json:"contentType"`
	WorkspaceID string    `json:"workspaceId"`
	Uploader    UserRef   `json:"uploader"`
	CreatedAt   time.Time `json:"createdAt"`
}
