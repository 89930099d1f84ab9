package models

import "time"

// Role identifies who authored a chat message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Repository is a named, indexed unit of source content that can be chatted against.
type Repository struct {
	Name      string `json:"name"`
	Path      string `json:"path"`
	Timestamp string `json:"timestamp"`
}

// CreatedAt parses Timestamp. The zero time is returned when it is not ISO-8601.
func (r Repository) CreatedAt() time.Time {
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02T15:04:05.999999"} {
		if t, err := time.Parse(layout, r.Timestamp); err == nil {
			return t
		}
	}
	return time.Time{}
}

type ChatMessage struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// ChatRequest is the body of POST /api/chat.
type ChatRequest struct {
	Message        string `json:"message"`
	RepositoryName string `json:"repository_name"`
}

// ErrorResponse is the failure body of every endpoint.
type ErrorResponse struct {
	Detail string `json:"detail"`
}

// Document is a stored file of an indexed repository.
type Document struct {
	Repository string    `json:"repository"`
	Path       string    `json:"path"`
	Language   string    `json:"language"`
	Content    string    `json:"content"`
	CreatedAt  time.Time `json:"created_at"`
}
