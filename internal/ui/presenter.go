// Package ui composes the repository manager and chat behind a Presenter so
// the same logic drives every front end.
package ui

import (
	"github.com/seanblong/repochat/internal/session"
	"github.com/seanblong/repochat/pkg/models"
)

// Presenter renders application state. Implementations must tolerate calls
// from multiple goroutines.
type Presenter interface {
	RenderRepositories(repos []models.Repository, selected string)
	RenderForm(f Form)
	RenderChat(c ChatView)
	RenderNotification(n Notification)
}

// Form is the indexing form.
type Form struct {
	Name  string
	File  string
	State session.State
}

// Busy reports whether an indexing request is in flight.
func (f Form) Busy() bool { return f.State == session.Indexing }

// ChatView is the chat panel. An empty Repository means the panel is hidden.
type ChatView struct {
	Repository string
	Messages   []models.ChatMessage
	Pending    int
}

func (c ChatView) Visible() bool { return c.Repository != "" }

type NoticeKind int

const (
	NoticeNone NoticeKind = iota
	NoticeInfo
	NoticeSuccess
	NoticeError
)

func (k NoticeKind) String() string {
	switch k {
	case NoticeInfo:
		return "info"
	case NoticeSuccess:
		return "success"
	case NoticeError:
		return "error"
	default:
		return "none"
	}
}

// Notification is a dismissible message. The zero value means none.
type Notification struct {
	Kind NoticeKind
	Text string
}
