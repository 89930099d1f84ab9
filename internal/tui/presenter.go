// Package tui is the full-screen terminal front end.
package tui

import (
	tea "github.com/charmbracelet/bubbletea"
	"github.com/seanblong/repochat/internal/ui"
	"github.com/seanblong/repochat/pkg/models"
)

type reposMsg struct {
	repos    []models.Repository
	selected string
}

type formMsg struct{ form ui.Form }

type chatMsg struct{ view ui.ChatView }

type noticeMsg struct{ notice ui.Notification }

// sender is satisfied by *tea.Program.
type sender interface {
	Send(msg tea.Msg)
}

// Presenter forwards renders into a running bubbletea program. Program.Send
// blocks until the event loop reads the message, so it must not be called
// from inside Update.
type Presenter struct {
	program sender
}

func NewPresenter(program sender) *Presenter {
	return &Presenter{program: program}
}

func (p *Presenter) RenderRepositories(repos []models.Repository, selected string) {
	p.program.Send(reposMsg{repos: repos, selected: selected})
}

func (p *Presenter) RenderForm(f ui.Form) {
	p.program.Send(formMsg{form: f})
}

func (p *Presenter) RenderChat(c ui.ChatView) {
	p.program.Send(chatMsg{view: c})
}

func (p *Presenter) RenderNotification(n ui.Notification) {
	p.program.Send(noticeMsg{notice: n})
}
