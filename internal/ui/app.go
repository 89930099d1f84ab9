package ui

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"
	"github.com/seanblong/repochat/internal/client"
	"github.com/seanblong/repochat/internal/session"
	"github.com/seanblong/repochat/pkg/models"
)

// Backend is everything the application needs from the API client.
type Backend interface {
	session.Repositories
	session.Querier
}

// App is the root composition: one repository manager and, while a
// repository is selected, one chat.
type App struct {
	backend   Backend
	presenter Presenter
	manager   *session.Manager

	mu     sync.Mutex
	chat   *session.Chat
	notice Notification
}

func NewApp(backend Backend, presenter Presenter) *App {
	a := &App{
		backend:   backend,
		presenter: presenter,
		manager:   session.NewManager(backend),
	}
	a.manager.OnState = func(session.State) { a.renderForm() }
	a.manager.OnSelect = a.onSelect
	return a
}

// Start loads the repository list and renders everything once. A failed
// load is shown as a notification and is not fatal.
func (a *App) Start(ctx context.Context) {
	if err := a.manager.Load(ctx); err != nil {
		log.Warn().Err(err).Msg("loading repositories failed")
		a.notify(NoticeError, client.Message(err))
	}
	a.renderAll()
}

// Refresh reloads the repository list.
func (a *App) Refresh(ctx context.Context) error {
	if err := a.manager.Load(ctx); err != nil {
		a.notify(NoticeError, client.Message(err))
		return err
	}
	a.renderRepositories()
	return nil
}

func (a *App) SetName(name string) { a.manager.SetName(name) }

// Drop selects the file to index. Only the first source is used.
func (a *App) Drop(sources ...client.Source) { a.manager.Drop(sources...) }

// DropPath resolves a local file or directory and selects it for indexing.
func (a *App) DropPath(path string) error {
	path = strings.TrimSpace(path)
	if path == "" {
		a.manager.Drop()
		return nil
	}
	src, err := client.ResolveSource(path)
	if err != nil {
		a.notify(NoticeError, err.Error())
		return err
	}
	a.manager.Drop(src)
	return nil
}

// Index submits the form. Errors are also surfaced as notifications.
func (a *App) Index(ctx context.Context) (models.Repository, error) {
	a.clearNotice()
	repo, err := a.manager.Index(ctx)
	if err != nil {
		a.notify(NoticeError, client.Message(err))
		return models.Repository{}, err
	}
	a.renderRepositories()
	a.notify(NoticeSuccess, session.SuccessMessage(repo.Name))
	return repo, nil
}

func (a *App) Select(name string) error {
	if err := a.manager.Select(name); err != nil {
		a.notify(NoticeError, client.Message(err))
		return err
	}
	return nil
}

func (a *App) Deselect() { a.manager.Deselect() }

// onSelect replaces the chat. Selecting another repository starts a fresh
// transcript; reselecting the current one keeps it.
func (a *App) onSelect(name string) {
	a.mu.Lock()
	switch {
	case name == "":
		a.chat = nil
	case a.chat == nil || a.chat.Repository() != name:
		c := session.NewChat(name, a.backend)
		c.OnChange = func(msgs []models.ChatMessage, pending int) {
			if a.current(c) {
				a.presenter.RenderChat(ChatView{Repository: name, Messages: msgs, Pending: pending})
			}
		}
		a.chat = c
	}
	a.mu.Unlock()
	a.renderRepositories()
	a.renderChat()
}

func (a *App) current(c *session.Chat) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.chat == c
}

// Send posts input to the selected repository's chat. Without a selection it
// is rejected like any other invalid input.
func (a *App) Send(ctx context.Context, input string) (models.ChatMessage, error) {
	a.mu.Lock()
	c := a.chat
	a.mu.Unlock()
	if c == nil {
		err := &session.ValidationError{Field: "repository", Message: session.MsgUnknownRepo}
		a.notify(NoticeError, err.Message)
		return models.ChatMessage{}, err
	}

	reply, err := c.Send(ctx, input)
	if err != nil {
		var ve *session.ValidationError
		if !errors.As(err, &ve) {
			log.Debug().Err(err).Str("repository", c.Repository()).Msg("query failed")
		}
		a.notify(NoticeError, client.Message(err))
		return models.ChatMessage{}, err
	}
	return reply, nil
}

// Dismiss hides the current notification.
func (a *App) Dismiss() { a.clearNotice() }

func (a *App) Selected() string { return a.manager.Selected() }

func (a *App) Repositories() []models.Repository { return a.manager.Repositories() }

// Transcript returns the selected chat's messages, or nil when hidden.
func (a *App) Transcript() []models.ChatMessage {
	a.mu.Lock()
	c := a.chat
	a.mu.Unlock()
	if c == nil {
		return nil
	}
	return c.Transcript()
}

func (a *App) Notification() Notification {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.notice
}

func (a *App) notify(kind NoticeKind, text string) {
	n := Notification{Kind: kind, Text: text}
	a.mu.Lock()
	a.notice = n
	a.mu.Unlock()
	a.presenter.RenderNotification(n)
}

func (a *App) clearNotice() {
	a.mu.Lock()
	had := a.notice.Kind != NoticeNone
	a.notice = Notification{}
	a.mu.Unlock()
	if had {
		a.presenter.RenderNotification(Notification{})
	}
}

func (a *App) renderAll() {
	a.renderRepositories()
	a.renderForm()
	a.renderChat()
	a.presenter.RenderNotification(a.Notification())
}

func (a *App) renderRepositories() {
	a.presenter.RenderRepositories(a.manager.Repositories(), a.manager.Selected())
}

func (a *App) renderForm() {
	name, file := a.manager.Inputs()
	a.presenter.RenderForm(Form{Name: name, File: file, State: a.manager.State()})
}

func (a *App) renderChat() {
	a.mu.Lock()
	c := a.chat
	a.mu.Unlock()
	if c == nil {
		a.presenter.RenderChat(ChatView{})
		return
	}
	a.presenter.RenderChat(ChatView{Repository: c.Repository(), Messages: c.Transcript(), Pending: c.Pending()})
}
