package tui

import (
	"context"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/seanblong/repochat/internal/ui"
	"github.com/seanblong/repochat/pkg/models"
)

// Actions is the part of ui.App the model drives.
type Actions interface {
	Start(ctx context.Context)
	Refresh(ctx context.Context) error
	SetName(name string)
	DropPath(path string) error
	Index(ctx context.Context) (models.Repository, error)
	Select(name string) error
	Deselect()
	Send(ctx context.Context, input string) (models.ChatMessage, error)
	Dismiss()
}

type focus int

const (
	focusList focus = iota
	focusName
	focusPath
	focusChat
)

var (
	titleStyle     = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("63"))
	sectionStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("252"))
	activeStyle    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("205"))
	mutedStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	userStyle      = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("39"))
	assistantStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("114"))
	noticeStyles   = map[ui.NoticeKind]lipgloss.Style{
		ui.NoticeInfo:    lipgloss.NewStyle().Foreground(lipgloss.Color("45")),
		ui.NoticeSuccess: lipgloss.NewStyle().Foreground(lipgloss.Color("42")),
		ui.NoticeError:   lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("196")),
	}
)

type model struct {
	ctx     context.Context
	actions Actions

	width, height int
	focus         focus

	name     textinput.Model
	path     textinput.Model
	input    textinput.Model
	spinner  spinner.Model
	viewport viewport.Model

	repos    []models.Repository
	cursor   int
	selected string
	form     ui.Form
	chat     ui.ChatView
	notice   ui.Notification
	quitting bool
}

func newModel(ctx context.Context, actions Actions) model {
	name := textinput.New()
	name.Prompt = "Name: "
	name.Placeholder = "Enter repository name"
	name.CharLimit = 128

	path := textinput.New()
	path.Prompt = "Path: "
	path.Placeholder = "File or folder to index"

	input := textinput.New()
	input.Prompt = "> "
	input.Placeholder = "Ask about the code"

	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("205"))

	return model{
		ctx:      ctx,
		actions:  actions,
		name:     name,
		path:     path,
		input:    input,
		spinner:  s,
		viewport: viewport.New(80, 10),
	}
}

func (m model) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, m.startCmd())
}

func (m model) startCmd() tea.Cmd {
	return func() tea.Msg {
		m.actions.Start(m.ctx)
		return nil
	}
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		m.viewport.Width = msg.Width
		m.viewport.Height = max(msg.Height/2, 5)
		m.viewport.SetContent(m.transcript())
		return m, nil

	case reposMsg:
		m.repos, m.selected = msg.repos, msg.selected
		if m.cursor >= len(m.repos) {
			m.cursor = max(len(m.repos)-1, 0)
		}
		return m, nil

	case formMsg:
		m.form = msg.form
		return m, nil

	case chatMsg:
		wasVisible := m.chat.Visible()
		m.chat = msg.view
		m.viewport.SetContent(m.transcript())
		m.viewport.GotoBottom()
		var cmd tea.Cmd
		if m.chat.Visible() && !wasVisible {
			cmd = m.focusOn(focusChat)
		} else if !m.chat.Visible() && m.focus == focusChat {
			cmd = m.focusOn(focusList)
		}
		return m, cmd

	case noticeMsg:
		m.notice = msg.notice
		return m, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case tea.KeyMsg:
		return m.handleKey(msg)
	}
	return m, nil
}

func (m model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "ctrl+c":
		m.quitting = true
		return m, tea.Quit
	case "tab":
		cmd := m.focusOn(m.nextFocus(1))
		return m, cmd
	case "shift+tab":
		cmd := m.focusOn(m.nextFocus(-1))
		return m, cmd
	case "ctrl+r":
		return m, m.do(func() { _ = m.actions.Refresh(m.ctx) })
	case "esc":
		if m.notice.Kind != ui.NoticeNone {
			return m, m.do(m.actions.Dismiss)
		}
		if m.chat.Visible() {
			return m, m.do(m.actions.Deselect)
		}
		return m, nil
	}

	switch m.focus {
	case focusList:
		switch msg.String() {
		case "up", "k":
			if m.cursor > 0 {
				m.cursor--
			}
		case "down", "j":
			if m.cursor < len(m.repos)-1 {
				m.cursor++
			}
		case "enter":
			if m.cursor < len(m.repos) {
				name := m.repos[m.cursor].Name
				return m, m.do(func() { _ = m.actions.Select(name) })
			}
		}
		return m, nil

	case focusName:
		if msg.String() == "enter" {
			name := m.name.Value()
			cmd := m.focusOn(focusPath)
			return m, tea.Sequence(m.do(func() { m.actions.SetName(name) }), cmd)
		}
		var cmd tea.Cmd
		m.name, cmd = m.name.Update(msg)
		return m, cmd

	case focusPath:
		if msg.String() == "enter" {
			name, path := m.name.Value(), m.path.Value()
			return m, m.do(func() {
				m.actions.SetName(name)
				if err := m.actions.DropPath(path); err != nil {
					return
				}
				_, _ = m.actions.Index(m.ctx)
			})
		}
		var cmd tea.Cmd
		m.path, cmd = m.path.Update(msg)
		return m, cmd

	case focusChat:
		if msg.String() == "enter" {
			text := m.input.Value()
			m.input.Reset()
			return m, m.do(func() { _, _ = m.actions.Send(m.ctx, text) })
		}
		var cmd tea.Cmd
		m.input, cmd = m.input.Update(msg)
		return m, cmd
	}
	return m, nil
}

// do runs fn off the event loop; actions render through Program.Send.
func (m model) do(fn func()) tea.Cmd {
	return func() tea.Msg {
		fn()
		return nil
	}
}

func (m model) nextFocus(step int) focus {
	n := 3
	if m.chat.Visible() {
		n = 4
	}
	return focus(((int(m.focus)+step)%n + n) % n)
}

// focusOn moves keyboard focus. Update returns the modified copy.
func (m *model) focusOn(f focus) tea.Cmd {
	m.focus = f
	m.name.Blur()
	m.path.Blur()
	m.input.Blur()
	switch f {
	case focusName:
		return m.name.Focus()
	case focusPath:
		return m.path.Focus()
	case focusChat:
		return m.input.Focus()
	}
	return nil
}

func (m model) transcript() string {
	var b strings.Builder
	for _, msg := range m.chat.Messages {
		if msg.Role == models.RoleUser {
			b.WriteString(userStyle.Render("You: "))
		} else {
			b.WriteString(assistantStyle.Render("Assistant: "))
		}
		content := msg.Content
		if m.width > 0 {
			content = lipgloss.NewStyle().Width(max(m.width-12, 20)).Render(content)
		}
		b.WriteString(content)
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

func (m model) View() string {
	if m.quitting {
		return ""
	}
	var b strings.Builder
	b.WriteString(titleStyle.Render("repochat"))
	b.WriteString("\n")
	if m.notice.Kind != ui.NoticeNone {
		b.WriteString(noticeStyles[m.notice.Kind].Render(m.notice.Text))
		b.WriteString(mutedStyle.Render("  (esc to dismiss)"))
		b.WriteString("\n")
	}

	b.WriteString("\n")
	b.WriteString(m.heading("Repositories", focusList))
	if len(m.repos) == 0 {
		b.WriteString(mutedStyle.Render("  No repositories indexed yet"))
		b.WriteString("\n")
	}
	for i, r := range m.repos {
		cursor := "  "
		if m.focus == focusList && i == m.cursor {
			cursor = "> "
		}
		name := r.Name
		if r.Name == m.selected {
			name = activeStyle.Render("* " + r.Name)
		}
		b.WriteString(fmt.Sprintf("%s%s %s\n", cursor, name, mutedStyle.Render(r.Path+" "+r.Timestamp)))
	}

	b.WriteString("\n")
	b.WriteString(m.heading("Index a repository", focusName, focusPath))
	b.WriteString(m.name.View())
	b.WriteString("\n")
	b.WriteString(m.path.View())
	b.WriteString("\n")
	if m.form.Busy() {
		b.WriteString(fmt.Sprintf("%s Indexing %s...\n", m.spinner.View(), m.form.File))
	} else if m.form.File != "" {
		b.WriteString(mutedStyle.Render("Selected: " + m.form.File))
		b.WriteString("\n")
	}

	if m.chat.Visible() {
		b.WriteString("\n")
		b.WriteString(m.heading("Chat: "+m.chat.Repository, focusChat))
		if len(m.chat.Messages) > 0 {
			b.WriteString(m.viewport.View())
			b.WriteString("\n")
		}
		if m.chat.Pending > 0 {
			b.WriteString(fmt.Sprintf("%s Waiting for %d %s...\n", m.spinner.View(), m.chat.Pending, plural(m.chat.Pending, "reply", "replies")))
		}
		b.WriteString(m.input.View())
		b.WriteString("\n")
	}

	b.WriteString("\n")
	b.WriteString(mutedStyle.Render("tab: switch • enter: confirm • esc: dismiss/close chat • ctrl+r: refresh • ctrl+c: quit"))
	return b.String()
}

func (m model) heading(title string, focused ...focus) string {
	for _, f := range focused {
		if m.focus == f {
			return activeStyle.Render("▸ "+title) + "\n"
		}
	}
	return sectionStyle.Render("  "+title) + "\n"
}

func plural(n int, one, many string) string {
	if n == 1 {
		return one
	}
	return many
}

// Run starts the full-screen UI against backend and blocks until the user quits.
func Run(ctx context.Context, backend ui.Backend, opts ...tea.ProgramOption) error {
	presenter := &Presenter{}
	app := ui.NewApp(backend, presenter)
	opts = append([]tea.ProgramOption{tea.WithContext(ctx)}, opts...)
	p := tea.NewProgram(newModel(ctx, app), opts...)
	presenter.program = p
	_, err := p.Run()
	return err
}
