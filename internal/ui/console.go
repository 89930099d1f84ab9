package ui

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/charmbracelet/lipgloss"
	"github.com/seanblong/repochat/internal/session"
	"github.com/seanblong/repochat/pkg/models"
)

var (
	headerStyle    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("63"))
	selectedStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("205"))
	dimStyle       = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	userStyle      = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("39"))
	assistantStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("114"))
	noticeStyles   = map[NoticeKind]lipgloss.Style{
		NoticeInfo:    lipgloss.NewStyle().Foreground(lipgloss.Color("45")),
		NoticeSuccess: lipgloss.NewStyle().Foreground(lipgloss.Color("42")),
		NoticeError:   lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("196")),
	}
)

// Console is a line-oriented Presenter. It prints what changed rather than
// redrawing a screen.
type Console struct {
	mu      sync.Mutex
	out     io.Writer
	printed map[string]int // messages already printed per repository
	state   session.State
}

func NewConsole(out io.Writer) *Console {
	return &Console{out: out, printed: make(map[string]int), state: -1}
}

func (c *Console) RenderRepositories(repos []models.Repository, selected string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	var b strings.Builder
	b.WriteString(headerStyle.Render("Repositories"))
	b.WriteString("\n")
	if len(repos) == 0 {
		b.WriteString(dimStyle.Render("  (none indexed yet)"))
		b.WriteString("\n")
	}
	for _, r := range repos {
		line := fmt.Sprintf("%s  %s", r.Name, dimStyle.Render(r.Path+" "+r.Timestamp))
		if r.Name == selected {
			b.WriteString(selectedStyle.Render("* ") + line)
		} else {
			b.WriteString("  " + line)
		}
		b.WriteString("\n")
	}
	c.write(b.String())
}

func (c *Console) RenderForm(f Form) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if f.State == c.state {
		return
	}
	c.state = f.State
	switch f.State {
	case session.Indexing:
		c.write(dimStyle.Render(fmt.Sprintf("indexing %s as %q...", f.File, f.Name)) + "\n")
	case session.Ready:
		c.write(dimStyle.Render(fmt.Sprintf("ready to index %s as %q", f.File, f.Name)) + "\n")
	}
}

func (c *Console) RenderChat(v ChatView) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !v.Visible() {
		return
	}
	n := c.printed[v.Repository]
	if n > len(v.Messages) {
		n = 0
	}
	if n == 0 && len(v.Messages) == 0 {
		c.write(headerStyle.Render("Chatting with "+v.Repository) + "\n")
	}
	for _, m := range v.Messages[n:] {
		if m.Role == models.RoleUser {
			c.write(userStyle.Render("you> ") + m.Content + "\n")
		} else {
			c.write(assistantStyle.Render(v.Repository+"> ") + m.Content + "\n")
		}
	}
	c.printed[v.Repository] = len(v.Messages)
}

func (c *Console) RenderNotification(n Notification) {
	if n.Kind == NoticeNone {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.write(noticeStyles[n.Kind].Render(fmt.Sprintf("[%s] %s", n.Kind, n.Text)) + "\n")
}

func (c *Console) write(s string) {
	_, _ = io.WriteString(c.out, s)
}

const consoleHelp = `commands:
  /name <name>     set the repository name
  /file <path>     choose the file or folder to index
  /index           index the chosen file under the name
  /list            reload the repository list
  /select <name>   chat with a repository
  /deselect        close the chat
  /dismiss         clear the last notification
  /help            show this help
  /quit            exit
anything else is sent to the selected repository`

// RunConsole reads commands from in until EOF, /quit or ctx is done.
func RunConsole(ctx context.Context, app *App, in io.Reader, out io.Writer) error {
	_, _ = fmt.Fprintln(out, dimStyle.Render(consoleHelp))
	app.Start(ctx)

	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 64<<10), 1<<20)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		if !scanner.Scan() {
			return scanner.Err()
		}
		line := scanner.Text()
		if strings.TrimSpace(line) == "" {
			continue
		}
		if quit := consoleCommand(ctx, app, line, out); quit {
			return nil
		}
	}
}

// consoleCommand executes one input line. Errors are already surfaced as
// notifications by App, so they are not repeated here.
func consoleCommand(ctx context.Context, app *App, line string, out io.Writer) bool {
	if !strings.HasPrefix(line, "/") {
		_, _ = app.Send(ctx, line)
		return false
	}
	cmd, arg, _ := strings.Cut(strings.TrimSpace(line), " ")
	arg = strings.TrimSpace(arg)
	switch cmd {
	case "/name":
		app.SetName(arg)
	case "/file":
		_ = app.DropPath(arg)
	case "/index":
		_, _ = app.Index(ctx)
	case "/list":
		_ = app.Refresh(ctx)
	case "/select":
		_ = app.Select(arg)
	case "/deselect":
		app.Deselect()
	case "/dismiss":
		app.Dismiss()
	case "/help":
		_, _ = fmt.Fprintln(out, consoleHelp)
	case "/quit", "/exit":
		return true
	default:
		_, _ = fmt.Fprintf(out, "unknown command %s, try /help\n", cmd)
	}
	return false
}
