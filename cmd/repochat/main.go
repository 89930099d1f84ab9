package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/seanblong/repochat/internal/auth"
	"github.com/seanblong/repochat/internal/client"
	"github.com/seanblong/repochat/internal/config"
	"github.com/seanblong/repochat/internal/tui"
	"github.com/seanblong/repochat/internal/ui"
	"github.com/spf13/pflag"
)

const usage = `usage: repochat [flags] [command]

commands:
  tui                  full-screen interface (default)
  chat                 line-oriented interface on stdin/stdout
  index <path>         upload a file or directory (--name required)
  list                 list indexed repositories
  ask <repo> <message> send one message to a repository
  token                print a bearer token signed with the configured secret

flags:
`

var errStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))

func main() {
	fs := pflag.NewFlagSet("repochat", pflag.ContinueOnError)
	name := fs.String("name", "", "Repository name for the index command")
	subject := fs.String("subject", "repochat", "Token subject for the token command")
	ttl := fs.Duration("ttl", 24*time.Hour, "Token lifetime for the token command")

	cfg, err := config.Load("", fs)
	if err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			os.Exit(0)
		}
		fail(err)
	}
	fs.Usage = func() {
		fmt.Fprint(os.Stderr, usage)
		cfg.Usage()
	}

	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		fail(fmt.Errorf("invalid log level %q: %w", cfg.LogLevel, err))
	}
	zerolog.SetGlobalLevel(level)
	log.Logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen}).With().Timestamp().Logger()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	args := fs.Args()
	cmd := "tui"
	if len(args) > 0 {
		cmd, args = args[0], args[1:]
	}

	c := client.New(cfg.ServerURL, client.WithToken(cfg.Token), client.WithTimeout(cfg.ClientTimeout))
	log.Debug().Str("server", c.BaseURL()).Str("command", cmd).Msg("starting")

	switch cmd {
	case "tui":
		// The terminal belongs to the UI; keep log lines off it.
		log.Logger = zerolog.New(io.Discard)
		err = tui.Run(ctx, c)
	case "chat":
		app := ui.NewApp(c, ui.NewConsole(os.Stdout))
		err = ui.RunConsole(ctx, app, os.Stdin, os.Stdout)
	case "index":
		if len(args) != 1 {
			fs.Usage()
			os.Exit(2)
		}
		err = index(ctx, c, args[0], *name, os.Stdout)
	case "list":
		err = list(ctx, c, os.Stdout)
	case "ask":
		if len(args) < 2 {
			fs.Usage()
			os.Exit(2)
		}
		err = ask(ctx, c, args[0], args[1:], os.Stdout)
	case "token":
		err = token(cfg, *subject, *ttl, os.Stdout)
	case "help":
		fs.Usage()
		return
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n", cmd)
		fs.Usage()
		os.Exit(2)
	}
	if err != nil && ctx.Err() == nil {
		fail(err)
	}
}

func fail(err error) {
	fmt.Fprintln(os.Stderr, errStyle.Render(client.Message(err)))
	os.Exit(1)
}

func token(cfg config.Specification, subject string, ttl time.Duration, out io.Writer) error {
	a, err := auth.New(cfg.Auth.JwtSecret, true)
	if err != nil {
		return err
	}
	t, err := a.GenerateToken(subject, ttl)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(out, t)
	return err
}
