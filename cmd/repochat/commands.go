package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/seanblong/repochat/internal/session"
	"github.com/seanblong/repochat/pkg/models"
)

// Indexer uploads a local path to the backend.
type Indexer interface {
	IndexPath(ctx context.Context, path, name string) (models.Repository, error)
}

func index(ctx context.Context, c Indexer, path, name string, out io.Writer) error {
	if strings.TrimSpace(name) == "" {
		return errors.New(session.MsgEnterName)
	}
	repo, err := c.IndexPath(ctx, path, name)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(out, session.SuccessMessage(repo.Name))
	return err
}

func list(ctx context.Context, c session.Repositories, out io.Writer) error {
	repos, err := c.GetRepositories(ctx)
	if err != nil {
		return err
	}
	if len(repos) == 0 {
		_, err := fmt.Fprintln(out, "No repositories indexed yet")
		return err
	}
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tPATH\tINDEXED")
	for _, r := range repos {
		when := r.Timestamp
		if t := r.CreatedAt(); !t.IsZero() {
			when = t.Local().Format("2006-01-02 15:04")
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\n", r.Name, r.Path, when)
	}
	return tw.Flush()
}

func ask(ctx context.Context, c session.Querier, repo string, words []string, out io.Writer) error {
	chat := session.NewChat(repo, c)
	reply, err := chat.Send(ctx, strings.Join(words, " "))
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(out, reply.Content)
	return err
}
