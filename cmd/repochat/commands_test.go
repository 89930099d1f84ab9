package main

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/seanblong/repochat/internal/client"
	"github.com/seanblong/repochat/internal/session"
	"github.com/seanblong/repochat/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeBackend struct {
	repos []models.Repository
	err   error

	gotPath, gotName string
	gotMessage       string
}

func (f *fakeBackend) IndexPath(ctx context.Context, path, name string) (models.Repository, error) {
	f.gotPath, f.gotName = path, name
	if f.err != nil {
		return models.Repository{}, f.err
	}
	return models.Repository{Name: name, Path: path}, nil
}

func (f *fakeBackend) IndexRepository(ctx context.Context, source client.Source, name string) (models.Repository, error) {
	return models.Repository{Name: name, Path: source.Name()}, f.err
}

func (f *fakeBackend) GetRepositories(ctx context.Context) ([]models.Repository, error) {
	return f.repos, f.err
}

func (f *fakeBackend) QueryRepository(ctx context.Context, message, repositoryName string) (models.ChatMessage, error) {
	f.gotMessage, f.gotName = message, repositoryName
	if f.err != nil {
		return models.ChatMessage{}, f.err
	}
	return models.ChatMessage{Role: models.RoleAssistant, Content: "reply to " + message}, nil
}

func TestIndexCommand(t *testing.T) {
	f := &fakeBackend{}
	var out bytes.Buffer

	require.NoError(t, index(context.Background(), f, "./src", "demo", &out))
	assert.Equal(t, "Successfully indexed demo\n", out.String())
	assert.Equal(t, "./src", f.gotPath)

	err := index(context.Background(), f, "./src", "  ", &out)
	require.Error(t, err)
	assert.Equal(t, session.MsgEnterName, err.Error())
}

func TestListCommand(t *testing.T) {
	var out bytes.Buffer
	require.NoError(t, list(context.Background(), &fakeBackend{}, &out))
	assert.Equal(t, "No repositories indexed yet\n", out.String())

	out.Reset()
	f := &fakeBackend{repos: []models.Repository{
		{Name: "alpha", Path: "a.zip", Timestamp: "not-a-time"},
	}}
	require.NoError(t, list(context.Background(), f, &out))
	assert.Contains(t, out.String(), "NAME")
	assert.Contains(t, out.String(), "alpha")
	assert.Contains(t, out.String(), "not-a-time")

	f.err = errors.New("down")
	assert.Error(t, list(context.Background(), f, &out))
}

func TestAskCommand(t *testing.T) {
	f := &fakeBackend{}
	var out bytes.Buffer

	require.NoError(t, ask(context.Background(), f, "demo", []string{"what", "is", "this"}, &out))
	assert.Equal(t, "reply to what is this\n", out.String())
	assert.Equal(t, "demo", f.gotName)

	err := ask(context.Background(), f, "demo", []string{" "}, &out)
	var verr *session.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, session.MsgEnterMessage, verr.Message)
}
