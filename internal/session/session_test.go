package session

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/seanblong/repochat/internal/client"
	"github.com/seanblong/repochat/pkg/models"
)

const (
	timeout = 2 * time.Second
	tick    = 5 * time.Millisecond
)

// MockBackend implements Repositories and Querier with func fields.
type MockBackend struct {
	IndexRepositoryFunc func(ctx context.Context, source client.Source, name string) (models.Repository, error)
	GetRepositoriesFunc func(ctx context.Context) ([]models.Repository, error)
	QueryRepositoryFunc func(ctx context.Context, message, repositoryName string) (models.ChatMessage, error)

	indexCalls atomic.Int32
	queryCalls atomic.Int32
}

func (m *MockBackend) IndexRepository(ctx context.Context, source client.Source, name string) (models.Repository, error) {
	m.indexCalls.Add(1)
	if m.IndexRepositoryFunc != nil {
		return m.IndexRepositoryFunc(ctx, source, name)
	}
	return models.Repository{Name: name, Path: source.Name(), Timestamp: "2024-01-01T00:00:00Z"}, nil
}

func (m *MockBackend) GetRepositories(ctx context.Context) ([]models.Repository, error) {
	if m.GetRepositoriesFunc != nil {
		return m.GetRepositoriesFunc(ctx)
	}
	return []models.Repository{}, nil
}

func (m *MockBackend) QueryRepository(ctx context.Context, message, repositoryName string) (models.ChatMessage, error) {
	m.queryCalls.Add(1)
	if m.QueryRepositoryFunc != nil {
		return m.QueryRepositoryFunc(ctx, message, repositoryName)
	}
	return models.ChatMessage{Role: models.RoleAssistant, Content: "reply to " + message}, nil
}

func testFile() client.Source {
	return client.BytesSource("test-file.js", []byte(`console.log("test")`))
}

func TestManager_States(t *testing.T) {
	m := NewManager(&MockBackend{})
	var seen []State
	m.OnState = func(s State) { seen = append(seen, s) }

	assert.Equal(t, Empty, m.State())

	m.SetName("test-repo")
	assert.Equal(t, NamePending, m.State())

	m.SetName("  ")
	assert.Equal(t, Empty, m.State())

	m.Drop(testFile())
	assert.Equal(t, FilePending, m.State())

	m.SetName("test-repo")
	assert.Equal(t, Ready, m.State())

	m.Drop()
	assert.Equal(t, NamePending, m.State())

	assert.Equal(t, []State{NamePending, Empty, FilePending, Ready, NamePending}, seen)
}

func TestManager_DropKeepsFirst(t *testing.T) {
	m := NewManager(&MockBackend{})
	m.Drop(testFile(), client.BytesSource("second.js", nil))
	_, file := m.Inputs()
	assert.Equal(t, "test-file.js", file)
}

func TestManager_IndexValidation(t *testing.T) {
	tests := []struct {
		name      string
		repoName  string
		source    client.Source
		wantField string
		wantMsg   string
	}{
		{"nothing", "", nil, "file", MsgSelectFile},
		{"name only", "test-repo", nil, "file", MsgSelectFile},
		{"file only", "", testFile(), "name", MsgEnterName},
		{"blank name", " \t", testFile(), "name", MsgEnterName},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			backend := &MockBackend{}
			m := NewManager(backend)
			m.SetName(tt.repoName)
			if tt.source != nil {
				m.Drop(tt.source)
			}

			_, err := m.Index(context.Background())
			var ve *ValidationError
			require.ErrorAs(t, err, &ve)
			assert.Equal(t, tt.wantField, ve.Field)
			assert.Equal(t, tt.wantMsg, ve.Error())
			assert.Zero(t, backend.indexCalls.Load(), "no request should be sent")
			assert.Empty(t, m.Repositories())
		})
	}
}

func TestManager_IndexSuccess(t *testing.T) {
	backend := &MockBackend{
		IndexRepositoryFunc: func(ctx context.Context, source client.Source, name string) (models.Repository, error) {
			assert.Equal(t, "test-repo", name)
			assert.Equal(t, "test-file.js", source.Name())
			return models.Repository{Name: "test-repo", Path: "test-file.js", Timestamp: "2024-05-01T10:00:00.123Z"}, nil
		},
	}
	m := NewManager(backend)
	var seen []State
	m.SetName(" test-repo ")
	m.Drop(testFile())
	m.OnState = func(s State) { seen = append(seen, s) }

	repo, err := m.Index(context.Background())
	require.NoError(t, err)
	assert.Equal(t, models.Repository{Name: "test-repo", Path: "test-file.js", Timestamp: "2024-05-01T10:00:00.123Z"}, repo)
	assert.Equal(t, []models.Repository{repo}, m.Repositories())
	assert.Equal(t, Indexed, m.State())
	assert.Equal(t, []State{Indexing, Indexed}, seen)
	assert.Equal(t, "Successfully indexed test-repo", SuccessMessage(" test-repo "))

	var selected []string
	m.OnSelect = func(name string) { selected = append(selected, name) }
	require.NoError(t, m.Select("test-repo"))
	assert.Equal(t, "test-repo", m.Selected())
	m.Deselect()
	assert.Equal(t, "", m.Selected())
	assert.Equal(t, []string{"test-repo", ""}, selected)
}

func TestManager_IndexFailure(t *testing.T) {
	failure := &client.IndexingError{RequestError: &client.RequestError{Op: "index repository", Status: 500, Detail: "disk full"}}
	m := NewManager(&MockBackend{
		IndexRepositoryFunc: func(ctx context.Context, source client.Source, name string) (models.Repository, error) {
			return models.Repository{}, failure
		},
	})
	m.SetName("test-repo")
	m.Drop(testFile())
	var seen []State
	m.OnState = func(s State) { seen = append(seen, s) }

	_, err := m.Index(context.Background())
	assert.Same(t, failure, err)
	assert.Equal(t, "disk full", client.Message(err))
	assert.Equal(t, Ready, m.State())
	assert.Equal(t, []State{Indexing, Failed, Ready}, seen)
	assert.Empty(t, m.Repositories())

	name, file := m.Inputs()
	assert.Equal(t, "test-repo", name)
	assert.Equal(t, "test-file.js", file)
}

func TestManager_IndexWhileBusy(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	m := NewManager(&MockBackend{
		IndexRepositoryFunc: func(ctx context.Context, source client.Source, name string) (models.Repository, error) {
			close(started)
			<-release
			return models.Repository{Name: name}, nil
		},
	})
	m.SetName("a")
	m.Drop(testFile())

	done := make(chan error, 1)
	go func() {
		_, err := m.Index(context.Background())
		done <- err
	}()
	<-started

	assert.Equal(t, Indexing, m.State())
	m.SetName("b")
	assert.Equal(t, Indexing, m.State(), "inputs do not change an in-flight state")

	_, err := m.Index(context.Background())
	assert.ErrorIs(t, err, ErrBusy)

	close(release)
	require.NoError(t, <-done)
	assert.Equal(t, Indexed, m.State())
	m.SetName("c")
	assert.Equal(t, Ready, m.State())
}

func TestManager_Load(t *testing.T) {
	list := []models.Repository{{Name: "a"}, {Name: "b"}}
	fail := false
	m := NewManager(&MockBackend{
		GetRepositoriesFunc: func(ctx context.Context) ([]models.Repository, error) {
			if fail {
				return nil, errors.New("boom")
			}
			return list, nil
		},
	})

	require.NoError(t, m.Load(context.Background()))
	assert.Equal(t, list, m.Repositories())
	require.NoError(t, m.Select("b"))

	fail = true
	assert.Error(t, m.Load(context.Background()))
	assert.Equal(t, list, m.Repositories(), "list unchanged on failure")
	assert.Equal(t, "b", m.Selected())

	fail = false
	list = []models.Repository{{Name: "a"}}
	var selected []string
	m.OnSelect = func(name string) { selected = append(selected, name) }
	require.NoError(t, m.Load(context.Background()))
	assert.Equal(t, "", m.Selected(), "vanished selection is cleared")
	assert.Equal(t, []string{""}, selected)
}

func TestManager_SelectUnknown(t *testing.T) {
	m := NewManager(&MockBackend{})
	called := false
	m.OnSelect = func(string) { called = true }

	err := m.Select("nope")
	var ve *ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, "repository", ve.Field)
	assert.False(t, called)
}

func TestManager_RepositoriesIsCopy(t *testing.T) {
	m := NewManager(&MockBackend{})
	m.SetName("a")
	m.Drop(testFile())
	_, err := m.Index(context.Background())
	require.NoError(t, err)

	repos := m.Repositories()
	repos[0].Name = "changed"
	assert.Equal(t, "a", m.Repositories()[0].Name)
}

func TestChat_RejectsBlankInput(t *testing.T) {
	for _, input := range []string{"", " ", "\t\n "} {
		backend := &MockBackend{}
		c := NewChat("test-repo", backend)

		_, err := c.Send(context.Background(), input)
		var ve *ValidationError
		require.ErrorAs(t, err, &ve)
		assert.Equal(t, MsgEnterMessage, ve.Error())
		assert.Empty(t, c.Transcript())
		assert.Zero(t, backend.queryCalls.Load())
	}
}

func TestChat_SendScenario(t *testing.T) {
	backend := &MockBackend{
		QueryRepositoryFunc: func(ctx context.Context, message, repositoryName string) (models.ChatMessage, error) {
			assert.Equal(t, "Tell me about the code", message)
			assert.Equal(t, "test-repo", repositoryName)
			return models.ChatMessage{Role: models.RoleAssistant, Content: "It prints test."}, nil
		},
	}
	c := NewChat("test-repo", backend)

	reply, err := c.Send(context.Background(), "Tell me about the code")
	require.NoError(t, err)
	assert.Equal(t, "It prints test.", reply.Content)
	assert.Equal(t, []models.ChatMessage{
		{Role: models.RoleUser, Content: "Tell me about the code"},
		{Role: models.RoleAssistant, Content: "It prints test."},
	}, c.Transcript())
	assert.Zero(t, c.Pending())
}

func TestChat_SendFailureKeepsUserMessage(t *testing.T) {
	c := NewChat("test-repo", &MockBackend{
		QueryRepositoryFunc: func(ctx context.Context, message, repositoryName string) (models.ChatMessage, error) {
			return models.ChatMessage{}, &client.QueryError{RequestError: &client.RequestError{Op: "query", Detail: "Failed to get response"}}
		},
	})

	_, err := c.Send(context.Background(), "hello")
	var qe *client.QueryError
	require.ErrorAs(t, err, &qe)
	assert.Equal(t, []models.ChatMessage{{Role: models.RoleUser, Content: "hello"}}, c.Transcript())
	assert.Zero(t, c.Pending())
}

func TestChat_RepliesCommitInSubmissionOrder(t *testing.T) {
	gates := map[string]chan struct{}{"first": make(chan struct{}), "second": make(chan struct{})}
	var started sync.WaitGroup
	started.Add(2)
	c := NewChat("repo", &MockBackend{
		QueryRepositoryFunc: func(ctx context.Context, message, repositoryName string) (models.ChatMessage, error) {
			started.Done()
			<-gates[message]
			return models.ChatMessage{Role: models.RoleAssistant, Content: "re: " + message}, nil
		},
	})

	var updates atomic.Int32
	c.OnChange = func(transcript []models.ChatMessage, pending int) { updates.Add(1) }

	var wg sync.WaitGroup
	wg.Add(2)
	go func() { defer wg.Done(); _, _ = c.Send(context.Background(), "first") }()
	// the second send must be accepted after the first
	require.Eventually(t, func() bool { return c.Pending() == 1 }, timeout, tick)
	go func() { defer wg.Done(); _, _ = c.Send(context.Background(), "second") }()
	started.Wait()
	assert.Equal(t, 2, c.Pending())

	// second reply arrives first but must wait
	close(gates["second"])
	for _, m := range c.Transcript() {
		assert.NotEqual(t, models.RoleAssistant, m.Role)
	}

	close(gates["first"])
	wg.Wait()

	assert.Equal(t, []models.ChatMessage{
		{Role: models.RoleUser, Content: "first"},
		{Role: models.RoleUser, Content: "second"},
		{Role: models.RoleAssistant, Content: "re: first"},
		{Role: models.RoleAssistant, Content: "re: second"},
	}, c.Transcript())
	assert.Equal(t, int32(4), updates.Load())
}

func TestChat_FailedEarlierSendReleasesLaterReply(t *testing.T) {
	gate := make(chan struct{})
	var started sync.WaitGroup
	started.Add(2)
	c := NewChat("repo", &MockBackend{
		QueryRepositoryFunc: func(ctx context.Context, message, repositoryName string) (models.ChatMessage, error) {
			started.Done()
			if message == "first" {
				<-gate
				return models.ChatMessage{}, errors.New("down")
			}
			return models.ChatMessage{Role: models.RoleAssistant, Content: "ok"}, nil
		},
	})

	errs := make(chan error, 2)
	go func() { _, err := c.Send(context.Background(), "first"); errs <- err }()
	require.Eventually(t, func() bool { return c.Pending() == 1 }, timeout, tick)
	go func() { _, err := c.Send(context.Background(), "second"); errs <- err }()
	started.Wait()

	close(gate)
	var failed int
	for i := 0; i < 2; i++ {
		if <-errs != nil {
			failed++
		}
	}
	assert.Equal(t, 1, failed)
	assert.Equal(t, []models.ChatMessage{
		{Role: models.RoleUser, Content: "first"},
		{Role: models.RoleUser, Content: "second"},
		{Role: models.RoleAssistant, Content: "ok"},
	}, c.Transcript())
}

func TestChat_CancelledSendStopsWaitingForEarlierReply(t *testing.T) {
	gate := make(chan struct{})
	var started sync.WaitGroup
	started.Add(2)
	c := NewChat("repo", &MockBackend{
		QueryRepositoryFunc: func(ctx context.Context, message, repositoryName string) (models.ChatMessage, error) {
			started.Done()
			if message == "slow" {
				<-gate
			}
			return models.ChatMessage{Role: models.RoleAssistant, Content: "re: " + message}, nil
		},
	})

	slowDone := make(chan error, 1)
	go func() { _, err := c.Send(context.Background(), "slow"); slowDone <- err }()
	require.Eventually(t, func() bool { return c.Pending() == 1 }, timeout, tick)

	ctx, cancel := context.WithCancel(context.Background())
	fastDone := make(chan error, 1)
	go func() { _, err := c.Send(ctx, "fast"); fastDone <- err }()
	started.Wait()
	cancel()

	select {
	case err := <-fastDone:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(timeout):
		t.Fatal("cancelled send still waiting for its turn")
	}
	assert.Equal(t, 1, c.Pending())

	close(gate)
	require.NoError(t, <-slowDone)
	assert.Equal(t, 0, c.Pending())

	// later sends are not blocked behind the abandoned turn
	reply, err := c.Send(context.Background(), "after")
	require.NoError(t, err)
	assert.Equal(t, "re: after", reply.Content)
	assert.Equal(t, []models.ChatMessage{
		{Role: models.RoleUser, Content: "slow"},
		{Role: models.RoleUser, Content: "fast"},
		{Role: models.RoleAssistant, Content: "re: slow"},
		{Role: models.RoleUser, Content: "after"},
		{Role: models.RoleAssistant, Content: "re: after"},
	}, c.Transcript())
}
