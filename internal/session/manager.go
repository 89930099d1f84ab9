// Package session holds the client-side state of a repochat session: the
// repository manager and per-repository chats.
package session

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"
	"github.com/seanblong/repochat/internal/client"
	"github.com/seanblong/repochat/pkg/models"
)

// State is the indexing form state.
type State int

const (
	Empty State = iota
	NamePending
	FilePending
	Ready
	Indexing
	Indexed
	Failed
)

func (s State) String() string {
	switch s {
	case Empty:
		return "empty"
	case NamePending:
		return "name-pending"
	case FilePending:
		return "file-pending"
	case Ready:
		return "ready"
	case Indexing:
		return "indexing"
	case Indexed:
		return "indexed"
	case Failed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Repositories is the part of the backend the manager needs.
type Repositories interface {
	IndexRepository(ctx context.Context, source client.Source, name string) (models.Repository, error)
	GetRepositories(ctx context.Context) ([]models.Repository, error)
}

// Manager tracks the indexing form, the known repositories and the selection.
// It is safe for concurrent use; callbacks run without the lock held.
type Manager struct {
	backend Repositories

	// OnSelect is called with the selected name, or "" on deselect.
	OnSelect func(name string)
	// OnState is called on every state transition.
	OnState func(State)

	mu       sync.Mutex
	name     string
	source   client.Source
	state    State
	repos    []models.Repository
	selected string
}

func NewManager(backend Repositories) *Manager {
	return &Manager{backend: backend}
}

// SetName records the repository name typed by the user.
func (m *Manager) SetName(name string) {
	m.mu.Lock()
	m.name = name
	s := m.settle()
	m.mu.Unlock()
	m.emit(s)
}

// Drop records the selected file. Only the first source is kept; dropping
// nothing clears the selection.
func (m *Manager) Drop(sources ...client.Source) {
	m.mu.Lock()
	m.source = nil
	if len(sources) > 0 {
		m.source = sources[0]
	}
	if len(sources) > 1 {
		log.Debug().Int("dropped", len(sources)).Msg("ignoring all but the first source")
	}
	s := m.settle()
	m.mu.Unlock()
	m.emit(s)
}

// settle derives the state from the inputs. An in-flight index keeps its state.
// Callers hold m.mu.
func (m *Manager) settle() State {
	if m.state == Indexing {
		return m.state
	}
	m.state = formState(m.name, m.source)
	return m.state
}

func formState(name string, source client.Source) State {
	hasName := strings.TrimSpace(name) != ""
	switch {
	case hasName && source != nil:
		return Ready
	case hasName:
		return NamePending
	case source != nil:
		return FilePending
	default:
		return Empty
	}
}

// Index uploads the selected file under the entered name. A missing file is
// reported before a missing name.
func (m *Manager) Index(ctx context.Context) (models.Repository, error) {
	m.mu.Lock()
	if m.state == Indexing {
		m.mu.Unlock()
		return models.Repository{}, &ValidationError{Field: "state", Message: MsgIndexingActive, err: ErrBusy}
	}
	if m.source == nil {
		m.mu.Unlock()
		return models.Repository{}, invalid("file", MsgSelectFile)
	}
	name := strings.TrimSpace(m.name)
	if name == "" {
		m.mu.Unlock()
		return models.Repository{}, invalid("name", MsgEnterName)
	}
	source := m.source
	m.state = Indexing
	m.mu.Unlock()
	m.emit(Indexing)

	repo, err := m.backend.IndexRepository(ctx, source, name)

	m.mu.Lock()
	if err != nil {
		m.state = Failed
		m.mu.Unlock()
		m.emit(Failed)

		m.mu.Lock()
		s := m.settle()
		m.mu.Unlock()
		m.emit(s)
		return models.Repository{}, err
	}
	m.repos = append(m.repos, repo)
	m.state = Indexed
	m.mu.Unlock()
	m.emit(Indexed)
	return repo, nil
}

// SuccessMessage is the notice shown after name was indexed.
func SuccessMessage(name string) string {
	return "Successfully indexed " + strings.TrimSpace(name)
}

// Load replaces the repository list with the backend's. On failure the list
// is left as it was. A selection that no longer exists is cleared.
func (m *Manager) Load(ctx context.Context) error {
	repos, err := m.backend.GetRepositories(ctx)
	if err != nil {
		return err
	}

	m.mu.Lock()
	m.repos = append([]models.Repository(nil), repos...)
	cleared := m.selected != "" && !m.hasLocked(m.selected)
	if cleared {
		m.selected = ""
	}
	m.mu.Unlock()
	if cleared {
		m.notifySelect("")
	}
	return nil
}

// Select makes name the active repository. It performs no network call.
func (m *Manager) Select(name string) error {
	m.mu.Lock()
	if !m.hasLocked(name) {
		m.mu.Unlock()
		return invalid("repository", MsgUnknownRepo)
	}
	m.selected = name
	m.mu.Unlock()
	m.notifySelect(name)
	return nil
}

// Deselect clears the active repository.
func (m *Manager) Deselect() {
	m.mu.Lock()
	m.selected = ""
	m.mu.Unlock()
	m.notifySelect("")
}

func (m *Manager) hasLocked(name string) bool {
	for _, r := range m.repos {
		if r.Name == name {
			return true
		}
	}
	return false
}

// Repositories returns a copy of the list in insertion order.
func (m *Manager) Repositories() []models.Repository {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]models.Repository{}, m.repos...)
}

func (m *Manager) Selected() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.selected
}

func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Inputs returns the current name and the selected file's name.
func (m *Manager) Inputs() (name, file string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.source != nil {
		file = m.source.Name()
	}
	return m.name, file
}

func (m *Manager) emit(s State) {
	if m.OnState != nil {
		m.OnState(s)
	}
}

func (m *Manager) notifySelect(name string) {
	if m.OnSelect != nil {
		m.OnSelect(name)
	}
}
