package answer

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/rs/zerolog/log"
	"github.com/seanblong/repochat/internal/ai"
	"github.com/seanblong/repochat/internal/store"
	"github.com/seanblong/repochat/pkg/models"
)

const (
	// MaxContextBytes caps the repository text handed to the model per question.
	MaxContextBytes = 8000
	maxDocuments    = 50
)

// ErrNotFound is returned when no repository has the requested name.
var ErrNotFound = errors.New("repository not found")

// ErrEmptyMessage is returned for blank questions.
var ErrEmptyMessage = errors.New("message is required")

type Service struct {
	Client ai.Client
	Store  store.Store
}

// NewService creates a new answer service with the provided AI client and store
func NewService(client ai.Client, store store.Store) *Service {
	return &Service{
		Client: client,
		Store:  store,
	}
}

// Ask answers message against the most recent repository called name.
func (s *Service) Ask(ctx context.Context, name, message string) (models.ChatMessage, error) {
	message = strings.TrimSpace(message)
	if message == "" {
		return models.ChatMessage{}, ErrEmptyMessage
	}

	e, ok, err := s.Store.GetRepository(ctx, name)
	if err != nil {
		return models.ChatMessage{}, fmt.Errorf("lookup repository: %w", err)
	}
	if !ok {
		return models.ChatMessage{}, ErrNotFound
	}

	docs, err := s.Store.Documents(ctx, e.ID, maxDocuments)
	if err != nil {
		log.Warn().Err(err).Str("repository", name).Msg("loading documents failed, answering without context")
		docs = nil
	}

	reply, err := s.Client.Answer(ctx, ai.Question{
		Repository: name,
		Message:    message,
		Context:    buildContext(docs, MaxContextBytes),
	})
	if err != nil {
		return models.ChatMessage{}, err
	}
	return models.ChatMessage{Role: models.RoleAssistant, Content: reply}, nil
}

// buildContext concatenates documents as "path:\ncontent" blocks, stopping at
// limit bytes. The last block is cut short rather than dropped.
func buildContext(docs []models.Document, limit int) string {
	var b strings.Builder
	for _, d := range docs {
		block := d.Path + ":\n" + d.Content + "\n\n"
		if room := limit - b.Len(); len(block) > room {
			if room > 0 {
				b.WriteString(truncate(block, room))
			}
			break
		}
		b.WriteString(block)
	}
	return strings.TrimRight(b.String(), "\n")
}

// truncate cuts s to at most n bytes without splitting a rune.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
