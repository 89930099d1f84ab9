package session

import (
	"context"
	"strings"
	"sync"

	"github.com/seanblong/repochat/pkg/models"
)

// Querier is the part of the backend a chat needs.
type Querier interface {
	QueryRepository(ctx context.Context, message, repositoryName string) (models.ChatMessage, error)
}

// Chat is the transcript for one repository.
//
// Sends may overlap. Each send takes a sequence number when it is accepted and
// its reply is committed only after every earlier send has committed, failed
// or been cancelled, so replies land in submission order whatever order they
// arrive in. A send whose context ends while it waits returns ctx.Err().
type Chat struct {
	repository string
	querier    Querier

	// OnChange receives a copy of the transcript after every append. It is
	// called with the chat's lock held and must not call back into the Chat.
	OnChange func(transcript []models.ChatMessage, pending int)

	mu         sync.Mutex
	turn       *sync.Cond
	transcript []models.ChatMessage
	next       uint64
	committed  uint64
	pending    int

	// abandoned holds sequence numbers whose sender stopped waiting.
	abandoned map[uint64]bool
}

func NewChat(repository string, querier Querier) *Chat {
	c := &Chat{repository: repository, querier: querier, abandoned: make(map[uint64]bool)}
	c.turn = sync.NewCond(&c.mu)
	return c
}

func (c *Chat) Repository() string { return c.repository }

// Send appends input as a user message and queries the backend. On success
// the reply is appended and returned; on failure the user message stays and
// the error is returned.
func (c *Chat) Send(ctx context.Context, input string) (models.ChatMessage, error) {
	if strings.TrimSpace(input) == "" {
		return models.ChatMessage{}, invalid("message", MsgEnterMessage)
	}

	c.mu.Lock()
	seq := c.next
	c.next++
	c.pending++
	c.transcript = append(c.transcript, models.ChatMessage{Role: models.RoleUser, Content: input})
	c.changed()
	c.mu.Unlock()

	reply, err := c.querier.QueryRepository(ctx, input, c.repository)

	stop := context.AfterFunc(ctx, func() {
		c.mu.Lock()
		c.turn.Broadcast()
		c.mu.Unlock()
	})
	defer stop()

	c.mu.Lock()
	defer c.mu.Unlock()
	for c.committed != seq {
		if ctxErr := ctx.Err(); ctxErr != nil {
			// Give up the turn; whoever commits before it skips over it.
			c.abandoned[seq] = true
			c.pending--
			c.changed()
			return models.ChatMessage{}, ctxErr
		}
		c.turn.Wait()
	}
	c.committed++
	for c.abandoned[c.committed] {
		delete(c.abandoned, c.committed)
		c.committed++
	}
	c.pending--
	if err == nil {
		c.transcript = append(c.transcript, reply)
	}
	c.changed()
	c.turn.Broadcast()
	if err != nil {
		return models.ChatMessage{}, err
	}
	return reply, nil
}

// changed notifies OnChange. Callers hold c.mu.
func (c *Chat) changed() {
	if c.OnChange != nil {
		c.OnChange(c.snapshot(), c.pending)
	}
}

func (c *Chat) snapshot() []models.ChatMessage {
	return append([]models.ChatMessage{}, c.transcript...)
}

// Transcript returns a copy of the messages so far.
func (c *Chat) Transcript() []models.ChatMessage {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshot()
}

// Pending is the number of sends still waiting for their reply.
func (c *Chat) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pending
}
