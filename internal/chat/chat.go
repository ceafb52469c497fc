package chat

import (
	"context"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"rag-apps/internal/apperr"
	"rag-apps/internal/history"
	"rag-apps/internal/llmservice"
	"rag-apps/internal/models"
)

// Conversation sends the whole retained history with every message.
type Conversation struct {
	gen llmservice.Generator
	log *history.Log
}

// New wraps an existing log. A nil log starts a fresh one holding
// systemPrompt, or the default assistant prompt when that is empty.
func New(gen llmservice.Generator, l *history.Log, maxTurns int, systemPrompt string) *Conversation {
	if l == nil {
		if systemPrompt == "" {
			systemPrompt = models.DefaultSystemPrompt
		}
		l = history.NewLogWithSystem(maxTurns, systemPrompt)
	}
	return &Conversation{gen: gen, log: l}
}

func (c *Conversation) Log() *history.Log { return c.log }

// Send asks the model for a reply to input. The exchange is recorded only
// when the model answers, so a failed call leaves the log untouched.
func (c *Conversation) Send(ctx context.Context, input string) (string, error) {
	input = strings.TrimSpace(input)
	if input == "" {
		return "", apperr.New(apperr.KindInputInvalid, "chat.Send", "message is empty")
	}
	turns := append(c.log.Turns(), models.Turn{Role: models.RoleUser, Content: input, At: time.Now()})
	reply, err := c.gen.Chat(ctx, turns)
	if err != nil {
		return "", err
	}
	c.log.AppendExchange(input, reply)
	log.Debug().Int("turns", c.log.Len()).Msg("Chat reply")
	return reply, nil
}
