package history

import (
	"sync"
	"time"

	"rag-apps/internal/models"
)

// Log is an append-only conversation record shared by reference. Once it
// holds more than maxTurns entries the oldest are dropped, except a leading
// system turn which stays pinned.
type Log struct {
	mu       sync.Mutex
	turns    []models.Turn
	maxTurns int
	now      func() time.Time
}

func NewLog(maxTurns int) *Log {
	if maxTurns <= 0 {
		maxTurns = 50
	}
	return &Log{maxTurns: maxTurns, now: time.Now}
}

// NewLogWithSystem starts a log with a pinned system prompt.
func NewLogWithSystem(maxTurns int, prompt string) *Log {
	l := NewLog(maxTurns)
	l.Append(models.RoleSystem, prompt)
	return l
}

func (l *Log) Append(role models.Role, content string) models.Turn {
	l.mu.Lock()
	defer l.mu.Unlock()
	t := models.Turn{Role: role, Content: content, At: l.now()}
	l.turns = append(l.turns, t)
	if len(l.turns) > l.maxTurns {
		l.evict()
	}
	return t
}

// AppendExchange records a user turn and its reply together so concurrent
// exchanges on one log never interleave.
func (l *Log) AppendExchange(user, assistant string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	at := l.now()
	l.turns = append(l.turns,
		models.Turn{Role: models.RoleUser, Content: user, At: at},
		models.Turn{Role: models.RoleAssistant, Content: assistant, At: at},
	)
	if len(l.turns) > l.maxTurns {
		l.evict()
	}
}

func (l *Log) evict() {
	over := len(l.turns) - l.maxTurns
	start := 0
	if len(l.turns) > 0 && l.turns[0].Role == models.RoleSystem {
		start = 1
	}
	if start+over > len(l.turns) {
		over = len(l.turns) - start
	}
	l.turns = append(l.turns[:start], l.turns[start+over:]...)
}

// Turns returns a copy in insertion order.
func (l *Log) Turns() []models.Turn {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]models.Turn, len(l.turns))
	copy(out, l.turns)
	return out
}

func (l *Log) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.turns)
}

func (l *Log) MaxTurns() int { return l.maxTurns }
