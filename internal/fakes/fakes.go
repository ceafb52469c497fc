// Package fakes provides deterministic embedder and generator doubles for
// tests across packages.
package fakes

import (
	"context"
	"strings"
	"sync"
	"unicode"

	"rag-apps/internal/apperr"
	"rag-apps/internal/models"
)

// Dimension is the vector size of Embedder: one slot per latin letter.
const Dimension = 26

// Embedder maps text to its letter frequency vector, so texts sharing
// words land close together.
type Embedder struct {
	Dim   int
	Err   error
	mu    sync.Mutex
	Calls int
}

func (e *Embedder) Dimension() int {
	if e.Dim > 0 {
		return e.Dim
	}
	return Dimension
}

func (e *Embedder) Model() string { return "fake-letters" }

func (e *Embedder) Embed(_ context.Context, text string) ([]float32, error) {
	e.mu.Lock()
	e.Calls++
	e.mu.Unlock()
	if e.Err != nil {
		return nil, e.Err
	}
	if strings.TrimSpace(text) == "" {
		return nil, apperr.New(apperr.KindInputInvalid, "fakes.Embed", "cannot embed empty text")
	}
	return Letters(text, e.Dimension()), nil
}

func (e *Embedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v, err := e.Embed(ctx, t)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

// Letters counts a-z occurrences into a vector of length dim. A small
// constant keeps the vector non-zero.
func Letters(text string, dim int) []float32 {
	v := make([]float32, dim)
	for _, r := range strings.ToLower(text) {
		if r >= 'a' && r <= 'z' {
			v[int(r-'a')%dim]++
		} else if unicode.IsDigit(r) {
			v[int(r-'0')%dim] += 0.5
		}
	}
	v[dim-1] += 0.01
	return v
}

// Generator records prompts and replies from a script. Reply is used once
// the script runs out; Fn, when set, wins over both.
type Generator struct {
	mu      sync.Mutex
	Script  []string
	Reply   string
	Err     error
	Fn      func(prompt string) (string, error)
	Prompts []string
	Chats   [][]models.Turn
}

func (g *Generator) Model() string { return "fake-llm" }

func (g *Generator) next(prompt string) (string, error) {
	if g.Err != nil {
		return "", g.Err
	}
	if g.Fn != nil {
		return g.Fn(prompt)
	}
	if len(g.Script) > 0 {
		out := g.Script[0]
		g.Script = g.Script[1:]
		return out, nil
	}
	return g.Reply, nil
}

func (g *Generator) Generate(_ context.Context, prompt string) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.Prompts = append(g.Prompts, prompt)
	return g.next(prompt)
}

func (g *Generator) Chat(_ context.Context, turns []models.Turn) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.Chats = append(g.Chats, append([]models.Turn(nil), turns...))
	last := ""
	if len(turns) > 0 {
		last = turns[len(turns)-1].Content
	}
	return g.next(last)
}

// LastPrompt returns the most recent Generate prompt.
func (g *Generator) LastPrompt() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	if len(g.Prompts) == 0 {
		return ""
	}
	return g.Prompts[len(g.Prompts)-1]
}
