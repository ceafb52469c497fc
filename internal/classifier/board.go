package classifier

import (
	"context"
	"encoding/json"
	"errors"
	"maps"
	"os"
	"slices"
	"sync"
	"time"

	"rag-apps/internal/apperr"
	"rag-apps/internal/embedding"
	"rag-apps/internal/models"
)

// Board keeps submitted tickets per department, append only.
type Board struct {
	mu      sync.Mutex
	tickets map[string][]models.Ticket
}

// NewBoard starts a board with an empty list for each known department.
func NewBoard(departments ...string) *Board {
	b := &Board{tickets: map[string][]models.Ticket{}}
	for _, d := range departments {
		b.tickets[d] = nil
	}
	return b
}

func (b *Board) Add(t models.Ticket) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.tickets[t.Department] = append(b.tickets[t.Department], t)
}

// List returns a copy of every department's tickets.
func (b *Board) List() map[string][]models.Ticket {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make(map[string][]models.Ticket, len(b.tickets))
	for d, ts := range b.tickets {
		out[d] = slices.Clone(ts)
		if out[d] == nil {
			out[d] = []models.Ticket{}
		}
	}
	return out
}

func (b *Board) Departments() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return slices.Sorted(maps.Keys(b.tickets))
}

// Router assigns incoming tickets to a department.
type Router struct {
	model    *Model
	embedder embedding.Embedder
}

func NewRouter(model *Model, embedder embedding.Embedder) *Router {
	return &Router{model: model, embedder: embedder}
}

// Submit classifies text and files it on board.
func (r *Router) Submit(ctx context.Context, board *Board, text string) (models.Ticket, error) {
	if r.model == nil {
		return models.Ticket{}, apperr.New(apperr.KindInputInvalid, "classifier.Submit", "no trained model loaded")
	}
	vec, err := r.embedder.Embed(ctx, text)
	if err != nil {
		return models.Ticket{}, err
	}
	dept, _, err := r.model.Predict(vec)
	if err != nil {
		return models.Ticket{}, err
	}
	t := models.Ticket{Text: text, Department: dept, CreatedAt: time.Now().UTC()}
	board.Add(t)
	return t, nil
}

// Save writes the board as JSON.
func (b *Board) Save(path string) error {
	data, err := json.MarshalIndent(b.List(), "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

// LoadBoard reads a board saved with Save. A missing file yields an empty
// board with the given departments.
func LoadBoard(path string, departments ...string) (*Board, error) {
	b := NewBoard(departments...)
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return b, nil
	}
	if err != nil {
		return nil, err
	}
	var saved map[string][]models.Ticket
	if err := json.Unmarshal(data, &saved); err != nil {
		return nil, apperr.Wrap(apperr.KindInputInvalid, "classifier.LoadBoard", err)
	}
	for d, ts := range saved {
		b.tickets[d] = append(b.tickets[d], ts...)
	}
	return b, nil
}
