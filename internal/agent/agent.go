package agent

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/tmc/langchaingo/prompts"

	"rag-apps/internal/apperr"
	"rag-apps/internal/llmservice"
	"rag-apps/internal/models"
)

const DefaultMaxRows = 5000

// Delegate answers a question about a table.
type Delegate interface {
	Analyze(ctx context.Context, table *Table, question string) (string, error)
}

// LLMDelegate renders the table as CSV into a prompt for the generator.
type LLMDelegate struct {
	gen    llmservice.Generator
	prompt prompts.PromptTemplate
}

func NewLLMDelegate(gen llmservice.Generator) *LLMDelegate {
	return &LLMDelegate{
		gen:    gen,
		prompt: prompts.NewPromptTemplate(models.TablePromptTemplate, []string{"table", "question"}),
	}
}

func (d *LLMDelegate) Analyze(ctx context.Context, table *Table, question string) (string, error) {
	body, err := table.CSV()
	if err != nil {
		return "", err
	}
	prompt, err := d.prompt.Format(map[string]any{"table": body, "question": question})
	if err != nil {
		return "", err
	}
	return d.gen.Generate(ctx, prompt)
}

// TableAgent answers free form questions over an uploaded table.
type TableAgent struct {
	delegate Delegate
	maxRows  int
}

func NewTableAgent(delegate Delegate, maxRows int) *TableAgent {
	if maxRows <= 0 {
		maxRows = DefaultMaxRows
	}
	return &TableAgent{delegate: delegate, maxRows: maxRows}
}

// Query never fails: load errors, delegate errors and delegate panics are
// all rendered into the returned text.
func (a *TableAgent) Query(ctx context.Context, table *Table, question string) string {
	if table == nil || len(table.Rows) == 0 {
		return apperr.UserMessage(apperr.New(apperr.KindInputInvalid, "agent.Query", "the uploaded table is empty"))
	}
	if strings.TrimSpace(question) == "" {
		return apperr.UserMessage(apperr.New(apperr.KindInputInvalid, "agent.Query", "please enter a query"))
	}

	var notices []string
	table, cut := table.Head(a.maxRows)
	if cut {
		notices = append(notices, fmt.Sprintf("Table has more than %d rows. Only the first %d rows are processed.", a.maxRows, a.maxRows))
	}

	answer, err := a.analyze(ctx, table, question)
	if err != nil {
		log.Warn().Err(err).Str("table", table.Name).Msg("Table query failed")
		answer = apperr.UserMessage(apperr.Wrap(apperr.KindDelegatedExecutionFailure, "agent.Query", err))
	}
	result := "**Query Result:**\n" + answer
	if len(notices) == 0 {
		return result
	}
	return strings.Join(notices, "\n") + "\n\n" + result
}

func (a *TableAgent) analyze(ctx context.Context, table *Table, question string) (answer string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return a.delegate.Analyze(ctx, table, question)
}
