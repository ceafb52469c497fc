package copywriter

import (
	"context"
	"slices"
	"strings"

	"github.com/tmc/langchaingo/prompts"

	"rag-apps/internal/apperr"
	"rag-apps/internal/llmservice"
	"rag-apps/internal/models"
)

var (
	AgeGroups = []string{"Kid", "Adult", "Senior Citizen"}
	Tasks     = []string{"Write a sales copy", "Create a tweet", "Write a product description"}
)

const (
	DefaultWordLimit = 25
	MaxWordLimit     = 200
	// exampleBudget caps the words spent on examples, prompt included.
	exampleBudget = 200
)

type example struct {
	query  string
	answer string
}

var examplesByAge = map[string][]example{
	"Kid": {
		{"What is a mobile?", "A mobile is a magical device that fits in your pocket, like a mini playground. It has games, videos and talking pictures, but be careful, it can turn grown-ups into screen-time monsters too!"},
		{"What is your fear?", "Sometimes I'm scared of thunderstorms and monsters under my bed. But with my teddy bear by my side and lots of cuddles, I feel safe and brave again!"},
	},
	"Adult": {
		{"What is a mobile?", "A mobile is a portable communication device. It lets you make calls, send messages, browse the internet and run all kinds of applications wherever you are."},
		{"What is your fear?", "One of my fears is not living up to my potential. I've learned that fear can be a motivator, pushing me to work harder and embrace new experiences."},
	},
	"Senior Citizen": {
		{"What is a mobile?", "A mobile, or cellphone, lets you call, message and take pictures. In my lifetime I have watched them become smaller and more powerful than I ever imagined."},
		{"What is your fear?", "As an old guy, one of my fears is being alone. Nurturing relationships with the people I love keeps that fear away and brings warmth to my days."},
	},
}

// Request describes one piece of copy to write.
type Request struct {
	Query     string `json:"query"`
	AgeGroup  string `json:"age_group"`
	Task      string `json:"task"`
	WordLimit int    `json:"word_limit"`
}

// Writer produces marketing copy in the voice of an age group.
type Writer struct {
	gen     llmservice.Generator
	prompt  prompts.PromptTemplate
	example prompts.PromptTemplate
}

func New(gen llmservice.Generator) *Writer {
	return &Writer{
		gen:     gen,
		prompt:  prompts.NewPromptTemplate(models.CopyPromptTemplate, []string{"age_option", "task_option", "word_limit", "examples", "query"}),
		example: prompts.NewPromptTemplate(models.CopyExampleTemplate, []string{"query", "answer"}),
	}
}

func (w *Writer) Write(ctx context.Context, req Request) (string, error) {
	prompt, err := w.Prompt(req)
	if err != nil {
		return "", err
	}
	return w.gen.Generate(ctx, prompt)
}

// Prompt validates req and renders the final prompt with as many examples
// as fit the example budget.
func (w *Writer) Prompt(req Request) (string, error) {
	const op = "copywriter.Prompt"
	if strings.TrimSpace(req.Query) == "" {
		return "", apperr.New(apperr.KindInputInvalid, op, "enter some text to write about")
	}
	age := canonical(AgeGroups, req.AgeGroup)
	if age == "" {
		return "", apperr.New(apperr.KindInputInvalid, op, "unknown age group %q", req.AgeGroup)
	}
	task := canonical(Tasks, req.Task)
	if task == "" {
		return "", apperr.New(apperr.KindInputInvalid, op, "unknown task %q", req.Task)
	}
	if req.WordLimit == 0 {
		req.WordLimit = DefaultWordLimit
	}
	if req.WordLimit < 1 || req.WordLimit > MaxWordLimit {
		return "", apperr.New(apperr.KindInputInvalid, op, "word limit must be between 1 and %d, got %d", MaxWordLimit, req.WordLimit)
	}

	examples, err := w.selectExamples(age, len(strings.Fields(req.Query)))
	if err != nil {
		return "", err
	}
	out, err := w.prompt.Format(map[string]any{
		"age_option":  age,
		"task_option": strings.ToLower(task[:1]) + task[1:],
		"word_limit":  req.WordLimit,
		"examples":    examples,
		"query":       req.Query,
	})
	if err != nil {
		return "", apperr.Wrap(apperr.KindInputInvalid, op, err)
	}
	return out, nil
}

// selectExamples adds rendered examples in order until the next one would
// push the word count past the budget.
func (w *Writer) selectExamples(age string, inputWords int) (string, error) {
	remaining := exampleBudget - inputWords
	var picked []string
	for _, ex := range examplesByAge[age] {
		text, err := w.example.Format(map[string]any{"query": ex.query, "answer": ex.answer})
		if err != nil {
			return "", apperr.Wrap(apperr.KindInputInvalid, "copywriter.selectExamples", err)
		}
		n := len(strings.Fields(text))
		if n > remaining {
			break
		}
		remaining -= n
		picked = append(picked, text)
	}
	return strings.Join(picked, "\n"), nil
}

// canonical matches v case-insensitively against choices.
func canonical(choices []string, v string) string {
	i := slices.IndexFunc(choices, func(c string) bool { return strings.EqualFold(c, strings.TrimSpace(v)) })
	if i < 0 {
		return ""
	}
	return choices[i]
}
