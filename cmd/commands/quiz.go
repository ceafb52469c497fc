package commands

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"rag-apps/internal/bootstrap"
	"rag-apps/internal/config"
	"rag-apps/internal/helper"
	"rag-apps/internal/llmservice"
	"rag-apps/internal/models"
	"rag-apps/internal/parser"
	"rag-apps/internal/quiz"
)

type quizFlags struct {
	store bool
	json  bool
	topic string
}

func (f *quizFlags) register(cmd *cobra.Command) {
	cmd.Flags().BoolVar(&f.store, "store", false, "Insert the questions into the question database")
	cmd.Flags().BoolVar(&f.json, "json", false, "Print the questions as JSON")
	cmd.Flags().StringVar(&f.topic, "topic", "", "Topic recorded with each question (default quiz.topic)")
}

func newQuizCmd(st *state) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "quiz",
		Short: "Extract multiple choice questions from documents",
	}
	cmd.AddCommand(newQuizRegexCmd(st), newQuizExtractCmd(st))
	return cmd
}

// readAll loads every page of path as one text, ignoring max_documents.
func readAll(cfg *config.Config, path string) (string, error) {
	loader := parser.NewLoader(config.LoaderConfig{MaxFileBytes: cfg.Loader.MaxFileBytes})
	docs, err := loader.LoadFile(path)
	if err != nil {
		return "", err
	}
	parts := make([]string, len(docs))
	for i, d := range docs {
		parts[i] = d.Content
	}
	return strings.Join(parts, "\n"), nil
}

func newQuizRegexCmd(st *state) *cobra.Command {
	var f quizFlags
	cmd := &cobra.Command{
		Use:   "regex <file>",
		Short: "Parse questions already laid out as Q1. / (a)-(d) / Correct answer:",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			text, err := readAll(st.cfg, args[0])
			if err != nil {
				return err
			}
			qc := st.cfg.Quiz
			if f.topic != "" {
				qc.Topic = f.topic
			}
			questions := quiz.ExtractRegex(text, filepath.Base(args[0]), qc)
			return finishQuiz(cmd, st, f, questions)
		},
	}
	f.register(cmd)
	return cmd
}

func newQuizExtractCmd(st *state) *cobra.Command {
	var f quizFlags
	cmd := &cobra.Command{
		Use:   "extract <file>",
		Short: "Ask the model to write questions chunk by chunk",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			text, err := readAll(st.cfg, args[0])
			if err != nil {
				return err
			}
			qc := st.cfg.Quiz
			if f.topic != "" {
				qc.Topic = f.topic
			}
			gen, err := llmservice.NewGenerator(st.cfg)
			if err != nil {
				return err
			}
			ex, err := quiz.NewExtractor(gen, quiz.NewTokenCounter(qc.TokenizerModel), qc)
			if err != nil {
				return err
			}
			questions, err := ex.Extract(cmd.Context(), text, filepath.Base(args[0]))
			if err != nil && len(questions) == 0 {
				return err
			}
			if err != nil {
				fmt.Fprintf(cmd.ErrOrStderr(), "Extraction stopped early: %v\n", err)
			}
			return finishQuiz(cmd, st, f, questions)
		},
	}
	f.register(cmd)
	return cmd
}

func finishQuiz(cmd *cobra.Command, st *state, f quizFlags, questions []models.Question) error {
	out := cmd.OutOrStdout()
	if f.json {
		if err := helper.PrettyPrint(out, questions); err != nil {
			return err
		}
	} else {
		fmt.Fprintf(out, "Found %d questions\n", len(questions))
	}
	if !f.store {
		return nil
	}
	n, err := storeQuestions(cmd.Context(), st.cfg, questions)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "Stored %d questions\n", n)
	return nil
}

func storeQuestions(ctx context.Context, cfg *config.Config, questions []models.Question) (int, error) {
	c := &bootstrap.Container{Config: cfg, Policy: helper.PolicyFrom(cfg.Retry)}
	qs, closeDB, err := c.QuestionStore(ctx)
	if err != nil {
		return 0, err
	}
	defer closeDB()
	return quiz.Store(ctx, qs, questions)
}
