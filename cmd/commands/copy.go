package commands

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"rag-apps/internal/copywriter"
	"rag-apps/internal/llmservice"
)

func newCopyCmd(st *state) *cobra.Command {
	var req copywriter.Request
	cmd := &cobra.Command{
		Use:   "copy <text>",
		Short: "Write marketing copy for an age group",
		Long: fmt.Sprintf(`Write marketing copy in the voice of an age group.

Age groups: %s
Tasks: %s`, strings.Join(copywriter.AgeGroups, ", "), strings.Join(copywriter.Tasks, ", ")),
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			gen, err := llmservice.NewGenerator(st.cfg)
			if err != nil {
				return err
			}
			req.Query = strings.Join(args, " ")
			out, err := copywriter.New(gen).Write(cmd.Context(), req)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), out)
			return nil
		},
	}
	cmd.Flags().StringVar(&req.AgeGroup, "age", "Adult", "Age group to write for")
	cmd.Flags().StringVar(&req.Task, "task", "Write a sales copy", "What to write")
	cmd.Flags().IntVarP(&req.WordLimit, "words", "w", copywriter.DefaultWordLimit, "Word limit (1-200)")
	return cmd
}
