package commands

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"rag-apps/internal/helper"
	"rag-apps/internal/models"
)

type queryFlags struct {
	index  string
	k      int
	filter []string
	json   bool
}

func (f *queryFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&f.index, "index", "i", "", "Index name (default from config)")
	cmd.Flags().IntVarP(&f.k, "top", "k", 0, "Number of matches (default rag.top_k)")
	cmd.Flags().StringSliceVarP(&f.filter, "filter", "f", nil, "Metadata filter as key=value, repeatable")
	cmd.Flags().BoolVar(&f.json, "json", false, "Print JSON")
}

func newAskCmd(st *state) *cobra.Command {
	var f queryFlags
	cmd := &cobra.Command{
		Use:   "ask <question>",
		Short: "Answer a question from an index",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			filter, err := parseFilter(f.filter)
			if err != nil {
				return err
			}
			c, err := st.container(cmd.Context())
			if err != nil {
				return err
			}
			defer c.Close()
			if f.index == "" {
				f.index = st.cfg.RAG.IndexName
			}

			question := strings.Join(args, " ")
			ans, err := c.Pipeline.Answer(cmd.Context(), f.index, question, f.k, filter)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if f.json {
				return helper.PrettyPrint(out, ans)
			}
			fmt.Fprintf(out, "%s\n\n", ans.Text)
			printSources(cmd, ans.Sources)
			return nil
		},
	}
	f.register(cmd)
	return cmd
}

func newSearchCmd(st *state) *cobra.Command {
	var f queryFlags
	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "List the records closest to a query",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			filter, err := parseFilter(f.filter)
			if err != nil {
				return err
			}
			c, err := st.container(cmd.Context())
			if err != nil {
				return err
			}
			defer c.Close()
			if f.index == "" {
				f.index = st.cfg.RAG.IndexName
			}

			res, err := c.Pipeline.Retrieve(cmd.Context(), f.index, strings.Join(args, " "), f.k, filter)
			if err != nil {
				return err
			}
			if f.json {
				return helper.PrettyPrint(cmd.OutOrStdout(), res)
			}
			if len(res) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No matches.")
				return nil
			}
			for i, m := range res {
				fmt.Fprintf(cmd.OutOrStdout(), "%d. [%.3f] %s\n   %s\n\n", i+1, m.Score, sourceOf(m), truncate(m.Content, 300))
			}
			return nil
		},
	}
	f.register(cmd)
	return cmd
}

func printSources(cmd *cobra.Command, res models.RetrievalResult) {
	if len(res) == 0 {
		return
	}
	fmt.Fprintln(cmd.OutOrStdout(), "Sources:")
	for _, m := range res {
		fmt.Fprintf(cmd.OutOrStdout(), "  - %s (%.3f)\n", sourceOf(m), m.Score)
	}
}

func sourceOf(m models.Match) string {
	if src := m.Metadata[models.MetaSource]; src != "" {
		if page := m.Metadata[models.MetaPage]; page != "" {
			return src + " p." + page
		}
		return src
	}
	return m.ID
}

// truncate shortens s to maxLen runes, adding "..." if truncated.
func truncate(s string, maxLen int) string {
	s = strings.Join(strings.Fields(s), " ")
	runes := []rune(s)
	if len(runes) <= maxLen {
		return s
	}
	return string(runes[:maxLen-3]) + "..."
}
