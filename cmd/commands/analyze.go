package commands

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"rag-apps/internal/agent"
	"rag-apps/internal/apperr"
)

func newAnalyzeCmd(st *state) *cobra.Command {
	return &cobra.Command{
		Use:   "analyze <table.csv|table.xlsx> <question>",
		Short: "Ask a question about a CSV or XLSX table",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := os.Open(args[0])
			if err != nil {
				return apperr.Wrap(apperr.KindInputInvalid, "analyze", err)
			}
			defer f.Close()
			table, err := agent.ReadTable(args[0], f)
			if err != nil {
				return err
			}

			c, err := st.container(cmd.Context())
			if err != nil {
				return err
			}
			defer c.Close()
			fmt.Fprintln(cmd.OutOrStdout(), c.TableAgent().Query(cmd.Context(), table, strings.Join(args[1:], " ")))
			return nil
		},
	}
}
