package commands

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"rag-apps/internal/apperr"
	"rag-apps/internal/screening"
)

func newScreenCmd(st *state) *cobra.Command {
	var (
		job   string
		count int
		index string
	)
	cmd := &cobra.Command{
		Use:   "screen <resume files...>",
		Short: "Rank resumes against a job description",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if job == "" {
				return apperr.New(apperr.KindInputInvalid, "screen", "--job is required")
			}
			ctx := cmd.Context()
			c, err := st.container(ctx)
			if err != nil {
				return err
			}
			defer c.Close()

			var uploads []screening.Upload
			for _, path := range args {
				f, err := os.Open(path)
				if err != nil {
					return apperr.Wrap(apperr.KindInputInvalid, "screen", err)
				}
				defer f.Close()
				info, err := f.Stat()
				if err != nil {
					return apperr.Wrap(apperr.KindInputInvalid, "screen", err)
				}
				uploads = append(uploads, screening.Upload{Name: filepath.Base(path), Reader: f, Size: info.Size()})
			}

			batch, err := screening.NewBatchID()
			if err != nil {
				return err
			}
			s := screening.New(c.Pipeline, c.Loader, index)
			if _, err := s.Ingest(ctx, batch, uploads); err != nil {
				return err
			}
			candidates, err := s.Screen(ctx, batch, job, count)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Batch %s\n\n", batch)
			for i, cand := range candidates {
				fmt.Fprintf(out, "%d. %s (match %.3f)\n%s\n\n", i+1, cand.Name, cand.Score, cand.Summary)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&job, "job", "j", "", "Job description to match")
	cmd.Flags().IntVarP(&count, "count", "n", 3, "Number of resumes to return")
	cmd.Flags().StringVarP(&index, "index", "i", "resumes", "Index holding the resumes")
	return cmd
}
