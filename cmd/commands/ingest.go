package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"rag-apps/internal/apperr"
	"rag-apps/internal/models"
)

func newIngestCmd(st *state) *cobra.Command {
	var (
		index   string
		sitemap string
	)
	cmd := &cobra.Command{
		Use:   "ingest [files...]",
		Short: "Load documents into a vector index",
		Long: `Load PDF, DOCX, XLSX, Markdown or text files, or every page listed in a
sitemap, split them into chunks and upsert their embeddings into an index.

Examples:
  rag-apps ingest handbook.pdf faq.md
  rag-apps ingest --index support --sitemap https://example.com/sitemap.xml`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 && sitemap == "" {
				return apperr.New(apperr.KindInputInvalid, "ingest", "give files to load or --sitemap")
			}
			ctx := cmd.Context()
			c, err := st.container(ctx)
			if err != nil {
				return err
			}
			defer c.Close()

			var docs []models.Document
			if len(args) > 0 {
				loaded, err := c.Loader.LoadFiles(args...)
				if err != nil {
					return err
				}
				docs = append(docs, loaded...)
			}
			if sitemap != "" {
				pages, err := c.Sitemap.Load(ctx, sitemap)
				if err != nil {
					return err
				}
				docs = append(docs, pages...)
			}
			if index == "" {
				index = st.cfg.RAG.IndexName
			}
			n, err := c.Pipeline.Ingest(ctx, index, docs)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Ingested %d documents as %d records into %q\n", len(docs), n, index)
			return nil
		},
	}
	cmd.Flags().StringVarP(&index, "index", "i", "", "Index name (default from config)")
	cmd.Flags().StringVar(&sitemap, "sitemap", "", "Sitemap URL to crawl")
	return cmd
}
