package commands

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"rag-apps/internal/apperr"
	"rag-apps/internal/helper"
	"rag-apps/internal/vectorstore/chromemdb"
)

func newIndexesCmd(st *state) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "indexes",
		Short: "List vector indexes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			store, err := openStore(cmd, st)
			if err != nil {
				return err
			}
			defer store.Close()
			infos, err := store.ListIndexes(cmd.Context())
			if err != nil {
				return err
			}
			if asJSON {
				return helper.PrettyPrint(cmd.OutOrStdout(), infos)
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "NAME\tDIMENSION\tMETRIC\tRECORDS")
			for _, info := range infos {
				fmt.Fprintf(w, "%s\t%d\t%s\t%d\n", info.Name, info.Dimension, info.Metric, info.Count)
			}
			return w.Flush()
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print JSON")
	cmd.AddCommand(newIndexDeleteCmd(st), newIndexExportCmd(st), newIndexImportCmd(st))
	return cmd
}

func newIndexDeleteCmd(st *state) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <name>",
		Short: "Delete an index and its records",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openStore(cmd, st)
			if err != nil {
				return err
			}
			defer store.Close()
			if err := store.DeleteIndex(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Deleted %q\n", args[0])
			return nil
		},
	}
}

func newIndexExportCmd(st *state) *cobra.Command {
	return &cobra.Command{
		Use:   "export <name>",
		Short: "Export a chromem index to an encrypted file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := openChromem(cmd, st)
			if err != nil {
				return err
			}
			path, err := m.Export(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Exported %q to %s\n", args[0], path)
			return nil
		},
	}
}

func newIndexImportCmd(st *state) *cobra.Command {
	return &cobra.Command{
		Use:   "import <file>",
		Short: "Import indexes from an exported chromem file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := openChromem(cmd, st)
			if err != nil {
				return err
			}
			names, err := m.Import(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Imported %s from %s\n", strings.Join(names, ", "), args[0])
			return nil
		},
	}
}

func openChromem(cmd *cobra.Command, st *state) (*chromemdb.VectorDBManager, error) {
	if st.cfg.VectorStore.Type != "chromem" {
		return nil, apperr.New(apperr.KindInputInvalid, "indexes", "export and import need the chromem vector store, configured %q", st.cfg.VectorStore.Type)
	}
	store, err := openStore(cmd, st)
	if err != nil {
		return nil, err
	}
	return store.(*chromemdb.VectorDBManager), nil
}
