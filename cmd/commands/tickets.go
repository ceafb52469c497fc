package commands

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"rag-apps/internal/apperr"
	"rag-apps/internal/classifier"
	"rag-apps/internal/helper"
)

func newTicketsCmd(st *state) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tickets",
		Short: "Route support tickets to departments",
	}
	cmd.AddCommand(newTicketsTrainCmd(st), newTicketsSubmitCmd(st), newTicketsListCmd(st))
	return cmd
}

func newTicketsTrainCmd(st *state) *cobra.Command {
	return &cobra.Command{
		Use:   "train <labelled.csv>",
		Short: "Train the department classifier from text,department rows",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := os.Open(args[0])
			if err != nil {
				return apperr.Wrap(apperr.KindInputInvalid, "tickets.train", err)
			}
			defer f.Close()
			rows, err := classifier.ReadLabelledCSV(f)
			if err != nil {
				return err
			}

			c, err := st.container(cmd.Context())
			if err != nil {
				return err
			}
			defer c.Close()
			model, report, err := classifier.Train(cmd.Context(), c.Embedder, rows, st.cfg.Classifier.TestFraction)
			if err != nil {
				return err
			}
			if err := model.Save(st.cfg.Classifier.ModelPath); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Trained on %d rows, %d held out, accuracy %.2f. Model saved to %s\n",
				report.TrainSize, report.TestSize, report.Accuracy, st.cfg.Classifier.ModelPath)
			return nil
		},
	}
}

func newTicketsSubmitCmd(st *state) *cobra.Command {
	return &cobra.Command{
		Use:   "submit <ticket text>",
		Short: "Classify a ticket and add it to its department",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cc := st.cfg.Classifier
			board, err := classifier.LoadBoard(cc.BoardPath, cc.Departments...)
			if err != nil {
				return err
			}
			c, err := st.container(cmd.Context())
			if err != nil {
				return err
			}
			defer c.Close()

			ticket, err := c.Router().Submit(cmd.Context(), board, strings.Join(args, " "))
			if err != nil {
				return err
			}
			if err := board.Save(cc.BoardPath); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Ticket submitted to %s\n", ticket.Department)
			return nil
		},
	}
}

func newTicketsListCmd(st *state) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "Show submitted tickets per department",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cc := st.cfg.Classifier
			board, err := classifier.LoadBoard(cc.BoardPath, cc.Departments...)
			if err != nil {
				return err
			}
			return helper.PrettyPrint(cmd.OutOrStdout(), board.List())
		},
	}
}
