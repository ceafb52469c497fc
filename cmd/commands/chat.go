package commands

import (
	"bufio"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"rag-apps/internal/apperr"
	"rag-apps/internal/chat"
	"rag-apps/internal/llmservice"
)

func newChatCmd(st *state) *cobra.Command {
	var system string
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Chat with the model, keeping the conversation in memory",
		Long: `Read messages line by line from stdin and print each reply. The whole
retained conversation is sent with every message. An empty line or EOF ends
the session.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			gen, err := llmservice.NewGenerator(st.cfg)
			if err != nil {
				return err
			}
			conv := chat.New(gen, nil, st.cfg.History.MaxTurns, system)
			out := cmd.OutOrStdout()
			in := bufio.NewScanner(cmd.InOrStdin())
			for {
				fmt.Fprint(out, "You: ")
				if !in.Scan() {
					break
				}
				line := strings.TrimSpace(in.Text())
				if line == "" {
					break
				}
				reply, err := conv.Send(cmd.Context(), line)
				if err != nil {
					// a failed turn is reported and the session continues
					fmt.Fprintln(out, apperr.UserMessage(err))
					continue
				}
				fmt.Fprintf(out, "AI: %s\n", reply)
			}
			fmt.Fprintln(out)
			return in.Err()
		},
	}
	cmd.Flags().StringVar(&system, "system", "", "System prompt (default: a helpful assistant)")
	return cmd
}
