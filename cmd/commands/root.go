package commands

import (
	"context"
	"strings"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"rag-apps/internal/apperr"
	"rag-apps/internal/bootstrap"
	"rag-apps/internal/config"
	"rag-apps/internal/logger"
)

const defaultConfigPath = "./configs/config.yaml"

// state is shared by every subcommand of one invocation.
type state struct {
	configPath string
	envFile    string
	cfg        *config.Config
}

func (s *state) load() error {
	if err := godotenv.Load(s.envFile); err != nil {
		log.Debug().Str("file", s.envFile).Msg("No env file loaded")
	}
	cfg, err := config.LoadConfig(s.configPath)
	if err != nil {
		return apperr.Wrap(apperr.KindInputInvalid, "config", err)
	}
	logger.Setup(cfg.Log)
	s.cfg = cfg
	return nil
}

func (s *state) container(ctx context.Context) (*bootstrap.Container, error) {
	return bootstrap.NewContainer(ctx, s.cfg)
}

// NewRootCmd assembles the command tree.
func NewRootCmd() *cobra.Command {
	st := &state{}
	root := &cobra.Command{
		Use:   "rag-apps",
		Short: "Retrieval augmented LLM tools",
		Long: `rag-apps ingests documents into a vector index and answers questions
over them, and bundles small LLM tools built on the same pipeline:
ticket routing, resume screening, table analysis, quiz extraction,
marketing copy and chat.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return st.load()
		},
	}
	root.PersistentFlags().StringVarP(&st.configPath, "config", "c", defaultConfigPath, "Path to the YAML config file")
	root.PersistentFlags().StringVar(&st.envFile, "env", ".env", "Path to a .env file with API keys")

	root.AddCommand(
		newIngestCmd(st),
		newAskCmd(st),
		newSearchCmd(st),
		newTicketsCmd(st),
		newScreenCmd(st),
		newAnalyzeCmd(st),
		newQuizCmd(st),
		newCopyCmd(st),
		newChatCmd(st),
		newIndexesCmd(st),
		newServeCmd(st),
	)
	return root
}

func Execute() error {
	return NewRootCmd().Execute()
}

// parseFilter turns key=value pairs into a metadata filter.
func parseFilter(pairs []string) (map[string]string, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	out := make(map[string]string, len(pairs))
	for _, p := range pairs {
		k, v, ok := strings.Cut(p, "=")
		if !ok || k == "" {
			return nil, apperr.New(apperr.KindInputInvalid, "filter", "expected key=value, got %q", p)
		}
		out[k] = v
	}
	return out, nil
}
