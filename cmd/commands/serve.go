package commands

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"rag-apps/internal/bootstrap"
	"rag-apps/internal/helper"
	"rag-apps/internal/server"
	"rag-apps/internal/vectorstore"
)

func openStore(cmd *cobra.Command, st *state) (vectorstore.Store, error) {
	return bootstrap.OpenStore(cmd.Context(), st.cfg, helper.PolicyFrom(st.cfg.Retry))
}

func newServeCmd(st *state) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the JSON HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if addr != "" {
				st.cfg.Server.Addr = addr
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			c, err := st.container(ctx)
			if err != nil {
				return err
			}
			defer c.Close()
			srv := server.New(st.cfg, c.ServerDeps())

			errCh := make(chan error, 1)
			go func() { errCh <- srv.Run() }()

			select {
			case err := <-errCh:
				return err
			case <-ctx.Done():
			}
			log.Info().Msg("Shutting down")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "Listen address (default server.addr)")
	return cmd
}
