package cli

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/dealflowhq/dealflow/internal/api"
	"github.com/dealflowhq/dealflow/internal/engine"
	"github.com/dealflowhq/dealflow/internal/events"
	"github.com/spf13/cobra"
)

// newServeCmd creates the serve command, which runs the HTTP trigger API
// until interrupted.
func newServeCmd() *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP trigger API and event stream",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if addr != "" {
				cfg.Server.Addr = addr
			}

			d, err := openDB(cfg)
			if err != nil {
				return err
			}
			defer d.Close()

			logger := newLogger()
			publisher := events.NewMemoryPublisher()
			defer publisher.Close()

			eng := engine.New(d, d, logger,
				engine.WithPublisher(publisher),
				engine.WithRolePatterns(rolePatterns(cfg)),
				engine.WithLookupTimeout(cfg.Engine.LookupTimeout),
				engine.WithParallelism(cfg.Engine.Parallelism),
			)

			srv := api.NewServer(eng, d, publisher, logger)

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			return srv.ListenAndServe(ctx, cfg.Server.Addr)
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "listen address (overrides config)")
	return cmd
}
