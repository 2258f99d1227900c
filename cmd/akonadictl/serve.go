package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/akonadi-go/akonadi/internal/retriever"
	"github.com/akonadi-go/akonadi/internal/server"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "run the storage server in the foreground",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		// No resource agents or search engines are wired in this
		// build; a deployment that adds them supplies its own
		// Directory/Engines before calling server.New.
		srv, err := server.New(cfg, noResourceDirectory{}, nil, log)
		if err != nil {
			return fmt.Errorf("serve: %w", err)
		}

		log.Info("akonadictl: starting", "data_dir", cfg.DataDir, "socket", cfg.SocketPath, "port", cfg.Port)
		return srv.Start(ctx)
	},
}

type noResourceDirectory struct{}

func (noResourceDirectory) ClientFor(resourceID int64) (retriever.ResourceClient, error) {
	return nil, fmt.Errorf("serve: no resource agent directory configured")
}
