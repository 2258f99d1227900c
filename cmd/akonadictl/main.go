// Command akonadictl runs and inspects the Akonadi storage server.
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/akonadi-go/akonadi/internal/config"
)

var (
	configPath string
	instanceID string
	verbose    bool

	cfg *config.Config
	log *slog.Logger
)

var rootCmd = &cobra.Command{
	Use:   "akonadictl",
	Short: "akonadictl controls the Akonadi storage server",
	Long:  "akonadictl starts the storage server, inspects its health, and diagnoses a stopped or broken instance.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		level := slog.LevelInfo
		if verbose {
			level = slog.LevelDebug
		}
		log = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

		loaded, err := config.Load(configPath)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		if instanceID != "" {
			loaded.InstanceID = instanceID
		}
		cfg = loaded
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to a YAML config file (default: built-in defaults + AKONADI_ env overrides)")
	rootCmd.PersistentFlags().StringVar(&instanceID, "instance", "", "instance identifier, for running more than one server per user")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(checkCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
