package main

import (
	"fmt"
	"os"

	"einvoice/internal/fbrmock"
	"einvoice/internal/logger"

	"github.com/spf13/cobra"
)

func newRootCommand() *cobra.Command {
	var configPath string

	rootCmd := &cobra.Command{
		Use:   "fbr-sandbox",
		Short: "Local emulator of the FBR digital invoicing gateway",
		Long: `Serves the validate and post endpoints (production and _sb sandbox paths) with
bearer-token checks, a subset of the gateway's field rules and invoice numbering.
Point FBR_BASE_URL at it for offline development.`,
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := fbrmock.LoadConfig(configPath)
			if err != nil {
				return fmt.Errorf("failed to load configuration: %w", err)
			}
			srv := fbrmock.NewServer(cfg, logger.WithComponent("fbr-sandbox"))
			return srv.Start(cfg.Port)
		},
	}
	rootCmd.Flags().StringVar(&configPath, "config", "configs/fbr-sandbox.yaml", "Path to the emulator YAML config")
	return rootCmd
}

func main() {
	if err := logger.Setup(logger.DefaultConfig()); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	if err := run(newRootCommand(), os.Args[1:]); err != nil {
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, args []string) error {
	cmd.SetArgs(args)
	err := cmd.Execute()
	if err != nil {
		log := logger.WithComponent("fbr-sandbox")
		log.Error().Err(err).Msg("Server failed")
	}
	return err
}
