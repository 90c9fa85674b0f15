// Package cli implements fbrctl, the operator command line for the FBR gateway.
package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"

	"einvoice/internal/config"
	"einvoice/internal/fbr"
	"einvoice/internal/logger"

	"github.com/spf13/cobra"
)

var version = "1.0.0"

type options struct {
	cfg     *config.Config
	env     string
	baseURL string
	token   string
	asJSON  bool
}

// NewRootCommand builds the fbrctl command tree. cfg supplies gateway defaults that
// the persistent flags override.
func NewRootCommand(cfg *config.Config) *cobra.Command {
	opts := &options{cfg: cfg}

	root := &cobra.Command{
		Use:   "fbrctl",
		Short: "fbrctl - operator tools for the FBR digital invoicing gateway",
		Long: `fbrctl normalizes tax identifiers, lists the regulatory scenario catalog,
validates payload files and runs the sandbox regression suite against the
FBR digital invoicing gateway.

Gateway settings come from the environment (FBR_ENVIRONMENT, FBR_BASE_URL,
FBR_TIMEOUT, FBR_MAX_RETRIES, FBR_RETRY_BACKOFF) and can be overridden with flags.
The security token is read from --token or FBR_TOKEN.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVar(&opts.env, "env", cfg.FBREnvironment, "Gateway environment (sandbox or production)")
	root.PersistentFlags().StringVar(&opts.baseURL, "base-url", cfg.FBRBaseURL, "Gateway base URL")
	root.PersistentFlags().StringVar(&opts.token, "token", os.Getenv("FBR_TOKEN"), "FBR security token")
	root.PersistentFlags().BoolVar(&opts.asJSON, "json", false, "Print machine-readable JSON")

	root.AddCommand(
		newNormalizeCommand(opts),
		newScenariosCommand(opts),
		newValidateCommand(opts),
		newRegressCommand(opts),
	)
	return root
}

// Execute runs fbrctl with os.Args and exits non-zero on failure. Interrupt cancels
// in-flight gateway calls.
func Execute(cfg *config.Config) {
	log := logger.WithComponent("cmd")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := NewRootCommand(cfg).ExecuteContext(ctx); err != nil {
		stop()
		log.Error().
			Err(err).
			Msg("Command execution failed")
		fmt.Fprintf(os.Stderr, "Error executing command: %v\n", err)
		os.Exit(1)
	}
}

func (o *options) gateway() (fbr.Gateway, error) {
	env := fbr.Environment(o.env)
	if env != fbr.Sandbox && env != fbr.Production {
		return nil, fmt.Errorf("unknown environment %q", o.env)
	}
	gc := o.cfg.GatewayConfig(env)
	gc.BaseURL = o.baseURL
	return fbr.NewClient(gc, logger.WithComponent("fbr-client")), nil
}

func (o *options) requireToken() error {
	if o.token == "" {
		return fbr.ErrMissingToken
	}
	return nil
}

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
