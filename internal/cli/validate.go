package cli

import (
	"encoding/json"
	"fmt"
	"os"

	"einvoice/internal/fbr"

	"github.com/spf13/cobra"
)

func newValidateCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "validate <payload.json>",
		Short: "Validate a payload file against the gateway without posting it",
		Example: `  fbrctl validate invoice.json --token $FBR_TOKEN
  fbrctl validate invoice.json --env production --json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := opts.requireToken(); err != nil {
				return err
			}
			data, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("failed to read payload: %w", err)
			}
			var payload fbr.InvoicePayload
			if err := json.Unmarshal(data, &payload); err != nil {
				return fmt.Errorf("failed to parse payload: %w", err)
			}

			gw, err := opts.gateway()
			if err != nil {
				return err
			}
			res, err := gw.Validate(cmd.Context(), opts.token, &payload)
			if res == nil {
				return err
			}

			out := cmd.OutOrStdout()
			if opts.asJSON {
				if werr := writeJSON(out, res); werr != nil {
					return werr
				}
			} else {
				printResult(cmd, res)
			}
			if err != nil {
				return err
			}
			if !res.Success {
				return fmt.Errorf("invoice is invalid: %s", res.Error)
			}
			return nil
		},
	}
}

func printResult(cmd *cobra.Command, res *fbr.SubmissionResult) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "%s: %s", res.Operation, res.Outcome)
	if res.HTTPStatus != 0 {
		fmt.Fprintf(out, " (HTTP %d)", res.HTTPStatus)
	}
	fmt.Fprintln(out)
	if res.Error != "" {
		fmt.Fprintf(out, "  error: %s\n", res.Error)
	}
	if res.Response == nil {
		return
	}
	for _, st := range res.Response.ValidationResponse.InvoiceStatuses {
		line := fmt.Sprintf("  item %s: %s", st.ItemSNo, st.Status)
		if st.Error != "" {
			line += " - " + st.Error
		}
		fmt.Fprintln(out, line)
	}
}
