package cli

import (
	"fmt"

	"einvoice/internal/fbr"

	"github.com/spf13/cobra"
)

type normalizedID struct {
	Input string `json:"input"`
	Value string `json:"value,omitempty"`
	Kind  string `json:"kind,omitempty"`
	Error string `json:"error,omitempty"`
}

func newNormalizeCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "normalize <ntn-or-cnic>...",
		Short: "Normalize NTN/CNIC identifiers to the digit form the gateway accepts",
		Example: `  fbrctl normalize 123-456-7 35202-1234567-1
  fbrctl normalize --json "1234567 "`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			results := make([]normalizedID, 0, len(args))
			failed := 0
			for _, raw := range args {
				r := normalizedID{Input: raw}
				id, err := fbr.NormalizeTaxID(raw)
				if err != nil {
					r.Error = err.Error()
					failed++
				} else {
					r.Value = id.Value
					r.Kind = string(id.Kind)
				}
				results = append(results, r)
			}

			out := cmd.OutOrStdout()
			if opts.asJSON {
				if err := writeJSON(out, results); err != nil {
					return err
				}
			} else {
				for _, r := range results {
					if r.Error != "" {
						fmt.Fprintf(out, "%s\tinvalid\t%s\n", r.Input, r.Error)
						continue
					}
					fmt.Fprintf(out, "%s\t%s\t%s\n", r.Input, r.Kind, r.Value)
				}
			}

			if failed > 0 {
				return fmt.Errorf("%d of %d identifiers are invalid", failed, len(args))
			}
			return nil
		},
	}
}
