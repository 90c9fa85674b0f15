package cli

import (
	"fmt"
	"text/tabwriter"
	"time"

	"einvoice/internal/fbr"
	"einvoice/internal/logger"
	"einvoice/internal/model"

	"github.com/spf13/cobra"
)

func newRegressCommand(opts *options) *cobra.Command {
	var (
		seller model.Company
		delay  time.Duration
		sortBy string
	)

	cmd := &cobra.Command{
		Use:   "regress",
		Short: "Validate every catalog scenario against the sandbox",
		Long: `Runs each scenario of the catalog through the sandbox validate endpoint, one at a
time with a fixed delay between calls, with the seller identity substituted in.
Exits non-zero when any scenario fails.`,
		Example: `  fbrctl regress --ntn 1234567 --business-name "Indus Textiles" --province Sindh --token $FBR_TOKEN
  fbrctl regress --ntn 1234567 --business-name "Indus Textiles" --province Sindh --sort id --json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if sortBy != "catalog" && sortBy != "id" {
				return fmt.Errorf("unknown sort %q (use catalog or id)", sortBy)
			}
			if err := opts.requireToken(); err != nil {
				return err
			}
			catalog, err := fbr.DefaultCatalog()
			if err != nil {
				return err
			}
			gw, err := opts.gateway()
			if err != nil {
				return err
			}

			log := logger.WithComponent("regress")
			runner := fbr.NewRegressionRunner(gw, catalog, delay, logger.WithComponent("fbr-regression"))
			report, err := runner.Run(cmd.Context(), &seller, opts.token, func(done, total int, res fbr.ScenarioResult) {
				log.Debug().Int("done", done).Int("total", total).Str("scenario", res.ScenarioID).Bool("success", res.Success).Msg("progress")
			})
			if report == nil {
				return err
			}

			results := report.Results
			if sortBy == "id" {
				results = report.SortedByID()
			}

			out := cmd.OutOrStdout()
			if opts.asJSON {
				shown := *report
				shown.Results = results
				if werr := writeJSON(out, shown); werr != nil {
					return werr
				}
			} else {
				tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
				fmt.Fprintf(tw, "SCENARIO\tRESULT\tDETAIL\n")
				for _, r := range results {
					status := "PASS"
					if !r.Success {
						status = "FAIL"
					}
					fmt.Fprintf(tw, "%s\t%s\t%s\n", r.ScenarioID, status, r.Error)
				}
				fmt.Fprintf(tw, "\nrun %s: %d passed, %d failed\n", report.RunID, report.Passed, report.Failed)
				if werr := tw.Flush(); werr != nil {
					return werr
				}
			}

			if err != nil {
				return err
			}
			if report.Failed > 0 {
				return fmt.Errorf("%d of %d scenarios failed", report.Failed, len(report.Results))
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&seller.NTN, "ntn", "", "Seller NTN or CNIC")
	cmd.Flags().StringVar(&seller.BusinessName, "business-name", "", "Seller business name")
	cmd.Flags().StringVar(&seller.Province, "province", "", "Seller province")
	cmd.Flags().StringVar(&seller.Address, "address", "", "Seller address")
	cmd.Flags().DurationVar(&delay, "delay", opts.cfg.FBRRegressionDelay, "Delay between scenarios")
	cmd.Flags().StringVar(&sortBy, "sort", "catalog", "Result order: catalog or id")
	_ = cmd.MarkFlagRequired("ntn")
	return cmd
}
