package cli

import (
	"fmt"
	"text/tabwriter"

	"einvoice/internal/fbr"

	"github.com/spf13/cobra"
)

func newScenariosCommand(opts *options) *cobra.Command {
	var sortBy string

	cmd := &cobra.Command{
		Use:   "scenarios",
		Short: "List the regulatory scenario catalog",
		Example: `  fbrctl scenarios
  fbrctl scenarios --sort id --json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			catalog, err := fbr.DefaultCatalog()
			if err != nil {
				return err
			}

			var scenarios []fbr.Scenario
			switch sortBy {
			case "", "catalog":
				scenarios = catalog.All()
			case "id":
				scenarios = catalog.SortedByID()
			default:
				return fmt.Errorf("unknown sort %q (use catalog or id)", sortBy)
			}

			out := cmd.OutOrStdout()
			if opts.asJSON {
				return writeJSON(out, scenarios)
			}

			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintf(tw, "ID\tCATEGORY\tNAME\n")
			for _, s := range scenarios {
				fmt.Fprintf(tw, "%s\t%s\t%s\n", s.ID, s.Category, s.Name)
			}
			fmt.Fprintf(tw, "\n%d scenarios, catalog version %s\n", len(scenarios), catalog.Version())
			return tw.Flush()
		},
	}
	cmd.Flags().StringVar(&sortBy, "sort", "catalog", "Order: catalog or id")
	return cmd
}
