package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/distance-finder/pkg/geocode"
)

var locateJSON bool

var locateCmd = &cobra.Command{
	Use:   "locate <text>...",
	Short: "Geocode one or more addresses or place names",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx, "locate")
		if err != nil {
			return err
		}
		defer env.Close()

		results, err := env.Geocoder.LocateAll(ctx, args)
		if err != nil {
			return eris.Wrap(err, "locate")
		}

		if locateJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(results)
		}
		formatLocations(os.Stdout, results)
		return nil
	},
}

func formatLocations(out io.Writer, results []geocode.Result) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "QUERY\tLAT\tLON\tSOURCE\tQUALITY\tDISPLAY_NAME")
	_, _ = fmt.Fprintln(w, "-----\t---\t---\t------\t-------\t------------")
	for _, r := range results {
		if !r.Matched {
			_, _ = fmt.Fprintf(w, "%s\t-\t-\t-\t-\tnot found\n", r.Query)
			continue
		}
		_, _ = fmt.Fprintf(w, "%s\t%.6f\t%.6f\t%s\t%s\t%s\n", r.Query, r.Latitude, r.Longitude, r.Source, r.Quality, r.DisplayName)
	}
	_ = w.Flush()
}

func init() {
	locateCmd.Flags().BoolVar(&locateJSON, "json", false, "print results as JSON")
	rootCmd.AddCommand(locateCmd)
}
