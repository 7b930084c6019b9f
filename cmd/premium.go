package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/distance-finder/internal/enrich"
	"github.com/sells-group/distance-finder/internal/geometry"
)

var (
	premiumGeoJSON     string
	premiumCategory    string
	premiumSubcategory string
	premiumMax         int
	premiumJSON        bool
)

var premiumCmd = &cobra.Command{
	Use:   "premium",
	Short: "Search the business directory inside a region",
	Long:  "Reads a GeoJSON polygon (for example the output of analyze --format json) and samples Google Places inside it without exceeding the monthly call budget.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		data, err := os.ReadFile(premiumGeoJSON)
		if err != nil {
			return eris.Wrap(err, "read geojson")
		}
		region, err := geometry.DecodeGeoJSON(regionJSON(data))
		if err != nil {
			return eris.Wrap(err, "decode region")
		}

		env, err := initEnv(ctx, "premium")
		if err != nil {
			return err
		}
		defer env.Close()

		res, err := env.Sampler.Sample(ctx, enrich.Request{
			Region:       region,
			Category:     premiumCategory,
			Subcategory:  premiumSubcategory,
			MaxLocations: premiumMax,
		})
		if err != nil {
			return eris.Wrap(err, "premium search")
		}

		if premiumJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(res)
		}
		formatPremium(os.Stdout, res)
		return nil
	},
}

// regionJSON accepts either bare GeoJSON or an analyze response, whose
// region sits under "geojson".
func regionJSON(data []byte) []byte {
	var wrapped struct {
		GeoJSON json.RawMessage `json:"geojson"`
	}
	if err := json.Unmarshal(data, &wrapped); err == nil && len(wrapped.GeoJSON) > 0 {
		return wrapped.GeoJSON
	}
	return data
}

func formatPremium(out io.Writer, res *enrich.Result) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "NAME\tRATING\tREVIEWS\tPRICE\tADDRESS")
	_, _ = fmt.Fprintln(w, "----\t------\t-------\t-----\t-------")
	for _, loc := range res.Locations {
		rating, reviews := "-", "-"
		if loc.Rating != nil {
			rating = fmt.Sprintf("%.1f", *loc.Rating)
		}
		if loc.ReviewCount != nil {
			reviews = fmt.Sprintf("%d", *loc.ReviewCount)
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", loc.Name, rating, reviews, loc.PriceLevel, loc.Address)
	}
	_ = w.Flush()

	_, _ = fmt.Fprintf(out, "\n%d locations from %d searches (%d calls, %d of %d used this month)\n",
		len(res.Locations), res.CentroidsSearched, res.APICallsUsed, res.Usage.Used, res.Usage.Limit)
	if res.QuotaExceeded {
		_, _ = fmt.Fprintln(out, "Monthly quota reached; results may be incomplete.")
	}
}

func init() {
	premiumCmd.Flags().StringVar(&premiumGeoJSON, "geojson", "", "file with the region as GeoJSON")
	premiumCmd.Flags().StringVar(&premiumCategory, "category", "", "amenity category to search")
	premiumCmd.Flags().StringVar(&premiumSubcategory, "subcategory", "", "narrower category or free-text subtype")
	premiumCmd.Flags().IntVar(&premiumMax, "max", 0, "maximum locations (default from config)")
	premiumCmd.Flags().BoolVar(&premiumJSON, "json", false, "print results as JSON")
	_ = premiumCmd.MarkFlagRequired("geojson")
	_ = premiumCmd.MarkFlagRequired("category")
	rootCmd.AddCommand(premiumCmd)
}
