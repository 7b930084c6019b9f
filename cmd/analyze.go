package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"github.com/twpayne/go-geom/encoding/geojson"

	"github.com/sells-group/distance-finder/internal/analysis"
	"github.com/sells-group/distance-finder/internal/api"
	"github.com/sells-group/distance-finder/internal/geometry"
	"github.com/sells-group/distance-finder/internal/model"
)

var (
	analyzeCenter   string
	analyzeLat      float64
	analyzeLon      float64
	analyzeRadius   float64
	analyzeCriteria []string
	analyzeFile     string
	analyzeExplore  string
	analyzeFormat   string
	analyzeOut      string
)

var analyzeCmd = &cobra.Command{
	Use:   "analyze",
	Short: "Narrow a search area around an address by proximity criteria",
	Long: `Runs one progressive analysis and prints the audit trail.

Criteria are given as type:subject:mode:value, for example
  --criterion "poi:Grocery Store:walk:10"
  --criterion "location:Duke Chapel:drive:15"
  --criterion "poi:Park:distance:1"`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		req, err := buildAnalyzeRequest(cmd)
		if err != nil {
			return err
		}

		env, err := initEnv(ctx, "analyze")
		if err != nil {
			return err
		}
		defer env.Close()

		res, err := env.Pipeline.Analyze(ctx, req)
		if err != nil {
			return eris.Wrap(err, "analyze")
		}

		out := io.Writer(os.Stdout)
		if analyzeOut != "" {
			f, err := os.Create(analyzeOut)
			if err != nil {
				return eris.Wrap(err, "create output file")
			}
			defer f.Close() //nolint:errcheck
			out = f
		}
		return writeAnalysis(out, req, res, analyzeFormat)
	},
}

func buildAnalyzeRequest(cmd *cobra.Command) (analysis.Request, error) {
	req := analysis.Request{
		Address:     strings.TrimSpace(analyzeCenter),
		RadiusMiles: analyzeRadius,
		Explore:     analyzeExplore,
	}
	if cmd.Flags().Changed("lat") || cmd.Flags().Changed("lon") {
		if !cmd.Flags().Changed("lat") || !cmd.Flags().Changed("lon") {
			return req, eris.New("--lat and --lon must be given together")
		}
		req.Center = &geometry.Point{Lat: analyzeLat, Lon: analyzeLon}
	}
	if req.Address == "" && req.Center == nil {
		return req, eris.New("--center or --lat/--lon is required")
	}

	if analyzeFile != "" {
		data, err := os.ReadFile(analyzeFile)
		if err != nil {
			return req, eris.Wrap(err, "read criteria file")
		}
		if err := json.Unmarshal(data, &req.Criteria); err != nil {
			return req, eris.Wrap(err, "parse criteria file")
		}
	}
	for _, s := range analyzeCriteria {
		c, err := parseCriterion(s)
		if err != nil {
			return req, err
		}
		req.Criteria = append(req.Criteria, c)
	}
	return req, nil
}

// parseCriterion reads type:subject:mode:value. The subject may itself
// contain colons.
func parseCriterion(s string) (model.Criterion, error) {
	first := strings.Index(s, ":")
	last := strings.LastIndex(s, ":")
	if first < 0 || last == first {
		return model.Criterion{}, eris.Errorf("criterion %q: want type:subject:mode:value", s)
	}
	kind, rest, tail := s[:first], s[first+1:last], s[last+1:]
	mid := strings.LastIndex(rest, ":")
	if mid < 0 {
		return model.Criterion{}, eris.Errorf("criterion %q: want type:subject:mode:value", s)
	}
	subject, modeText := strings.TrimSpace(rest[:mid]), rest[mid+1:]

	mode, err := model.ParseMode(modeText)
	if err != nil {
		return model.Criterion{}, eris.Wrapf(err, "criterion %q", s)
	}
	value, err := strconv.ParseFloat(strings.TrimSpace(tail), 64)
	if err != nil {
		return model.Criterion{}, eris.Wrapf(err, "criterion %q: value", s)
	}

	var c model.Criterion
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case "poi", "amenity":
		c = model.ByAmenityCategory(subject, mode, value)
	case "location", "place":
		c = model.ByNamedLocation(subject, mode, value)
	default:
		return model.Criterion{}, eris.Errorf("criterion %q: unknown type %q", s, kind)
	}
	if err := c.Validate(); err != nil {
		return model.Criterion{}, eris.Wrapf(err, "criterion %q", s)
	}
	return c, nil
}

func writeAnalysis(out io.Writer, req analysis.Request, res *analysis.Result, format string) error {
	switch format {
	case "json":
		resp, err := api.NewAnalyzeResponse(req, res)
		if err != nil {
			return err
		}
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(resp)
	case "geojson":
		fc, err := historyFeatures(res)
		if err != nil {
			return err
		}
		return json.NewEncoder(out).Encode(fc)
	case "text", "":
		formatAnalysis(out, res)
		return nil
	default:
		return eris.Errorf("unknown format %q (want text, json or geojson)", format)
	}
}

// historyFeatures renders every intermediate region, the starting circle
// first, so the narrowing can be replayed on a map.
func historyFeatures(res *analysis.Result) (*geojson.FeatureCollection, error) {
	fc := &geojson.FeatureCollection{}
	for step, region := range res.History {
		props := map[string]any{
			"step":          step,
			"area_sq_miles": geometry.AreaSqMiles(region),
		}
		if step == 0 {
			props["name"] = "initial"
		} else {
			a := res.Applied[res.ExecutionOrder[step-1]]
			props["name"] = a.Name
			props["description"] = a.Description
			props["is_approximate"] = a.Approximate
		}
		f, err := region.Feature(props)
		if err != nil {
			return nil, err
		}
		fc.Features = append(fc.Features, f)
	}
	return fc, nil
}

func formatAnalysis(out io.Writer, res *analysis.Result) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	center := res.DisplayName
	if center == "" {
		center = fmt.Sprintf("%.5f, %.5f", res.Center.Lat, res.Center.Lon)
	}
	_, _ = fmt.Fprintf(w, "Center:\t%s\n", center)
	_, _ = fmt.Fprintf(w, "Radius:\t%g mi\n", res.RadiusMiles)
	_, _ = fmt.Fprintf(w, "Initial area:\t%.2f sq mi\n", res.InitialAreaSqMiles)
	_ = w.Flush()

	if len(res.Applied) > 0 {
		_, _ = fmt.Fprintln(out)
		w = tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
		_, _ = fmt.Fprintln(w, "#\tSTEP\tCRITERION\tCONSTRAINT\tAREA_SQ_MI\tNOTE")
		_, _ = fmt.Fprintln(w, "-\t----\t---------\t----------\t----------\t----")
		for _, a := range res.Applied {
			note := a.Note
			if a.Approximate && note == "" {
				note = "approximate"
			}
			_, _ = fmt.Fprintf(w, "%d\t%d\t%s\t%s\t%.2f\t%s\n", a.Index+1, a.Position+1, a.Name, a.Description, a.AreaSqMiles, note)
		}
		_ = w.Flush()
		_, _ = fmt.Fprintln(out)
	}

	w = tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintf(w, "Final area:\t%.2f sq mi\n", res.FinalAreaSqMiles)
	_, _ = fmt.Fprintf(w, "Reduction:\t%.1f%%\n", res.ReductionPercent)
	if len(res.Places) > 0 {
		_, _ = fmt.Fprintf(w, "Places inside:\t%d\n", len(res.Places))
	}
	_ = w.Flush()
}

func init() {
	analyzeCmd.Flags().StringVar(&analyzeCenter, "center", "", "address to search around")
	analyzeCmd.Flags().Float64Var(&analyzeLat, "lat", 0, "center latitude (instead of --center)")
	analyzeCmd.Flags().Float64Var(&analyzeLon, "lon", 0, "center longitude (instead of --center)")
	analyzeCmd.Flags().Float64Var(&analyzeRadius, "radius", api.DefaultRadiusMiles, "search radius in miles")
	analyzeCmd.Flags().StringArrayVar(&analyzeCriteria, "criterion", nil, "criterion as type:subject:mode:value (repeatable)")
	analyzeCmd.Flags().StringVar(&analyzeFile, "criteria-file", "", "JSON file with an array of criteria")
	analyzeCmd.Flags().StringVar(&analyzeExplore, "explore", "", "list places of this category inside the final area")
	analyzeCmd.Flags().StringVar(&analyzeFormat, "format", "text", "output format: text, json or geojson")
	analyzeCmd.Flags().StringVarP(&analyzeOut, "out", "o", "", "write output to a file instead of stdout")
	rootCmd.AddCommand(analyzeCmd)
}
