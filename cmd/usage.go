package main

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/distance-finder/internal/model"
	"github.com/sells-group/distance-finder/internal/store"
	"github.com/sells-group/distance-finder/pkg/google"
)

var usageMonth string

var usageCmd = &cobra.Command{
	Use:   "usage",
	Short: "Show this month's business directory usage",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		if err := cfg.Validate("usage"); err != nil {
			return err
		}

		st, err := store.Open(ctx, storeConfig(cfg))
		if err != nil {
			return eris.Wrap(err, "open usage store")
		}
		defer st.Close() //nolint:errcheck

		month := usageMonth
		if month == "" {
			month = store.Month(time.Now())
		}
		used, err := st.MonthlyUsage(ctx, google.ServiceName, month)
		if err != nil {
			return eris.Wrap(err, "read usage")
		}

		formatUsage(os.Stdout, model.Usage{Month: month, Limit: cfg.Google.MonthlyLimit, Used: used})
		return nil
	},
}

func formatUsage(out io.Writer, u model.Usage) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintf(w, "Service:\t%s\n", google.ServiceName)
	_, _ = fmt.Fprintf(w, "Month:\t%s\n", u.Month)
	_, _ = fmt.Fprintf(w, "Used:\t%d\n", u.Used)
	_, _ = fmt.Fprintf(w, "Limit:\t%d\n", u.Limit)
	_, _ = fmt.Fprintf(w, "Remaining:\t%d\n", u.Remaining())
	_ = w.Flush()
}

func init() {
	usageCmd.Flags().StringVar(&usageMonth, "month", "", "month as YYYY-MM (default current)")
	rootCmd.AddCommand(usageCmd)
}
