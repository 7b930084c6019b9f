package main

import (
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/sells-group/distance-finder/internal/poi"
)

var categoriesCmd = &cobra.Command{
	Use:   "categories",
	Short: "List the amenity categories criteria can reference",
	RunE: func(cmd *cobra.Command, _ []string) error {
		formatCategories(os.Stdout, poi.DefaultCatalog().All())
		return nil
	},
}

func formatCategories(out io.Writer, cats []poi.Category) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "NAME\tOSM_TAGS\tPLACE_TYPES")
	_, _ = fmt.Fprintln(w, "----\t--------\t-----------")
	for _, c := range cats {
		tags := make([]string, 0, len(c.Tags))
		for _, k := range c.TagKeys() {
			tags = append(tags, k+"="+c.Tags[k])
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\n", c.Name, strings.Join(tags, ","), strings.Join(c.PlaceTypes, ","))
	}
	_ = w.Flush()
}

func init() {
	rootCmd.AddCommand(categoriesCmd)
}
