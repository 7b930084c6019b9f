package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/distance-finder/internal/config"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "distance-finder",
	Short: "Find where to live by narrowing a search area one criterion at a time",
	Long:  "Starts from a circle around an address and intersects it with walk, bike, drive and straight-line reach areas of amenities and named places, reporting how each criterion shrinks the candidate region.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		cfg = c

		if err := config.InitLogger(cfg.Log); err != nil {
			return fmt.Errorf("init logger: %w", err)
		}

		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = zap.L().Sync()
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
