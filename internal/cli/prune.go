package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"price-pulse/internal/app"
)

var pruneOlderThan string

var pruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Delete alert events and trigger history past the retention window",
	RunE: func(cmd *cobra.Command, args []string) error {
		olderThan, err := parseDurationFlag(pruneOlderThan)
		if err != nil {
			return err
		}
		return getApp().Prune(cmd.Context(), app.PruneOptions{OlderThan: olderThan})
	},
}

func parseDurationFlag(raw string) (time.Duration, error) {
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid --older-than value: %w", err)
	}
	return d, nil
}

func init() {
	pruneCmd.Flags().StringVar(&pruneOlderThan, "older-than", "720h", "Retention window, e.g. 720h for 30 days")
}
