package cli

import (
	"github.com/spf13/cobra"
)

var triggerCmd = &cobra.Command{
	Use:   "trigger",
	Short: "Run one detection cycle immediately",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().TriggerCycle(cmd.Context())
	},
}

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Run one watchlist-only pass against the current cache",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().MonitorWatchlists(cmd.Context())
	},
}
