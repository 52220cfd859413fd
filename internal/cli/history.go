package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/cifabric/cifabric/internal/config"
	"github.com/cifabric/cifabric/internal/history"
)

var (
	historyRecipient string
	historyKind      string
	historyLimit     int
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show the delivery log",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		dbPath, err := config.ExpandPath(cfg.Paths.HistoryDB)
		if err != nil {
			return err
		}
		svc, err := history.NewService(dbPath)
		if err != nil {
			return err
		}
		defer svc.Close()

		entries, err := svc.List(history.FilterArgs{
			Recipient: historyRecipient,
			Kind:      historyKind,
			Limit:     historyLimit,
		})
		if err != nil {
			return err
		}
		if len(entries) == 0 {
			fmt.Println("No deliveries logged.")
			return nil
		}
		for _, d := range entries {
			line := fmt.Sprintf("%s  %-9s %s → %s  %s",
				d.CreatedAt.Format(time.DateTime), d.Kind, d.Sender, d.Recipient, d.Outcome)
			if d.Route != "" {
				line += "  via " + d.Route
			}
			if d.ElapsedMs > 0 {
				line += fmt.Sprintf("  %dms", d.ElapsedMs)
			}
			if d.Detail != "" {
				line += "  (" + d.Detail + ")"
			}
			fmt.Println(line)
		}
		return nil
	},
}

func init() {
	historyCmd.Flags().StringVar(&historyRecipient, "ci", "", "filter by recipient")
	historyCmd.Flags().StringVar(&historyKind, "kind", "", "filter by kind (send, broadcast, route)")
	historyCmd.Flags().IntVar(&historyLimit, "limit", 50, "maximum entries to show")
}
