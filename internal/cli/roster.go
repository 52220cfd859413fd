package cli

import (
	"context"
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/cifabric/cifabric/internal/fabric"
	"github.com/cifabric/cifabric/internal/registry"
)

var (
	rosterKind    string
	rosterPurpose string
)

var rosterCmd = &cobra.Command{
	Use:   "roster",
	Short: "List known CIs and their liveness",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withFabric(func(ctx context.Context, f *fabric.Fabric) error {
			filter := registry.Filter{Kind: registry.Kind(rosterKind), Purpose: rosterPurpose}
			endpoints := f.Registry.List(filter)
			if len(endpoints) == 0 {
				fmt.Println("No CIs registered.")
				return nil
			}
			for _, ep := range endpoints {
				mark := color.YellowString("?")
				switch ep.Status {
				case registry.StatusActive:
					mark = color.GreenString("●")
				case registry.StatusUnreachable:
					mark = color.RedString("○")
				}
				line := fmt.Sprintf("%s %-16s %-22s %-8s", mark, ep.Name, ep.Address, ep.Kind)
				if !ep.LastSeen.IsZero() {
					line += "  seen " + ep.LastSeen.Format("2006-01-02 15:04:05")
				}
				if len(ep.Purposes) > 0 {
					line += fmt.Sprintf("  %v", ep.Purposes)
				}
				fmt.Println(line)
			}
			return nil
		})
	},
}

func init() {
	rosterCmd.Flags().StringVar(&rosterKind, "kind", "", "filter by kind (worker, terminal, project)")
	rosterCmd.Flags().StringVar(&rosterPurpose, "purpose", "", "filter by purpose tag")
}
