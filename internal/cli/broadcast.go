package cli

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/cifabric/cifabric/internal/fabric"
	"github.com/cifabric/cifabric/internal/registry"
	"github.com/cifabric/cifabric/internal/route"
	"github.com/cifabric/cifabric/internal/teamchat"
)

var (
	broadcastStream  bool
	broadcastKind    string
	broadcastPurpose string
)

var broadcastCmd = &cobra.Command{
	Use:   "broadcast <message>",
	Short: "Fan a message out to every live CI",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		raw := args[0]
		return withFabric(func(ctx context.Context, f *fabric.Fabric) error {
			payload := route.DetectPayload(raw)
			filter := registry.Filter{Kind: registry.Kind(broadcastKind), Purpose: broadcastPurpose}

			if broadcastStream {
				for chunk := range f.BroadcastStream(ctx, payload.Message(), filter) {
					if chunk.Err != nil {
						printError(chunk.Endpoint + ": " + chunk.Err.Error())
						continue
					}
					fmt.Printf("[%s] %s\n", color.CyanString(chunk.Endpoint), renderContent(chunk.Content, payload.Kind))
				}
				return nil
			}

			results := f.Broadcast(ctx, payload.Message(), filter)
			names := make([]string, 0, len(results))
			for name := range results {
				names = append(names, name)
			}
			sort.Strings(names)
			for _, name := range names {
				res := results[name]
				switch res.Outcome {
				case teamchat.OutcomeReply:
					fmt.Printf("%s %s: %s\n", color.GreenString("●"), name, renderContent(res.Content, payload.Kind))
				case teamchat.OutcomeTimeout:
					fmt.Printf("%s %s: no reply within %s\n", color.YellowString("◌"), name, res.Elapsed.Round(time.Millisecond))
				default:
					fmt.Printf("%s %s: %s\n", color.RedString("○"), name, res.Error)
				}
			}
			return nil
		})
	},
}

func init() {
	broadcastCmd.Flags().BoolVar(&broadcastStream, "stream", false, "merge streamed replies tagged by origin")
	broadcastCmd.Flags().StringVar(&broadcastKind, "kind", "", "restrict to CIs of this kind")
	broadcastCmd.Flags().StringVar(&broadcastPurpose, "purpose", "", "restrict to CIs carrying this purpose tag")
}
