package cli

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/cifabric/cifabric/internal/fabric"
	"github.com/cifabric/cifabric/internal/route"
)

var sendStream bool

var sendCmd = &cobra.Command{
	Use:   "send <ci> <message>",
	Short: "Send a message to one CI and print the reply",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		name, raw := args[0], args[1]
		return withFabric(func(ctx context.Context, f *fabric.Fabric) error {
			payload := route.DetectPayload(raw)

			if sendStream {
				chunks, err := f.Stream(ctx, name, payload.Message())
				if err != nil {
					return err
				}
				for chunk := range chunks {
					if chunk.Err != nil {
						return chunk.Err
					}
					fmt.Print(renderContent(chunk.Content, payload.Kind))
				}
				fmt.Println()
				return nil
			}

			reply, err := f.Send(ctx, name, payload.Message())
			if err != nil {
				return err
			}
			fmt.Println(renderContent(reply.Content, payload.Kind))
			return nil
		})
	},
}

// renderContent mirrors the input format: text in, text out.
func renderContent(content json.RawMessage, kind route.PayloadKind) string {
	if kind == route.PayloadText {
		var text string
		if err := json.Unmarshal(content, &text); err == nil {
			return text
		}
	}
	return string(content)
}

func init() {
	sendCmd.Flags().BoolVar(&sendStream, "stream", false, "stream the reply chunk by chunk")
}
