package cli

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/cifabric/cifabric/internal/fabric"
	"github.com/cifabric/cifabric/internal/route"
)

var (
	routeName         string
	routeFinalPurpose string
	routeInteractive  bool
)

var routeCmd = &cobra.Command{
	Use:   "route",
	Short: "Define and invoke multi-hop routes",
	Run: func(cmd *cobra.Command, args []string) {
		cmd.Help()
	},
}

// parseHop accepts "ci" or "ci:purpose".
func parseHop(arg string) route.Hop {
	ci, purpose, found := strings.Cut(arg, ":")
	if !found {
		return route.Hop{CI: arg}
	}
	return route.Hop{CI: ci, Purpose: purpose}
}

var routeDefineCmd = &cobra.Command{
	Use:   "define <dest> <hop>...",
	Short: "Define a route; hops are \"ci\" or \"ci:purpose\"",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withFabric(func(ctx context.Context, f *fabric.Fabric) error {
			def := &route.Definition{
				Name:         routeName,
				Dest:         args[0],
				FinalPurpose: routeFinalPurpose,
			}
			for _, arg := range args[1:] {
				def.Hops = append(def.Hops, parseHop(arg))
			}
			if err := f.Routes.Store().Define(def); err != nil {
				return err
			}
			fmt.Println("defined " + def.Display())
			return nil
		})
	},
}

var routeListCmd = &cobra.Command{
	Use:   "list [dest]",
	Short: "List defined routes",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withFabric(func(ctx context.Context, f *fabric.Fabric) error {
			dest := ""
			if len(args) == 1 {
				dest = args[0]
			}
			defs, err := f.Routes.Store().List(dest)
			if err != nil {
				return err
			}
			if len(defs) == 0 {
				fmt.Println("No routes defined.")
				return nil
			}
			for _, def := range defs {
				fmt.Printf("%-24s %s\n", def.DisplayKey(), def.Display())
			}
			return nil
		})
	},
}

var routeShowCmd = &cobra.Command{
	Use:   "show <dest>",
	Short: "Show one route",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withFabric(func(ctx context.Context, f *fabric.Fabric) error {
			def, err := f.Routes.Store().Get(args[0], routeName)
			if err != nil {
				return err
			}
			fmt.Println(def.Display())
			return nil
		})
	},
}

var routeRemoveCmd = &cobra.Command{
	Use:   "remove <dest>",
	Short: "Remove a route",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withFabric(func(ctx context.Context, f *fabric.Fabric) error {
			if err := f.Routes.Store().Remove(args[0], routeName); err != nil {
				return err
			}
			fmt.Println("removed " + route.RouteKey(args[0], routeName))
			return nil
		})
	},
}

var routeInvokeCmd = &cobra.Command{
	Use:   "invoke <dest> <message>",
	Short: "Carry a message through a route to its destination",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withFabric(func(ctx context.Context, f *fabric.Fabric) error {
			res, err := f.Route(ctx, args[0], routeName, args[1], routeInteractive)
			if err != nil {
				return err
			}
			if res.Delivered {
				fmt.Printf("delivered to %s's mailbox:\n", args[0])
			}
			fmt.Println(res.Rendered)
			return nil
		})
	},
}

func init() {
	routeCmd.PersistentFlags().StringVar(&routeName, "name", "", "route name (default \"default\")")
	routeDefineCmd.Flags().StringVar(&routeFinalPurpose, "final-purpose", "", "purpose tag for the terminal delivery")
	routeInvokeCmd.Flags().BoolVar(&routeInteractive, "interactive", false, "return the destination's reply instead of mailing the envelope")
	routeCmd.AddCommand(routeDefineCmd)
	routeCmd.AddCommand(routeListCmd)
	routeCmd.AddCommand(routeShowCmd)
	routeCmd.AddCommand(routeRemoveCmd)
	routeCmd.AddCommand(routeInvokeCmd)
}
