package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/fatih/color"

	"github.com/cifabric/cifabric/internal/config"
	"github.com/cifabric/cifabric/internal/fabric"
)

func printHeader(title string) {
	fmt.Println(color.CyanString(logo))
	if title != "" {
		fmt.Println(title)
		fmt.Println("─────────────────────")
	}
}

func printError(msg string) {
	fmt.Fprintln(os.Stderr, color.RedString("✗ ")+msg)
}

// withFabric loads config, assembles the fabric and runs fn with a context
// that is cancelled on SIGINT/SIGTERM.
func withFabric(fn func(ctx context.Context, f *fabric.Fabric) error) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	f, err := fabric.New(cfg)
	if err != nil {
		return fmt.Errorf("assemble fabric: %w", err)
	}
	defer f.Stop()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := f.Start(ctx); err != nil {
		return err
	}
	return fn(ctx, f)
}
