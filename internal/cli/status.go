package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/cifabric/cifabric/internal/config"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		printHeader("🏷️ cifabric Version")
		fmt.Printf("Version: %s\n", version)
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show fabric configuration status",
	Run: func(cmd *cobra.Command, args []string) {
		printHeader("📊 cifabric Status")
		fmt.Printf("Version: %s\n", version)

		configPath, err := config.ConfigPath()
		if err != nil {
			printError("resolve config path: " + err.Error())
			return
		}
		if _, err := os.Stat(configPath); err == nil {
			fmt.Println("Config:   ✓ Found (" + configPath + ")")
		} else {
			fmt.Println("Config:   ✗ Not found, defaults apply (" + configPath + ")")
		}

		cfg, err := config.Load()
		if err != nil {
			printError("load config: " + err.Error())
			return
		}
		fmt.Printf("Identity: %s\n", cfg.Identity.Name)

		regFile, _ := config.ExpandPath(cfg.Paths.RegistryFile)
		if _, err := os.Stat(regFile); err == nil {
			fmt.Println("Registry: ✓ Found (" + regFile + ")")
		} else {
			fmt.Println("Registry: ✗ Not found (" + regFile + ")")
		}
		fmt.Println("Status:   Ready")
	},
}
