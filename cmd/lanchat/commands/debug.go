package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

// debugCmd is the parent command for debug subcommands
var debugCmd = &cobra.Command{
	Use:   "debug",
	Short: "Debug and diagnostic commands",
	Long:  `Commands for debugging and diagnosing issues with lanchat.`,
}

// debugFlagsCmd prints resolved flag values for debugging
var debugFlagsCmd = &cobra.Command{
	Use:   "flags",
	Short: "Print resolved flag values for debugging",
	Long: `Print the resolved values of global flags for debugging purposes.

This is useful to verify that flags like --discovery are being
correctly parsed and inherited from the command line.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		verbose, _ := cmd.Flags().GetBool("verbose")
		configPath, _ := cmd.Flags().GetString("config")
		backend, _ := cmd.Flags().GetString("discovery")
		serviceType, _ := cmd.Flags().GetString("service-type")
		domain, _ := cmd.Flags().GetString("domain")

		fmt.Println("Resolved Flag Values:")
		fmt.Printf("  --verbose:      %v\n", verbose)
		fmt.Printf("  --config:       %q\n", configPath)
		fmt.Printf("  --discovery:    %q\n", backend)
		fmt.Printf("  --service-type: %q\n", serviceType)
		fmt.Printf("  --domain:       %q\n", domain)
		return nil
	},
}

// debugConfigCmd prints the effective configuration
var debugConfigCmd = &cobra.Command{
	Use:   "config",
	Short: "Print the effective configuration",
	Long:  `Print the configuration after applying the config file, LANCHAT_* environment variables and flags.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}

		fmt.Println("Effective Configuration:")
		fmt.Printf("  name:                 %q\n", cfg.Name)
		fmt.Printf("  discovery:            %s\n", cfg.Discovery)
		fmt.Printf("  service_type:         %s\n", cfg.ServiceType)
		fmt.Printf("  domain:               %s\n", cfg.Domain)
		fmt.Printf("  listen_addr:          %s\n", cfg.ListenAddr)
		fmt.Printf("  broadcast_port:       %d\n", cfg.BroadcastPort)
		fmt.Printf("  seed_peers:           %v\n", cfg.SeedPeers)
		fmt.Printf("  connect_timeout:      %s\n", cfg.ConnectTimeout.Std())
		fmt.Printf("  send_timeout:         %s\n", cfg.SendTimeout.Std())
		fmt.Printf("  channel_idle_timeout: %s\n", cfg.ChannelIdleTimeout.Std())
		return nil
	},
}

func init() {
	debugCmd.AddCommand(debugFlagsCmd)
	debugCmd.AddCommand(debugConfigCmd)
}
