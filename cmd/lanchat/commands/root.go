package commands

import (
	"fmt"
	"io"
	"log"
	"runtime"

	"github.com/lanchat/lanchat/internal/config"
	"github.com/lanchat/lanchat/internal/discovery"
	"github.com/lanchat/lanchat/internal/ui"
	"github.com/spf13/cobra"
)

var (
	// Version is set at build time
	Version = "dev"
	// Commit is set at build time
	Commit = "none"
)

var rootCmd = &cobra.Command{
	Use:   "lanchat",
	Short: "lanchat - serverless chat on the local network",
	Long: `lanchat finds other lanchat instances on the local network and
exchanges short text messages with them directly, without a server.

Use "lanchat [command] --help" for more information about a command.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		noColor, _ := cmd.Flags().GetBool("no-color")
		ui.SetNoColor(noColor)

		verbose, _ := cmd.Flags().GetBool("verbose")
		if !verbose {
			log.SetOutput(io.Discard)
		}
		return nil
	},
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	// Global flags
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "Enable verbose output")
	rootCmd.PersistentFlags().String("config", "", "Config file (default: ~/.lanchat/config.json)")
	rootCmd.PersistentFlags().Bool("no-color", false, "Disable colored output")

	// Discovery flags (global)
	rootCmd.PersistentFlags().String("discovery", "", "Discovery backend: mdns or broadcast")
	rootCmd.PersistentFlags().String("service-type", "", "Service type shared by all instances")
	rootCmd.PersistentFlags().String("domain", "", "Discovery domain")

	// Add subcommands
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(debugCmd)
}

// versionCmd shows version info
var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("lanchat\n")
		fmt.Printf("  Version:  %s\n", Version)
		fmt.Printf("  Commit:   %s\n", Commit)
		fmt.Printf("  Platform: %s/%s\n", runtime.GOOS, runtime.GOARCH)
	},
}

// loadConfig resolves the configuration: file, then LANCHAT_* env vars,
// then any flag set explicitly on the command line
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}

	flags := cmd.Flags()
	if flags.Changed("verbose") {
		cfg.Verbose, _ = flags.GetBool("verbose")
	}
	if flags.Changed("discovery") {
		cfg.Discovery, _ = flags.GetString("discovery")
	}
	if flags.Changed("service-type") {
		cfg.ServiceType, _ = flags.GetString("service-type")
	}
	if flags.Changed("domain") {
		cfg.Domain, _ = flags.GetString("domain")
	}
	if flags.Lookup("name") != nil && flags.Changed("name") {
		cfg.Name, _ = flags.GetString("name")
	}
	if flags.Lookup("listen") != nil && flags.Changed("listen") {
		cfg.ListenAddr, _ = flags.GetString("listen")
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Verbose {
		log.SetOutput(cmd.ErrOrStderr())
	}
	return cfg, nil
}

// newDiscovery builds the backend selected by cfg
func newDiscovery(cfg *config.Config) (discovery.Service, error) {
	opts := discovery.Options{
		ServiceType: cfg.ServiceType,
		Domain:      cfg.Domain,
	}

	switch cfg.Discovery {
	case config.DiscoveryBroadcast:
		return discovery.NewBroadcast(discovery.BroadcastOptions{
			Options:   opts,
			Port:      cfg.BroadcastPort,
			SeedPeers: cfg.SeedPeers,
		})
	case config.DiscoveryMDNS:
		return discovery.NewMDNS(opts), nil
	default:
		return nil, fmt.Errorf("unknown discovery backend %q", cfg.Discovery)
	}
}
