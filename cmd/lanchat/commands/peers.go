package commands

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/lanchat/lanchat/internal/discovery"
	"github.com/lanchat/lanchat/internal/ui"
	"github.com/spf13/cobra"
)

var peersCmd = &cobra.Command{
	Use:   "peers",
	Short: "List lanchat instances on the local network",
	Long: `Browse for other lanchat instances without advertising this one,
then print every peer found with its resolved address.`,
	RunE: runPeers,
}

var peersTimeout time.Duration

func init() {
	peersCmd.Flags().DurationVar(&peersTimeout, "timeout", 3*time.Second, "How long to browse")
	rootCmd.AddCommand(peersCmd)
}

func runPeers(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	disc, err := newDiscovery(cfg)
	if err != nil {
		return err
	}
	defer disc.Shutdown()

	ctx, cancel := context.WithTimeout(cmd.Context(), peersTimeout)
	defer cancel()

	if err := disc.AdvertiseAndBrowse(ctx, "", 0); err != nil {
		return fmt.Errorf("failed to start discovery: %w", err)
	}

	spinner := ui.NewSpinner(cmd.ErrOrStderr(), "Searching for peers...")
	spinner.Start()
	found := collectPeers(ctx, disc.Events())
	spinner.Stop()

	out := cmd.OutOrStdout()
	if len(found) == 0 {
		fmt.Fprintln(out, ui.RenderDim("No peers found."))
		return nil
	}

	fmt.Fprintf(out, "Peers (%d):\n\n", len(found))
	for _, name := range found {
		addr := "unresolved"
		if a, err := disc.Resolve(context.Background(), name); err == nil {
			addr = a.String()
		}
		fmt.Fprintf(out, "  %-24s %s\n", name, ui.RenderDim(addr))
	}
	return nil
}

// collectPeers gathers peer names until ctx is done. Peers that leave
// before then are dropped.
func collectPeers(ctx context.Context, events <-chan discovery.Event) []string {
	seen := make(map[string]bool)
	for {
		select {
		case <-ctx.Done():
			names := make([]string, 0, len(seen))
			for name := range seen {
				names = append(names, name)
			}
			sort.Strings(names)
			return names
		case ev := <-events:
			switch ev.Kind {
			case discovery.PeerFound:
				seen[ev.Name] = true
			case discovery.PeerLost:
				delete(seen, ev.Name)
			}
		}
	}
}
