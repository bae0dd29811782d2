package commands

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"os/signal"
	"os/user"
	"strings"
	"sync"
	"syscall"

	"github.com/lanchat/lanchat/internal/chat"
	"github.com/lanchat/lanchat/internal/listener"
	"github.com/lanchat/lanchat/internal/session"
	"github.com/lanchat/lanchat/internal/ui"
	"github.com/spf13/cobra"
)

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Join the local network chat",
	Long: `Advertise this instance on the local network, connect to every other
lanchat instance that is found and exchange messages with them.

Every line typed is sent to all connected peers. Lines starting with "/"
are commands:
  /peers  list known peers and their connection state
  /stop   stop searching for new peers
  /help   show the command list
  /quit   leave the chat

Examples:
  # Join with the login name as identity
  lanchat chat

  # Pick a name and a fixed receive port
  lanchat chat --name alice --listen :7000

  # Use UDP broadcast instead of multicast DNS
  lanchat chat --discovery broadcast
`,
	RunE: runChat,
}

func init() {
	chatCmd.Flags().String("name", "", "Name advertised to other peers (default: login name)")
	chatCmd.Flags().String("listen", "", "Address to receive messages on (default: any port)")
	rootCmd.AddCommand(chatCmd)
}

// terminalObserver prints coordinator output. Entries arrive as full
// transcript snapshots; only the unseen tail is printed.
type terminalObserver struct {
	w       io.Writer
	mu      sync.Mutex
	printed int
}

func (o *terminalObserver) LogAppended(entries []chat.LogEntry) {
	o.mu.Lock()
	defer o.mu.Unlock()

	for _, e := range entries[min(o.printed, len(entries)):] {
		fmt.Fprintln(o.w, ui.RenderEntry(e))
	}
	o.printed = len(entries)
}

func (o *terminalObserver) Alert(a chat.Alert) {
	o.mu.Lock()
	defer o.mu.Unlock()
	fmt.Fprintln(o.w, ui.RenderAlert(a))
}

func (o *terminalObserver) PeerFound(name string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	fmt.Fprintln(o.w, ui.RenderDim(fmt.Sprintf("found %s", name)))
}

func runChat(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	name := cfg.Name
	if name == "" {
		if u, err := user.Current(); err == nil {
			name = u.Username
		}
	}

	disc, err := newDiscovery(cfg)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	observer := &terminalObserver{w: out}
	coord, err := chat.New(chat.Options{
		Identity:   name,
		ListenAddr: cfg.ListenAddr,
		Session: session.Options{
			ConnectTimeout: cfg.ConnectTimeout.Std(),
			SendTimeout:    cfg.SendTimeout.Std(),
		},
		Listener: listener.Options{
			IdleTimeout: cfg.ChannelIdleTimeout.Std(),
		},
	}, disc, nil, observer)
	if err != nil {
		disc.Shutdown()
		return err
	}
	defer coord.Close()

	fmt.Fprint(out, ui.RenderHeader(Version, coord.Identity(), cfg.ServiceType, coord.ListenAddr().String()))
	fmt.Fprint(out, ui.RenderHelpLines())

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	lines := make(chan string)
	scanErr := make(chan error, 1)
	go func() {
		scanner := bufio.NewScanner(cmd.InOrStdin())
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
		scanErr <- scanner.Err()
	}()

	for {
		select {
		case <-ctx.Done():
			fmt.Fprintln(out, ui.RenderDim("Goodbye!"))
			return nil
		case err := <-scanErr:
			return err
		case line := <-lines:
			if !handleChatLine(out, coord, line) {
				fmt.Fprintln(out, ui.RenderDim("Goodbye!"))
				return nil
			}
		}
	}
}

// handleChatLine runs a slash command or sends line as a message.
// It returns false when the user asked to leave.
func handleChatLine(w io.Writer, coord *chat.Coordinator, line string) bool {
	input := strings.TrimSpace(line)
	if !strings.HasPrefix(input, "/") {
		coord.Send(line)
		return true
	}

	switch strings.ToLower(input) {
	case "/quit", "/exit", "/q":
		return false
	case "/peers":
		fmt.Fprint(w, ui.RenderPeers(coord.Peers()))
	case "/stop":
		coord.Stop()
		fmt.Fprintln(w, ui.RenderDim("Stopped searching for peers."))
	case "/help", "/?":
		fmt.Fprint(w, ui.RenderHelpLines())
	default:
		fmt.Fprintln(w, ui.RenderError(fmt.Errorf("unknown command %s", input)))
	}
	return true
}

var _ chat.Observer = (*terminalObserver)(nil)
