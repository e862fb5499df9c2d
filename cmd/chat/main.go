package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/vovakirdan/squadup-relay/internal/auth"
	"github.com/vovakirdan/squadup-relay/internal/client"
	"github.com/vovakirdan/squadup-relay/internal/log"
	"github.com/vovakirdan/squadup-relay/internal/reconcile"
)

type options struct {
	server   string
	token    string
	room     string
	logLevel string
}

func main() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var opts options

	cmd := &cobra.Command{
		Use:           "chat",
		Short:         "Terminal client for the squadup relay",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd.Context(), opts)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&opts.server, "server", "http://localhost:3001", "server base URL")
	flags.StringVar(&opts.token, "token", os.Getenv("SQUADUP_TOKEN"), "store API bearer token (default $SQUADUP_TOKEN)")
	flags.StringVar(&opts.room, "room", "", "room to join; empty chats on the global channel")
	flags.StringVar(&opts.logLevel, "log-level", "warn", "log level")
	return cmd
}

func run(ctx context.Context, opts options) error {
	logger := log.New(opts.logLevel)

	claims, err := auth.IdentityFromToken(opts.token)
	if err != nil {
		return fmt.Errorf("token: %w", err)
	}
	self := client.Identity{UserID: claims.UserID(), Username: claims.Username}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	base := strings.TrimRight(opts.server, "/")
	relay := client.NewRelay(strings.Replace(base, "http", "ws", 1)+"/ws", client.RelayOptions{}, logger)
	connected := make(chan struct{}, 1)
	relay.OnConnect(func() {
		select {
		case connected <- struct{}{}:
		default:
		}
	})
	go relay.Run(ctx)

	select {
	case <-connected:
	case <-time.After(10 * time.Second):
		return fmt.Errorf("relay at %s unreachable", base)
	case <-ctx.Done():
		return nil
	}

	out := &printer{w: os.Stdout}
	var send func(context.Context, string) error
	if opts.room == "" {
		global := client.OpenGlobal(self, relay)
		defer global.Close()
		global.OnChange(out.print)
		send = global.Send
		fmt.Printf("Connected to %s as %s on the global channel\n", base, self.Username)
	} else {
		st := client.NewStoreClient(base, opts.token, nil, logger)
		if err := st.JoinRoom(ctx, opts.room); err != nil {
			return err
		}
		room, err := client.OpenRoom(ctx, opts.room, self, relay, st, logger)
		if err != nil {
			return err
		}
		defer func() {
			room.Close(context.Background())
			st.LeaveRoom(context.Background(), opts.room)
		}()
		out.print(room.Messages())
		room.OnChange(out.print)
		send = room.Send
		fmt.Printf("Connected to %s as %s in room %s\n", base, self.Username, opts.room)
	}
	fmt.Println("Type messages and press Enter to send. Ctrl+C to exit.")

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			text := strings.TrimSpace(line)
			if text == "" {
				continue
			}
			if err := send(ctx, text); err != nil {
				fmt.Fprintf(os.Stderr, "send: %v\n", err)
			}
		}
	}
}

// printer writes entries as they are appended. Reconciled lists only grow at
// the end, so printing the unseen tail of each snapshot is enough. Snapshots
// may arrive out of order from different delivery paths.
type printer struct {
	w       io.Writer
	mu      sync.Mutex
	printed int
}

func (p *printer) print(msgs []reconcile.Message) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, m := range msgs[min(p.printed, len(msgs)):] {
		fmt.Fprintln(p.w, format(m))
	}
	p.printed = max(p.printed, len(msgs))
}

func format(m reconcile.Message) string {
	ts := m.CreatedAt.Local().Format("15:04")
	if m.Type == "system" {
		return fmt.Sprintf("%s * %s", ts, m.Content)
	}
	return fmt.Sprintf("%s %s: %s", ts, m.Username, m.Content)
}
