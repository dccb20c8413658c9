package main

import (
	"bufio"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync"
	"syscall"

	"github.com/spf13/cobra"

	"forum-client/internal/feed"
	"forum-client/internal/forum"
	"forum-client/internal/notify"
	"forum-client/internal/realtime"
)

func init() {
	rootCmd.AddCommand(watchCmd)
	watchCmd.Flags().BoolVar(&watchNotify, "notify", true, "desktop notifications for other threads")
}

var watchNotify bool

var watchCmd = &cobra.Command{
	Use:   "watch <thread-id>",
	Short: "Follow a thread live; type to post, /older for history, /quit to leave",
	Args:  cobra.ExactArgs(1),
	RunE:  runWatch,
}

// watchView prints feed state to the terminal. The reconciler owns ordering
// and dedup; the view only tracks which ids it has already written.
type watchView struct {
	mu      sync.Mutex
	rec     *feed.Reconciler
	printed map[int64]bool
}

func (v *watchView) render() {
	v.mu.Lock()
	defer v.mu.Unlock()
	for _, msg := range v.rec.Messages() {
		if v.printed[msg.ID] {
			continue
		}
		v.printed[msg.ID] = true
		name := msg.Username
		if name == "" {
			name = fmt.Sprintf("user %d", msg.UserID)
		}
		marker := " "
		if msg.Align == forum.AlignRight {
			marker = ">"
		}
		fmt.Printf("%s [%d] %s: %s\n", marker, msg.ID, name, msg.Content)
	}
}

func runWatch(cmd *cobra.Command, args []string) error {
	threadID, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		return fmt.Errorf("invalid thread id %q", args[0])
	}

	s, err := openSession()
	if err != nil {
		return err
	}
	defer s.close()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	me, err := s.svc.Me(ctx)
	if err != nil {
		return err
	}

	var onUnseen func(forum.MessagePush, int)
	if watchNotify {
		onUnseen = notify.New(nil).UnseenMessage
	}
	rec := feed.New(feed.Options{
		Loader:   s.svc,
		PageSize: s.cfg.PageSize,
		OnUnseen: onUnseen,
	})
	view := &watchView{rec: rec, printed: make(map[int64]bool)}

	channel, err := realtime.New(s.cfg.SocketURL, s.creds, nil)
	if err != nil {
		return err
	}
	defer channel.Close()
	if err := channel.Connect(ctx); err != nil {
		return fmt.Errorf("realtime connect: %w", err)
	}
	if err := channel.Identify(me.ID); err != nil {
		return err
	}
	cancel := channel.OnNewMessage(func(push forum.MessagePush) {
		if rec.DispatchPush(push) != feed.EffectNone {
			view.render()
		}
	})
	defer cancel()

	// The channel never auto-reconnects; the watch loop owns re-dialing
	// after a drop or a credential refresh.
	redial := func() {
		if channel.Connected() {
			return
		}
		if err := channel.Connect(ctx); err != nil {
			slog.Warn("realtime reconnect failed", "error", err)
			return
		}
		if err := channel.Identify(me.ID); err != nil {
			slog.Warn("realtime identify failed", "error", err)
		}
	}

	if _, err := rec.OpenThread(ctx, threadID); err != nil {
		return err
	}
	view.render()
	fmt.Println("-- watching; type a message, /older for history, /quit to leave --")

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
			line = strings.TrimSpace(line)
			switch {
			case line == "":
			case line == "/quit":
				return nil
			case line == "/older":
				if !rec.HasOlder() {
					fmt.Println("-- no older messages --")
					continue
				}
				if _, err := rec.LoadOlder(ctx); err != nil {
					slog.Warn("loading older messages", "error", err)
					continue
				}
				view.render()
			default:
				redial()
				msg, err := s.svc.CreateMessage(ctx, threadID, line)
				if err != nil {
					slog.Warn("sending message", "error", err)
					continue
				}
				rec.AppendLocal(msg)
				view.render()
			}
		}
	}
}
