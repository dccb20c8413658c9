// Package notify surfaces activity in threads the user is not looking at
// as desktop notifications.
package notify

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/gen2brain/beeep"

	"forum-client/internal/forum"
)

const maxBodyLen = 120

// Notifier turns unseen-message callbacks into desktop notifications.
// Delivery failures are logged and swallowed; notifications are best
// effort and must never disturb the feed.
type Notifier struct {
	log     *slog.Logger
	deliver func(title, body string) error
}

func New(log *slog.Logger) *Notifier {
	if log == nil {
		log = slog.Default()
	}
	return &Notifier{
		log:     log,
		deliver: func(title, body string) error { return beeep.Notify(title, body, "") },
	}
}

// UnseenMessage fits the feed reconciler's OnUnseen callback.
func (n *Notifier) UnseenMessage(push forum.MessagePush, unseen int) {
	title := push.ThreadTitle
	if title == "" {
		title = fmt.Sprintf("Thread %d", push.ThreadID)
	}
	if unseen > 1 {
		title = fmt.Sprintf("%s (%d unread)", title, unseen)
	}

	body := truncate(push.Content, maxBodyLen)
	if push.Username != "" {
		body = push.Username + ": " + body
	}

	if err := n.deliver(title, body); err != nil {
		n.log.Debug("desktop notification failed", "error", err)
	}
}

func truncate(s string, maxLen int) string {
	s = strings.Join(strings.Fields(s), " ")
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}
