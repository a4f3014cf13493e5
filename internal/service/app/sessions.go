package app

import (
	"context"
	"fmt"
	"strings"
)

// showSessions renders the account's device sessions into the message area.
// The next renderMessages repaints over it.
func (c *App) showSessions(ctx context.Context) {
	sessions, err := c.backend.Sessions(ctx)
	if err != nil {
		c.setStatus(fmt.Sprintf("[red]list sessions failed: %v[-]", err))
		return
	}
	c.app.QueueUpdateDraw(func() {
		c.chatbox.Clear()
		fmt.Fprintf(c.chatbox, "[yellow]Active sessions[-] (/revoke <id> to sign one out)\n\n")
		for _, s := range sessions {
			fmt.Fprintf(c.chatbox, "%s  device=%s  last seen %s\n", s.ID, s.DeviceID, s.LastSeen)
		}
	})
}

// revokeSession signs out one device session. Revoking the current session
// turns the next request into a 401, which purges local state.
func (c *App) revokeSession(ctx context.Context, id string) {
	if err := c.backend.RevokeSession(ctx, id); err != nil {
		c.setStatus(fmt.Sprintf("[red]revoke failed: %v[-]", err))
		return
	}
	c.setStatus(fmt.Sprintf("session %s revoked", id))
}

func sessionsCommand(text string) bool {
	return strings.TrimSpace(text) == "/sessions"
}

func revokeCommand(text string) (id string, ok bool) {
	if n, _ := fmt.Sscanf(text, "/revoke %s", &id); n == 1 {
		return id, true
	}
	return "", false
}
