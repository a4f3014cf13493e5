package app

import (
	"context"
	"fmt"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"
	"go.uber.org/zap"

	"epochchat/internal/backend"
	"epochchat/internal/config"
	"epochchat/internal/cryptographic"
	"epochchat/internal/model"
	"epochchat/internal/realtime"
	"epochchat/internal/secret"
	"epochchat/internal/session"
	"epochchat/internal/store"
	"epochchat/internal/timeline"
	"epochchat/internal/utils/log"
)

type (
	App struct {
		app      *tview.Application
		chatList *tview.List
		chatbox  *tview.TextView
		input    *tview.InputField
		status   *tview.TextView

		cfg     *config.Config
		crypto  cryptographic.Provider
		backend *backend.Client
		store   *store.Store
		secrets *secret.Store

		sessions *session.Manager
		syncer   *timeline.Syncer

		me    string
		chats []*model.Chat

		// current owns the open chat's realtime connection; OpenChat tears
		// it down before dialing the next one.
		current *model.Chat
		conn    *realtime.Conn
	}
)

func NewApp(cfg *config.Config, crypto cryptographic.Provider, be *backend.Client, st *store.Store, secrets *secret.Store) *App {
	return &App{
		app:     tview.NewApplication(),
		cfg:     cfg,
		crypto:  crypto,
		backend: be,
		store:   st,
		secrets: secrets,
	}
}

// Run authenticates, loads the chat list, and hands the terminal to the TUI.
// Blocking.
func (c *App) Run(ctx context.Context) error {
	if err := c.authenticate(ctx); err != nil {
		return fmt.Errorf("authenticate: %w", err)
	}

	c.backend.OnUnauthorized(func() {
		// Fail-safe: a revoked session must not keep serving cached
		// plaintext or tokens.
		if err := c.store.Purge(); err != nil {
			log.Error("purge store failed", zap.Error(err))
		}
		if err := c.secrets.Wipe(); err != nil {
			log.Error("wipe vault failed", zap.Error(err))
		}
		log.Warn("session revoked, local state purged")
		c.app.Stop()
	})

	if err := c.refreshChats(ctx); err != nil {
		return err
	}

	c.renderUI(ctx)
	return nil
}

func (c *App) Stop() {
	if c.conn != nil {
		c.conn.Disconnect()
	}
	c.app.Stop()
}

// refreshChats pulls the chat list, mirrors it into the local store, and
// reads it back with the derived preview and unread fields filled in. When
// the backend is unreachable the locally mirrored list is served instead.
func (c *App) refreshChats(ctx context.Context) error {
	chats, err := c.backend.Chats(ctx)
	if err != nil {
		local, lerr := c.store.Chats()
		if lerr != nil || len(local) == 0 {
			return err
		}
		log.Warn("chat list fetch failed, using local copy", zap.Error(err))
		c.chats = local
		return nil
	}
	for _, chat := range chats {
		if err := c.store.UpsertChat(chat); err != nil {
			return err
		}
	}
	local, err := c.store.Chats()
	if err != nil {
		return err
	}
	c.chats = local
	return nil
}

func (c *App) renderUI(ctx context.Context) {
	c.chatList = tview.NewList().ShowSecondaryText(true)
	c.chatList.SetBorder(true).SetTitle(" Chats ")
	for _, chat := range c.chats {
		c.chatList.AddItem(chat.Peer, chatPreview(chat), 0, nil)
	}
	c.chatList.SetSelectedFunc(func(i int, _, _ string, _ rune) {
		if i >= 0 && i < len(c.chats) {
			c.OpenChat(ctx, c.chats[i])
			c.app.SetFocus(c.input)
		}
	})

	c.chatbox = tview.NewTextView().
		SetDynamicColors(true).
		SetScrollable(true)
	c.chatbox.SetBorder(true).SetTitle(" Messages ")

	c.status = tview.NewTextView().SetDynamicColors(true)
	c.status.SetText(fmt.Sprintf("[green]%s[-] select a chat, or /chat <name>", c.me))

	c.input = tview.NewInputField().
		SetLabel("Message: ").
		SetFieldWidth(0)
	c.input.SetBorder(true).SetTitle(" New Message ")

	c.input.SetDoneFunc(func(key tcell.Key) {
		if key != tcell.KeyEnter {
			return
		}
		text := c.input.GetText()
		if text == "" {
			return
		}
		c.input.SetText("")
		go c.handleInput(ctx, text)
	})

	right := tview.NewFlex().
		SetDirection(tview.FlexRow).
		AddItem(c.chatbox, 0, 1, false).
		AddItem(c.status, 1, 0, false).
		AddItem(c.input, 3, 0, true)

	layout := tview.NewFlex().
		AddItem(c.chatList, 24, 0, false).
		AddItem(right, 0, 1, true)

	c.app.SetInputCapture(func(ev *tcell.EventKey) *tcell.EventKey {
		if ev.Key() == tcell.KeyPgUp && c.current != nil {
			c.Backfill(ctx, c.backfillCursor(c.current.ID))
			return nil
		}
		return ev
	})

	if err := c.app.SetRoot(layout, true).SetFocus(c.input).Run(); err != nil {
		log.Fatal("cannot run app", zap.Error(err))
	}
}

// handleInput routes a line from the input field: /chat opens or creates a
// conversation, /sessions and /revoke manage device sessions, anything else
// is a message for the open chat.
func (c *App) handleInput(ctx context.Context, text string) {
	if sessionsCommand(text) {
		c.showSessions(ctx)
		return
	}
	if id, ok := revokeCommand(text); ok {
		c.revokeSession(ctx, id)
		return
	}
	if peer, ok := chatCommand(text); ok {
		chat, err := c.backend.CreateChat(ctx, peer)
		if err != nil {
			c.setStatus(fmt.Sprintf("[red]cannot open chat with %s: %v[-]", peer, err))
			return
		}
		if err := c.store.UpsertChat(chat); err != nil {
			log.Error("store chat failed", zap.Error(err))
		}
		c.addChatItem(chat)
		c.OpenChat(ctx, chat)
		return
	}

	if c.current == nil {
		c.setStatus("[red]no chat open[-]")
		return
	}
	if err := c.SendMessage(ctx, text); err != nil {
		log.Error("send message failed", zap.Error(err))
		c.setStatus(fmt.Sprintf("[red]send failed: %v[-]", err))
	}
}

func chatCommand(text string) (peer string, ok bool) {
	var name string
	if n, _ := fmt.Sscanf(text, "/chat %s", &name); n == 1 {
		return name, true
	}
	return "", false
}

func (c *App) addChatItem(chat *model.Chat) {
	for _, existing := range c.chats {
		if existing.ID == chat.ID {
			return
		}
	}
	c.chats = append(c.chats, chat)
	c.app.QueueUpdateDraw(func() {
		c.chatList.AddItem(chat.Peer, chatPreview(chat), 0, nil)
	})
}

func chatPreview(chat *model.Chat) string {
	preview := chat.LastMessage
	if chat.Unread > 0 {
		preview = fmt.Sprintf("[red](%d)[-] %s", chat.Unread, preview)
	}
	return preview
}

func (c *App) setStatus(text string) {
	c.app.QueueUpdateDraw(func() {
		c.status.SetText(text)
	})
}
