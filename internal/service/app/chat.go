package app

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"epochchat/internal/backend"
	"epochchat/internal/model"
	"epochchat/internal/realtime"
	"epochchat/internal/utils/log"
)

// OpenChat switches the UI to a chat. The previous chat's realtime
// connection is torn down first; the new one dials with the local watermark
// so the history frame only carries what this device has not seen.
func (c *App) OpenChat(ctx context.Context, chat *model.Chat) {
	if c.conn != nil {
		c.conn.Disconnect()
		c.conn = nil
	}
	c.current = chat

	c.app.QueueUpdateDraw(func() {
		c.chatbox.SetTitle(fmt.Sprintf(" Chat with %s ", chat.Peer))
		c.chatbox.Clear()
	})

	go func() {
		if err := c.syncer.Sync(ctx, chat); err != nil {
			log.Error("sync failed", zap.String("chat", chat.ID), zap.Error(err))
		}
		c.renderMessages(chat)
	}()

	urlFn := func() string {
		mark, err := c.store.Watermark(chat.ID)
		if err != nil {
			log.Error("watermark lookup failed", zap.Error(err))
		}
		return c.backend.WSURL(chat.ID, mark)
	}
	c.conn = realtime.Dial(urlFn,
		func(frame *model.Frame) { c.onFrame(ctx, chat, frame) },
		func(status realtime.Status) {
			c.setStatus(fmt.Sprintf("[gray]%s: %s[-]", chat.Peer, status))
		})
}

func (c *App) onFrame(ctx context.Context, chat *model.Chat, frame *model.Frame) {
	if err := c.syncer.HandleFrame(ctx, chat, frame); err != nil {
		log.Error("apply frame failed", zap.String("chat", chat.ID), zap.Error(err))
		return
	}
	c.renderMessages(chat)
}

// SendMessage encrypts and sends. The message lands in the local store as
// pending before the request goes out; confirmation promotes it into the
// timeline, failure marks it so the UI can say so. A send never waits on
// the realtime connection.
func (c *App) SendMessage(ctx context.Context, text string) error {
	chat := c.current

	epochID, ciphertext, nonce, err := c.sessions.EncryptOutgoing(ctx, chat, text)
	if err != nil {
		return fmt.Errorf("encrypt: %w", err)
	}

	localID := uuid.NewString()
	msg := &model.Message{
		ChatID:     chat.ID,
		EpochID:    epochID,
		Sender:     c.me,
		Ciphertext: ciphertext,
		Nonce:      nonce,
		Plaintext:  text,
	}
	if err := c.store.PutPending(localID, msg); err != nil {
		return err
	}
	c.renderMessages(chat)

	resp, err := c.backend.SendMessage(ctx, chat.ID, &backend.SendMessageRequest{
		EpochID:    epochID,
		Ciphertext: ciphertext,
		Nonce:      nonce,
	})
	if err != nil {
		if ferr := c.store.FailPending(chat.ID, localID); ferr != nil {
			log.Error("mark pending failed", zap.Error(ferr))
		}
		c.renderMessages(chat)
		return fmt.Errorf("send: %w", err)
	}
	// Peer messages may have been assigned ids below ours while we were
	// offline. Pull them before the watermark moves past their range.
	if serr := c.syncer.Sync(ctx, chat); serr != nil {
		log.Warn("sync before confirm", zap.Error(serr))
	}
	if err := c.store.ConfirmPending(chat.ID, localID, resp.MessageID, resp.CreatedAt); err != nil {
		return err
	}
	c.renderMessages(chat)
	return nil
}

// backfillCursor returns the oldest locally known message id for the chat,
// the cursor for one more page of history. 0 when nothing is local yet,
// which fetches the newest page.
func (c *App) backfillCursor(chatID string) int64 {
	msgs, err := c.store.Messages(chatID)
	if err != nil || len(msgs) == 0 {
		return 0
	}
	oldest := msgs[0].ID
	for _, m := range msgs {
		if m.ID < oldest {
			oldest = m.ID
		}
	}
	return oldest
}

// Backfill loads one older page for scroll-back.
func (c *App) Backfill(ctx context.Context, before int64) {
	chat := c.current
	if chat == nil {
		return
	}
	go func() {
		if _, err := c.syncer.Backfill(ctx, chat, before); err != nil {
			log.Error("backfill failed", zap.String("chat", chat.ID), zap.Error(err))
			return
		}
		c.renderMessages(chat)
	}()
}

// renderMessages repaints the chatbox from the local store, the single
// source of truth for the UI.
func (c *App) renderMessages(chat *model.Chat) {
	if c.current == nil || c.current.ID != chat.ID {
		return
	}
	msgs, err := c.store.Messages(chat.ID)
	if err != nil {
		log.Error("load messages failed", zap.Error(err))
		return
	}
	pending, err := c.store.Pending(chat.ID)
	if err != nil {
		log.Error("load pending failed", zap.Error(err))
	}

	// rendering counts as reading
	if len(msgs) > 0 {
		if err := c.store.MarkRead(chat.ID, msgs[len(msgs)-1].ID); err != nil {
			log.Debug("mark read failed", zap.String("chat", chat.ID), zap.Error(err))
		}
	}

	c.app.QueueUpdateDraw(func() {
		c.chatbox.Clear()
		for _, m := range msgs {
			c.writeMessage(m, chat)
		}
		for _, m := range pending {
			c.writeMessage(m, chat)
		}
		c.chatbox.ScrollToEnd()
	})
}

func (c *App) writeMessage(m *model.Message, chat *model.Chat) {
	label := fmt.Sprintf("[green]%s:[-]", m.Sender)
	if m.Sender == c.me {
		label = "[yellow]You:[-]"
	}
	body := m.Plaintext
	if body == "" {
		body = "[gray]<undecryptable>[-]"
	}
	switch m.SendState {
	case model.SendPending:
		body += " [gray](sending…)[-]"
	case model.SendFailed:
		body += " [red](failed)[-]"
	}
	fmt.Fprintf(c.chatbox, "%s %s\n", label, body)
}
