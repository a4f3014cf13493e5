// Package timeline reconciles the three message sources (REST scroll-back,
// realtime push frames and the on-device store) into one ordered,
// deduplicated, decrypted-where-possible timeline. The store is the single
// output; the UI never reads anything else.
package timeline

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"epochchat/internal/backend"
	"epochchat/internal/model"
	"epochchat/internal/utils/log"
)

// DefaultPageSize is the REST fetch limit per sync pass.
const DefaultPageSize = 50

type (
	// Backend is the slice of the REST client the syncer needs.
	Backend interface {
		Messages(ctx context.Context, chatID string, after, before int64, limit int) (*backend.MessagesPage, error)
	}

	// Sessions resolves epoch keys and decrypts. Both come from the session
	// manager; resolution failures are soft.
	Sessions interface {
		ResolveEpochKey(ctx context.Context, epochID string, chat *model.Chat) ([]byte, error)
		DecryptIncoming(ctx context.Context, chat *model.Chat, msg *model.Message) (string, bool)
	}

	// MessageStore is the slice of the local store the syncer writes to.
	MessageStore interface {
		Watermark(chatID string) (int64, error)
		UpsertMessage(m *model.Message) error
		Undecrypted(chatID string) ([]*model.Message, error)
	}

	Syncer struct {
		backend  Backend
		sessions Sessions
		store    MessageStore

		mu     sync.Mutex
		chatMu map[string]*sync.Mutex
	}
)

func NewSyncer(be Backend, sess Sessions, st MessageStore) *Syncer {
	return &Syncer{
		backend:  be,
		sessions: sess,
		store:    st,
		chatMu:   make(map[string]*sync.Mutex),
	}
}

// lockChat enforces one sync pass per chat at a time.
func (s *Syncer) lockChat(chatID string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	mu, ok := s.chatMu[chatID]
	if !ok {
		mu = &sync.Mutex{}
		s.chatMu[chatID] = mu
	}
	return mu
}

// Sync pulls everything newer than the local watermark, decrypts what it
// can, and retries previously undecryptable messages whose keys may have
// become available.
func (s *Syncer) Sync(ctx context.Context, chat *model.Chat) error {
	mu := s.lockChat(chat.ID)
	mu.Lock()
	defer mu.Unlock()

	mark, err := s.store.Watermark(chat.ID)
	if err != nil {
		return err
	}
	page, err := s.backend.Messages(ctx, chat.ID, mark, 0, DefaultPageSize)
	if err != nil {
		return fmt.Errorf("fetch after %d: %w", mark, err)
	}

	if err := s.apply(ctx, chat, page.Messages); err != nil {
		return err
	}
	return s.retryUndecrypted(ctx, chat)
}

// Backfill fetches one older page for explicit scroll-back and returns the
// next cursor (0 when history is exhausted).
func (s *Syncer) Backfill(ctx context.Context, chat *model.Chat, before int64) (int64, error) {
	mu := s.lockChat(chat.ID)
	mu.Lock()
	defer mu.Unlock()

	page, err := s.backend.Messages(ctx, chat.ID, 0, before, DefaultPageSize)
	if err != nil {
		return 0, fmt.Errorf("fetch before %d: %w", before, err)
	}
	if err := s.apply(ctx, chat, page.Messages); err != nil {
		return 0, err
	}
	return page.NextCursor, nil
}

// HandleFrame merges a realtime frame. Push and REST deliveries of the same
// id collapse to one row via the store's upsert.
func (s *Syncer) HandleFrame(ctx context.Context, chat *model.Chat, frame *model.Frame) error {
	mu := s.lockChat(chat.ID)
	mu.Lock()
	defer mu.Unlock()

	switch frame.Type {
	case model.FrameHistory:
		return s.apply(ctx, chat, frame.Messages)
	case model.FrameNewMessage:
		if frame.Message == nil {
			return nil
		}
		return s.apply(ctx, chat, []*model.Message{frame.Message})
	default:
		return nil
	}
}

// apply resolves every distinct epoch the batch references concurrently,
// then decrypts and persists each message independently. Ciphertext is
// always persisted; plaintext only on success.
func (s *Syncer) apply(ctx context.Context, chat *model.Chat, msgs []*model.Message) error {
	if len(msgs) == 0 {
		return nil
	}
	s.resolveEpochs(ctx, chat, msgs)

	for _, msg := range msgs {
		msg.ChatID = chat.ID
		msg.Synced = true
		msg.SendState = model.SendConfirmed
		if plain, ok := s.sessions.DecryptIncoming(ctx, chat, msg); ok {
			msg.Plaintext = plain
		}
		if err := s.store.UpsertMessage(msg); err != nil {
			return err
		}
	}
	return nil
}

// resolveEpochs fans out key resolution for every distinct epoch in the
// batch and waits for all of them, so a backlog spanning N epochs costs one
// round trip, not N. Failures are soft: the affected messages simply stay
// ciphertext-only.
func (s *Syncer) resolveEpochs(ctx context.Context, chat *model.Chat, msgs []*model.Message) {
	distinct := make(map[string]bool)
	for _, msg := range msgs {
		if msg.EpochID != "" {
			distinct[msg.EpochID] = true
		}
	}

	var wg sync.WaitGroup
	for epochID := range distinct {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			if _, err := s.sessions.ResolveEpochKey(ctx, id, chat); err != nil {
				log.Debug("epoch resolution failed during sync",
					zap.String("epoch", id), zap.String("chat", chat.ID), zap.Error(err))
			}
		}(epochID)
	}
	wg.Wait()
}

// retryUndecrypted re-attempts decryption of local messages that lacked a
// key on an earlier pass.
func (s *Syncer) retryUndecrypted(ctx context.Context, chat *model.Chat) error {
	stale, err := s.store.Undecrypted(chat.ID)
	if err != nil {
		return err
	}
	if len(stale) == 0 {
		return nil
	}
	s.resolveEpochs(ctx, chat, stale)
	for _, msg := range stale {
		plain, ok := s.sessions.DecryptIncoming(ctx, chat, msg)
		if !ok {
			continue
		}
		msg.Plaintext = plain
		if err := s.store.UpsertMessage(msg); err != nil {
			return err
		}
	}
	return nil
}
