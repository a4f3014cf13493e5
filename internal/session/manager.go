// Package session owns epoch-key resolution and caching for every chat:
// lookup-or-creation of epochs, unwrap-and-cache of their keys, and message
// encrypt/decrypt around the cryptographic engine and the local store.
package session

import (
	"context"
	"crypto/ecdh"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"epochchat/internal/backend"
	"epochchat/internal/cryptographic"
	"epochchat/internal/cryptographic/codec"
	"epochchat/internal/cryptographic/keys"
	"epochchat/internal/model"
	"epochchat/internal/store"
	"epochchat/internal/utils/log"
)

// throttleCooldown is how long to wait after a server-side rate-limit signal
// before the single retry of an epoch creation.
const throttleCooldown = 5500 * time.Millisecond

// ErrKeyUnresolved means an epoch's raw key could not be recovered (missing
// identity key, unknown peer key, corrupted blob). Messages under that epoch
// stay ciphertext-only; the condition is never fatal to the session.
var ErrKeyUnresolved = errors.New("session: epoch key unresolved")

// State is the per-chat epoch lifecycle.
type State int

const (
	NoEpoch State = iota
	EpochPending
	EpochReady
)

type (
	// Backend is the slice of the REST client the manager needs.
	Backend interface {
		PublicKey(ctx context.Context, username string) (string, error)
		CreateEpoch(ctx context.Context, chatID string, req *backend.CreateEpochRequest) (*backend.CreateEpochResponse, error)
		Epoch(ctx context.Context, epochID string) (*model.Epoch, error)
	}

	// EpochStore is the slice of the local store the manager needs.
	EpochStore interface {
		LatestEpoch(chatID string) (*model.Epoch, error)
		EpochByID(id string) (*model.Epoch, error)
		PutEpoch(e *model.Epoch) error
		CacheEpochKey(id string, key []byte) error
	}

	Manager struct {
		crypto   cryptographic.Provider
		backend  Backend
		store    EpochStore
		identity *ecdh.PrivateKey
		cooldown time.Duration

		mu       sync.Mutex
		chatMu   map[string]*sync.Mutex
		pending  map[string]bool
		keyCache map[string][]byte          // epoch id -> raw key
		peerPubs map[string]*ecdh.PublicKey // username -> decoded identity key
	}
)

func NewManager(crypto cryptographic.Provider, be Backend, st EpochStore, identity *ecdh.PrivateKey) *Manager {
	return &Manager{
		crypto:   crypto,
		backend:  be,
		store:    st,
		identity: identity,
		cooldown: throttleCooldown,
		chatMu:   make(map[string]*sync.Mutex),
		pending:  make(map[string]bool),
		keyCache: make(map[string][]byte),
		peerPubs: make(map[string]*ecdh.PublicKey),
	}
}

// lockChat returns the chat's serialization mutex. Epoch creation is the one
// per-chat serialization point; everything else runs concurrently.
func (m *Manager) lockChat(chatID string) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()
	mu, ok := m.chatMu[chatID]
	if !ok {
		mu = &sync.Mutex{}
		m.chatMu[chatID] = mu
	}
	return mu
}

// ChatState reports where the chat sits in NoEpoch -> EpochPending ->
// EpochReady.
func (m *Manager) ChatState(chatID string) State {
	m.mu.Lock()
	pending := m.pending[chatID]
	m.mu.Unlock()
	if pending {
		return EpochPending
	}
	if _, err := m.store.LatestEpoch(chatID); err == nil {
		return EpochReady
	}
	return NoEpoch
}

func (m *Manager) setPending(chatID string, v bool) {
	m.mu.Lock()
	m.pending[chatID] = v
	m.mu.Unlock()
}

// peerPublicKey fetches and decodes the peer's identity public key, cached
// per username.
func (m *Manager) peerPublicKey(ctx context.Context, username string) (*ecdh.PublicKey, error) {
	m.mu.Lock()
	pub, ok := m.peerPubs[username]
	m.mu.Unlock()
	if ok {
		return pub, nil
	}

	b64, err := m.backend.PublicKey(ctx, username)
	if err != nil {
		return nil, fmt.Errorf("fetch peer key: %w", err)
	}
	der, err := codec.B64Decode(b64)
	if err != nil {
		return nil, fmt.Errorf("decode peer key: %w", err)
	}
	pub, err = keys.DecodePublic(der)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	m.peerPubs[username] = pub
	m.mu.Unlock()
	return pub, nil
}

// GetOrCreateEpoch returns the chat's current epoch with its raw key
// resolved, creating the first epoch when none exists. Creation wraps one
// raw key once and sends the same blob in both recipient fields: ECDH
// symmetry means it opens for either peer, so the operation is idempotent
// across concurrent attempts. A throttle signal is retried exactly once
// after the cooldown.
func (m *Manager) GetOrCreateEpoch(ctx context.Context, chat *model.Chat) (*model.Epoch, error) {
	mu := m.lockChat(chat.ID)
	mu.Lock()
	defer mu.Unlock()

	if epoch, err := m.store.LatestEpoch(chat.ID); err == nil {
		key, rerr := m.resolveRecord(ctx, epoch, chat)
		if rerr != nil {
			return nil, rerr
		}
		epoch.Key = key
		return epoch, nil
	} else if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}

	m.setPending(chat.ID, true)
	defer m.setPending(chat.ID, false)

	peerPub, err := m.peerPublicKey(ctx, chat.Peer)
	if err != nil {
		return nil, err
	}
	raw, err := m.crypto.GenerateSymmetricKey()
	if err != nil {
		return nil, err
	}
	blob, err := m.crypto.WrapKey(raw, m.identity, peerPub)
	if err != nil {
		return nil, err
	}

	req := &backend.CreateEpochRequest{WrappedKeyA: blob, WrappedKeyB: blob}
	resp, err := m.backend.CreateEpoch(ctx, chat.ID, req)
	if errors.Is(err, backend.ErrThrottled) {
		log.Info("epoch creation throttled, retrying once",
			zap.String("chat", chat.ID), zap.Duration("cooldown", m.cooldown))
		select {
		case <-time.After(m.cooldown):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		resp, err = m.backend.CreateEpoch(ctx, chat.ID, req)
	}
	if err != nil {
		return nil, fmt.Errorf("create epoch: %w", err)
	}

	epoch := &model.Epoch{
		ID:         resp.EpochID,
		ChatID:     chat.ID,
		Index:      resp.Index,
		WrappedKey: blob,
		Key:        raw,
	}
	if err := m.store.PutEpoch(epoch); err != nil {
		return nil, err
	}
	m.cacheKey(epoch.ID, raw)
	return epoch, nil
}

func (m *Manager) cacheKey(epochID string, key []byte) {
	m.mu.Lock()
	m.keyCache[epochID] = key
	m.mu.Unlock()
}

// ResolveEpochKey returns the epoch's raw key: memory cache, then the local
// record's cached key, then unwrap of the local blob, then a backend fetch.
// Every successful unwrap is cached so the derivation runs once per epoch.
func (m *Manager) ResolveEpochKey(ctx context.Context, epochID string, chat *model.Chat) ([]byte, error) {
	m.mu.Lock()
	key, ok := m.keyCache[epochID]
	m.mu.Unlock()
	if ok {
		return key, nil
	}

	epoch, err := m.store.EpochByID(epochID)
	if errors.Is(err, store.ErrNotFound) {
		epoch, err = m.backend.Epoch(ctx, epochID)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrKeyUnresolved, err)
		}
		epoch.ChatID = chat.ID
		if err := m.store.PutEpoch(epoch); err != nil {
			return nil, err
		}
	} else if err != nil {
		return nil, err
	}
	return m.resolveRecord(ctx, epoch, chat)
}

// resolveRecord unwraps an epoch record's key and caches it. The record's
// own cached raw key short-circuits the derivation.
func (m *Manager) resolveRecord(ctx context.Context, epoch *model.Epoch, chat *model.Chat) ([]byte, error) {
	if len(epoch.Key) != 0 {
		m.cacheKey(epoch.ID, epoch.Key)
		return epoch.Key, nil
	}
	if m.identity == nil {
		return nil, fmt.Errorf("%w: identity key unavailable", ErrKeyUnresolved)
	}
	peerPub, err := m.peerPublicKey(ctx, chat.Peer)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrKeyUnresolved, err)
	}
	raw, err := m.crypto.UnwrapKey(epoch.WrappedKey, m.identity, peerPub)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrKeyUnresolved, err)
	}
	if err := m.store.CacheEpochKey(epoch.ID, raw); err != nil {
		return nil, err
	}
	m.cacheKey(epoch.ID, raw)
	return raw, nil
}

// EncryptOutgoing ensures the chat has a ready epoch and seals the text
// under it.
func (m *Manager) EncryptOutgoing(ctx context.Context, chat *model.Chat, text string) (epochID, ciphertext, nonce string, err error) {
	epoch, err := m.GetOrCreateEpoch(ctx, chat)
	if err != nil {
		return "", "", "", err
	}
	ct, n, err := m.crypto.Encrypt(epoch.Key, []byte(text))
	if err != nil {
		return "", "", "", err
	}
	return epoch.ID, codec.B64Encode(ct), codec.B64Encode(n), nil
}

// DecryptIncoming resolves the message's epoch key and decrypts. Failure is
// swallowed per message: one bad or unavailable key never blocks the rest of
// the timeline.
func (m *Manager) DecryptIncoming(ctx context.Context, chat *model.Chat, msg *model.Message) (string, bool) {
	key, err := m.ResolveEpochKey(ctx, msg.EpochID, chat)
	if err != nil {
		log.Debug("epoch key unresolved",
			zap.String("epoch", msg.EpochID), zap.Int64("message", msg.ID), zap.Error(err))
		return "", false
	}
	ct, err := codec.B64Decode(msg.Ciphertext)
	if err != nil {
		return "", false
	}
	nonce, err := codec.B64Decode(msg.Nonce)
	if err != nil {
		return "", false
	}
	plain, err := m.crypto.Decrypt(key, nonce, ct)
	if err != nil {
		log.Debug("message undecryptable",
			zap.Int64("message", msg.ID), zap.Error(err))
		return "", false
	}
	return string(plain), true
}
