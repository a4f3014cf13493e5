package session

import (
	"context"
	"crypto/ecdh"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"epochchat/internal/backend"
	"epochchat/internal/cryptographic"
	"epochchat/internal/cryptographic/codec"
	"epochchat/internal/cryptographic/keys"
	"epochchat/internal/model"
	"epochchat/internal/store"
)

type fakeBackend struct {
	mu          sync.Mutex
	peerKey     string
	epochs      map[string]*model.Epoch
	createCalls int
	throttleN   int // fail the first N create attempts with ErrThrottled
	nextIndex   int
}

func (f *fakeBackend) PublicKey(ctx context.Context, username string) (string, error) {
	return f.peerKey, nil
}

func (f *fakeBackend) CreateEpoch(ctx context.Context, chatID string, req *backend.CreateEpochRequest) (*backend.CreateEpochResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.createCalls++
	if f.throttleN > 0 {
		f.throttleN--
		return nil, backend.ErrThrottled
	}
	f.nextIndex++
	id := fmt.Sprintf("ep-%d", f.nextIndex)
	if f.epochs == nil {
		f.epochs = make(map[string]*model.Epoch)
	}
	f.epochs[id] = &model.Epoch{ID: id, ChatID: chatID, Index: f.nextIndex, WrappedKey: req.WrappedKeyA}
	return &backend.CreateEpochResponse{EpochID: id, Index: f.nextIndex}, nil
}

func (f *fakeBackend) Epoch(ctx context.Context, epochID string) (*model.Epoch, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	e, ok := f.epochs[epochID]
	if !ok {
		return nil, backend.ErrNotFound
	}
	cp := *e
	return &cp, nil
}

type fakeEpochStore struct {
	mu     sync.Mutex
	epochs map[string]*model.Epoch
	byID   int // EpochByID call count
}

func newFakeEpochStore() *fakeEpochStore {
	return &fakeEpochStore{epochs: make(map[string]*model.Epoch)}
}

func (f *fakeEpochStore) LatestEpoch(chatID string) (*model.Epoch, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var latest *model.Epoch
	for _, e := range f.epochs {
		if e.ChatID == chatID && (latest == nil || e.Index > latest.Index) {
			latest = e
		}
	}
	if latest == nil {
		return nil, store.ErrNotFound
	}
	cp := *latest
	return &cp, nil
}

func (f *fakeEpochStore) EpochByID(id string) (*model.Epoch, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.byID++
	e, ok := f.epochs[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *e
	return &cp, nil
}

func (f *fakeEpochStore) PutEpoch(e *model.Epoch) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *e
	f.epochs[e.ID] = &cp
	return nil
}

func (f *fakeEpochStore) CacheEpochKey(id string, key []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	e, ok := f.epochs[id]
	if !ok {
		return store.ErrNotFound
	}
	e.Key = key
	return nil
}

func testIdentity(t *testing.T) (*ecdh.PrivateKey, string) {
	t.Helper()
	kp, err := keys.NewIdentityKeyPair()
	require.NoError(t, err)
	der, err := keys.EncodePublic(kp.Public)
	require.NoError(t, err)
	return kp.Private, codec.B64Encode(der)
}

func newTestManager(t *testing.T, be *fakeBackend) (*Manager, *fakeEpochStore) {
	t.Helper()
	mine, _ := testIdentity(t)
	_, peerB64 := testIdentity(t)
	be.peerKey = peerB64
	st := newFakeEpochStore()
	m := NewManager(cryptographic.Native{}, be, st, mine)
	m.cooldown = 10 * time.Millisecond
	return m, st
}

func TestGetOrCreateEpoch_CreatesFirst(t *testing.T) {
	be := &fakeBackend{}
	m, st := newTestManager(t, be)
	chat := &model.Chat{ID: "chat1", Peer: "bob"}

	require.Equal(t, NoEpoch, m.ChatState(chat.ID))

	epoch, err := m.GetOrCreateEpoch(context.Background(), chat)
	require.NoError(t, err)
	require.Equal(t, 1, epoch.Index)
	require.Len(t, epoch.Key, 32)
	require.Equal(t, 1, be.createCalls)

	// persisted with the raw key alongside the blob
	local, err := st.EpochByID(epoch.ID)
	require.NoError(t, err)
	require.Equal(t, epoch.Key, local.Key)
	require.Equal(t, EpochReady, m.ChatState(chat.ID))
}

func TestGetOrCreateEpoch_ReusesExisting(t *testing.T) {
	be := &fakeBackend{}
	m, _ := newTestManager(t, be)
	chat := &model.Chat{ID: "chat1", Peer: "bob"}

	first, err := m.GetOrCreateEpoch(context.Background(), chat)
	require.NoError(t, err)
	second, err := m.GetOrCreateEpoch(context.Background(), chat)
	require.NoError(t, err)

	require.Equal(t, first.ID, second.ID)
	require.Equal(t, first.Key, second.Key)
	require.Equal(t, 1, be.createCalls)
}

func TestGetOrCreateEpoch_ThrottleRetriesOnce(t *testing.T) {
	be := &fakeBackend{throttleN: 1}
	m, _ := newTestManager(t, be)
	chat := &model.Chat{ID: "chat1", Peer: "bob"}

	epoch, err := m.GetOrCreateEpoch(context.Background(), chat)
	require.NoError(t, err)
	require.NotEmpty(t, epoch.ID)
	require.Equal(t, 2, be.createCalls)
}

func TestGetOrCreateEpoch_SecondThrottleIsFatal(t *testing.T) {
	be := &fakeBackend{throttleN: 2}
	m, _ := newTestManager(t, be)
	chat := &model.Chat{ID: "chat1", Peer: "bob"}

	_, err := m.GetOrCreateEpoch(context.Background(), chat)
	require.ErrorIs(t, err, backend.ErrThrottled)
	require.Equal(t, 2, be.createCalls)
}

func TestGetOrCreateEpoch_ConcurrentCallsConverge(t *testing.T) {
	be := &fakeBackend{}
	m, _ := newTestManager(t, be)
	chat := &model.Chat{ID: "chat1", Peer: "bob"}

	const n = 8
	ids := make([]string, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			epoch, err := m.GetOrCreateEpoch(context.Background(), chat)
			require.NoError(t, err)
			ids[i] = epoch.ID
		}(i)
	}
	wg.Wait()

	require.Equal(t, 1, be.createCalls)
	for _, id := range ids {
		require.Equal(t, ids[0], id)
	}
}

func TestResolveEpochKey_UnwrapsAndCaches(t *testing.T) {
	be := &fakeBackend{}
	peerKP, err := keys.NewIdentityKeyPair()
	require.NoError(t, err)
	peerDER, err := keys.EncodePublic(peerKP.Public)
	require.NoError(t, err)

	mine, _ := testIdentity(t)
	be.peerKey = codec.B64Encode(peerDER)
	st := newFakeEpochStore()
	m := NewManager(cryptographic.Native{}, be, st, mine)
	m.cooldown = 10 * time.Millisecond

	raw, err := cryptographic.Native{}.GenerateSymmetricKey()
	require.NoError(t, err)
	blob, err := cryptographic.Native{}.WrapKey(raw, peerKP.Private, mine.PublicKey())
	require.NoError(t, err)
	require.NoError(t, st.PutEpoch(&model.Epoch{ID: "ep-1", ChatID: "chat1", Index: 1, WrappedKey: blob}))

	chat := &model.Chat{ID: "chat1", Peer: "bob"}
	got, err := m.ResolveEpochKey(context.Background(), "ep-1", chat)
	require.NoError(t, err)
	require.Equal(t, raw, got)

	// raw key is now persisted next to the blob
	local, err := st.EpochByID("ep-1")
	require.NoError(t, err)
	require.Equal(t, raw, local.Key)

	// second resolve is served from the memory cache
	before := st.byID
	got, err = m.ResolveEpochKey(context.Background(), "ep-1", chat)
	require.NoError(t, err)
	require.Equal(t, raw, got)
	require.Equal(t, before, st.byID)
}

func TestResolveEpochKey_FetchesUnknownEpoch(t *testing.T) {
	be := &fakeBackend{}
	m, _ := newTestManager(t, be)
	chat := &model.Chat{ID: "chat1", Peer: "bob"}

	// seed the server with an epoch this device has never seen
	epoch, err := m.GetOrCreateEpoch(context.Background(), chat)
	require.NoError(t, err)

	fresh := NewManager(cryptographic.Native{}, be, newFakeEpochStore(), m.identity)
	got, err := fresh.ResolveEpochKey(context.Background(), epoch.ID, chat)
	require.NoError(t, err)
	require.Equal(t, epoch.Key, got)
}

func TestResolveEpochKey_WrongIdentityFailsSoft(t *testing.T) {
	be := &fakeBackend{}
	m, _ := newTestManager(t, be)
	chat := &model.Chat{ID: "chat1", Peer: "bob"}

	epoch, err := m.GetOrCreateEpoch(context.Background(), chat)
	require.NoError(t, err)

	// a device holding a different identity cannot open the blob
	stranger, _ := testIdentity(t)
	st2 := newFakeEpochStore()
	require.NoError(t, st2.PutEpoch(&model.Epoch{ID: epoch.ID, ChatID: chat.ID, Index: epoch.Index, WrappedKey: epoch.WrappedKey}))
	other := NewManager(cryptographic.Native{}, be, st2, stranger)

	_, err = other.ResolveEpochKey(context.Background(), epoch.ID, chat)
	require.ErrorIs(t, err, ErrKeyUnresolved)
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	be := &fakeBackend{}
	m, _ := newTestManager(t, be)
	chat := &model.Chat{ID: "chat1", Peer: "bob"}

	epochID, ct, nonce, err := m.EncryptOutgoing(context.Background(), chat, "see you at noon")
	require.NoError(t, err)

	msg := &model.Message{ID: 1, ChatID: chat.ID, EpochID: epochID, Ciphertext: ct, Nonce: nonce}
	plain, ok := m.DecryptIncoming(context.Background(), chat, msg)
	require.True(t, ok)
	require.Equal(t, "see you at noon", plain)
}

func TestDecryptIncoming_UnresolvedKeyIsSoft(t *testing.T) {
	be := &fakeBackend{}
	m, _ := newTestManager(t, be)
	chat := &model.Chat{ID: "chat1", Peer: "bob"}

	msg := &model.Message{ID: 1, ChatID: chat.ID, EpochID: "no-such-epoch", Ciphertext: "Y3Q=", Nonce: "bm9uY2U="}
	_, ok := m.DecryptIncoming(context.Background(), chat, msg)
	require.False(t, ok)
}
