package store_test

import (
	"fmt"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"epochchat/internal/model"
	"epochchat/internal/store"
)

func openStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func msg(id int64, chatID, text string) *model.Message {
	return &model.Message{
		ID:         id,
		ChatID:     chatID,
		EpochID:    "ep1",
		Sender:     "alice",
		Ciphertext: "Y3Q=",
		Nonce:      "bm9uY2U=",
		CreatedAt:  "2025-01-02T10:00:00Z",
		Plaintext:  text,
	}
}

func TestUpsertMessage_DuplicateCollapses(t *testing.T) {
	s := openStore(t)

	// REST delivery with plaintext, then a thinner push copy of the same id.
	rich := msg(1, "chat1", "hello")
	rich.Synced = true
	require.NoError(t, s.UpsertMessage(rich))

	thin := msg(1, "chat1", "")
	require.NoError(t, s.UpsertMessage(thin))

	msgs, err := s.Messages("chat1")
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	require.Equal(t, "hello", msgs[0].Plaintext)
	require.True(t, msgs[0].Synced)
}

func TestMessages_OrderedByCreateTime(t *testing.T) {
	s := openStore(t)

	a := msg(2, "chat1", "second")
	a.CreatedAt = "2025-01-02T10:00:05Z"
	b := msg(1, "chat1", "first")
	// no zone marker: treated as UTC
	b.CreatedAt = "2025-01-02 10:00:01"
	require.NoError(t, s.UpsertMessage(a))
	require.NoError(t, s.UpsertMessage(b))

	msgs, err := s.Messages("chat1")
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	require.Equal(t, "first", msgs[0].Plaintext)
	require.Equal(t, "second", msgs[1].Plaintext)
}

func TestWatermark(t *testing.T) {
	s := openStore(t)

	mark, err := s.Watermark("chat1")
	require.NoError(t, err)
	require.Zero(t, mark)

	require.NoError(t, s.UpsertMessage(msg(3, "chat1", "")))
	require.NoError(t, s.UpsertMessage(msg(7, "chat1", "")))
	require.NoError(t, s.UpsertMessage(msg(5, "chat1", "")))

	mark, err = s.Watermark("chat1")
	require.NoError(t, err)
	require.EqualValues(t, 7, mark)
}

func TestUndecrypted(t *testing.T) {
	s := openStore(t)

	require.NoError(t, s.UpsertMessage(msg(1, "chat1", "plain")))
	require.NoError(t, s.UpsertMessage(msg(2, "chat1", "")))

	stale, err := s.Undecrypted("chat1")
	require.NoError(t, err)
	require.Len(t, stale, 1)
	require.EqualValues(t, 2, stale[0].ID)
}

func TestEpoch_PutGetLatest(t *testing.T) {
	s := openStore(t)

	require.NoError(t, s.PutEpoch(&model.Epoch{ID: "e1", ChatID: "chat1", Index: 1, WrappedKey: "blob1"}))
	require.NoError(t, s.PutEpoch(&model.Epoch{ID: "e2", ChatID: "chat1", Index: 2, WrappedKey: "blob2"}))

	e, err := s.EpochByID("e1")
	require.NoError(t, err)
	require.Equal(t, "blob1", e.WrappedKey)

	latest, err := s.LatestEpoch("chat1")
	require.NoError(t, err)
	require.Equal(t, "e2", latest.ID)

	_, err = s.LatestEpoch("other")
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestEpoch_CachedKeySurvivesReput(t *testing.T) {
	s := openStore(t)

	require.NoError(t, s.PutEpoch(&model.Epoch{ID: "e1", ChatID: "chat1", Index: 1, WrappedKey: "blob"}))
	require.NoError(t, s.CacheEpochKey("e1", []byte("raw-key-material-raw-key-materia")))

	// a later sync re-puts the wrapped-only copy
	require.NoError(t, s.PutEpoch(&model.Epoch{ID: "e1", ChatID: "chat1", Index: 1, WrappedKey: "blob"}))

	e, err := s.EpochByID("e1")
	require.NoError(t, err)
	require.Equal(t, []byte("raw-key-material-raw-key-materia"), e.Key)
}

func TestPending_ConfirmPromotes(t *testing.T) {
	s := openStore(t)

	m := msg(0, "chat1", "outgoing")
	require.NoError(t, s.PutPending("local-1", m))

	pending, err := s.Pending("chat1")
	require.NoError(t, err)
	require.Len(t, pending, 1)
	require.Equal(t, model.SendPending, pending[0].SendState)

	require.NoError(t, s.ConfirmPending("chat1", "local-1", 42, "2025-01-02T10:00:00Z"))

	pending, err = s.Pending("chat1")
	require.NoError(t, err)
	require.Empty(t, pending)

	msgs, err := s.Messages("chat1")
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	require.EqualValues(t, 42, msgs[0].ID)
	require.True(t, msgs[0].Synced)
	require.Equal(t, model.SendConfirmed, msgs[0].SendState)
}

func TestPending_FailKeepsRecord(t *testing.T) {
	s := openStore(t)

	require.NoError(t, s.PutPending("local-1", msg(0, "chat1", "outgoing")))
	require.NoError(t, s.FailPending("chat1", "local-1"))

	pending, err := s.Pending("chat1")
	require.NoError(t, err)
	require.Len(t, pending, 1)
	require.Equal(t, model.SendFailed, pending[0].SendState)
}

func TestChats_DerivedFields(t *testing.T) {
	s := openStore(t)

	require.NoError(t, s.UpsertChat(&model.Chat{ID: "chat1", Peer: "bob"}))

	chats, err := s.Chats()
	require.NoError(t, err)
	require.Len(t, chats, 1)
	require.Empty(t, chats[0].LastMessage)
	require.Zero(t, chats[0].Unread)

	for id := int64(1); id <= 3; id++ {
		m := msg(id, "chat1", fmt.Sprintf("note %d", id))
		m.CreatedAt = fmt.Sprintf("2025-01-02T10:00:0%dZ", id)
		require.NoError(t, s.UpsertMessage(m))
	}

	chats, err = s.Chats()
	require.NoError(t, err)
	require.Equal(t, "note 3", chats[0].LastMessage)
	require.Equal(t, 3, chats[0].Unread)

	require.NoError(t, s.MarkRead("chat1", 2))
	chats, err = s.Chats()
	require.NoError(t, err)
	require.Equal(t, 1, chats[0].Unread)

	// read markers never move backwards
	require.NoError(t, s.MarkRead("chat1", 1))
	chats, err = s.Chats()
	require.NoError(t, err)
	require.Equal(t, 1, chats[0].Unread)
}

func TestUpsertChat_KeepsReadMarker(t *testing.T) {
	s := openStore(t)

	require.NoError(t, s.UpsertChat(&model.Chat{ID: "chat1", Peer: "bob"}))
	require.NoError(t, s.UpsertMessage(msg(1, "chat1", "hi")))
	require.NoError(t, s.MarkRead("chat1", 1))

	// a later chat-list sync re-upserts the server copy
	require.NoError(t, s.UpsertChat(&model.Chat{ID: "chat1", Peer: "bob"}))

	chats, err := s.Chats()
	require.NoError(t, err)
	require.Zero(t, chats[0].Unread)
}

func TestPurge(t *testing.T) {
	s := openStore(t)

	require.NoError(t, s.UpsertChat(&model.Chat{ID: "chat1", Peer: "bob"}))
	require.NoError(t, s.UpsertMessage(msg(1, "chat1", "secret")))
	require.NoError(t, s.PutEpoch(&model.Epoch{ID: "e1", ChatID: "chat1", Index: 1, WrappedKey: "blob"}))

	require.NoError(t, s.Purge())

	chats, err := s.Chats()
	require.NoError(t, err)
	require.Empty(t, chats)

	msgs, err := s.Messages("chat1")
	require.NoError(t, err)
	require.Empty(t, msgs)

	_, err = s.EpochByID("e1")
	require.ErrorIs(t, err, store.ErrNotFound)
}
