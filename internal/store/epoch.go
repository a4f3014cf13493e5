package store

import (
	"encoding/json"

	bolt "go.etcd.io/bbolt"

	"epochchat/internal/model"
)

// storedEpoch maps an epoch record to disk. Key is the raw unwrapped key,
// present only after a successful local unwrap; the wrapped blob is always
// present.
type storedEpoch struct {
	ID         string `json:"epoch_id"`
	ChatID     string `json:"chat_id"`
	Index      int    `json:"index"`
	WrappedKey string `json:"wrapped_key"`
	Key        []byte `json:"key,omitempty"`
}

// PutEpoch upserts an epoch record. A cached raw key already on disk
// survives a re-put of the wrapped-only copy.
func (s *Store) PutEpoch(e *model.Epoch) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		eb := tx.Bucket(epochsBucket)
		rec := &storedEpoch{ID: e.ID, ChatID: e.ChatID, Index: e.Index, WrappedKey: e.WrappedKey, Key: e.Key}
		if data := eb.Get([]byte(e.ID)); data != nil && rec.Key == nil {
			var old storedEpoch
			if err := json.Unmarshal(data, &old); err == nil {
				rec.Key = old.Key
			}
		}
		if err := putJSON(eb, []byte(e.ID), rec); err != nil {
			return err
		}
		ib, err := tx.Bucket(epochIdxBucket).CreateBucketIfNotExists([]byte(e.ChatID))
		if err != nil {
			return err
		}
		return ib.Put(indexKey(e.Index), []byte(e.ID))
	})
}

func (s *Store) EpochByID(id string) (*model.Epoch, error) {
	var e *model.Epoch
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(epochsBucket).Get([]byte(id))
		if data == nil {
			return ErrNotFound
		}
		var r storedEpoch
		if err := json.Unmarshal(data, &r); err != nil {
			return err
		}
		e = &model.Epoch{ID: r.ID, ChatID: r.ChatID, Index: r.Index, WrappedKey: r.WrappedKey, Key: r.Key}
		return nil
	})
	return e, err
}

// LatestEpoch returns the chat's highest-index epoch, ErrNotFound when the
// chat has none yet.
func (s *Store) LatestEpoch(chatID string) (*model.Epoch, error) {
	var id []byte
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(epochIdxBucket).Bucket([]byte(chatID))
		if b == nil {
			return ErrNotFound
		}
		_, v := b.Cursor().Last()
		if v == nil {
			return ErrNotFound
		}
		id = append([]byte(nil), v...)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return s.EpochByID(string(id))
}

// CacheEpochKey persists the raw key next to the wrapped blob after a
// successful unwrap.
func (s *Store) CacheEpochKey(id string, key []byte) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		eb := tx.Bucket(epochsBucket)
		data := eb.Get([]byte(id))
		if data == nil {
			return ErrNotFound
		}
		var r storedEpoch
		if err := json.Unmarshal(data, &r); err != nil {
			return err
		}
		r.Key = key
		return putJSON(eb, []byte(id), &r)
	})
}
