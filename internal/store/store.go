// Package store is the on-device durable store: chats, messages and epochs
// in a single bbolt file. It is the only source the UI renders from; the
// REST and push paths both land here before anything is shown.
package store

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"

	bolt "go.etcd.io/bbolt"
)

var (
	chatsBucket    = []byte("chats")
	messagesBucket = []byte("messages")  // nested per-chat buckets, key = BE uint64 id
	pendingBucket  = []byte("pending")   // nested per-chat buckets, key = local id
	epochsBucket   = []byte("epochs")    // key = epoch id
	epochIdxBucket = []byte("epoch_idx") // nested per-chat buckets, key = BE uint32 index, value = epoch id
)

var ErrNotFound = errors.New("store: not found")

type Store struct {
	db *bolt.DB
}

func Open(path string) (*Store, error) {
	db, err := bolt.Open(path, 0o600, nil)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		for _, name := range [][]byte{chatsBucket, messagesBucket, pendingBucket, epochsBucket, epochIdxBucket} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("init store: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Purge drops every record. Called on auth failure so a revoked session can
// never serve stale decrypted content.
func (s *Store) Purge() error {
	return s.db.Update(func(tx *bolt.Tx) error {
		for _, name := range [][]byte{chatsBucket, messagesBucket, pendingBucket, epochsBucket, epochIdxBucket} {
			if err := tx.DeleteBucket(name); err != nil {
				return err
			}
			if _, err := tx.CreateBucket(name); err != nil {
				return err
			}
		}
		return nil
	})
}

func messageKey(id int64) []byte {
	var k [8]byte
	binary.BigEndian.PutUint64(k[:], uint64(id))
	return k[:]
}

func indexKey(index int) []byte {
	var k [4]byte
	binary.BigEndian.PutUint32(k[:], uint32(index))
	return k[:]
}

func putJSON(b *bolt.Bucket, key []byte, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return b.Put(key, data)
}
