package store

import (
	"encoding/json"

	bolt "go.etcd.io/bbolt"

	"epochchat/internal/model"
)

// storedChat carries the chat record plus the local read marker used to
// derive the unread count.
type storedChat struct {
	ID         string `json:"id"`
	Peer       string `json:"peer"`
	LastReadID int64  `json:"last_read_id,omitempty"`
}

// UpsertChat inserts or updates a chat. The local read marker survives
// re-upserts of the server copy.
func (s *Store) UpsertChat(c *model.Chat) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(chatsBucket)
		rec := &storedChat{ID: c.ID, Peer: c.Peer}
		if data := b.Get([]byte(c.ID)); data != nil {
			var old storedChat
			if err := json.Unmarshal(data, &old); err == nil {
				rec.LastReadID = old.LastReadID
			}
		}
		return putJSON(b, []byte(c.ID), rec)
	})
}

// MarkRead records that everything up to id has been seen in the chat.
func (s *Store) MarkRead(chatID string, id int64) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(chatsBucket)
		data := b.Get([]byte(chatID))
		if data == nil {
			return ErrNotFound
		}
		var rec storedChat
		if err := json.Unmarshal(data, &rec); err != nil {
			return err
		}
		if id <= rec.LastReadID {
			return nil
		}
		rec.LastReadID = id
		return putJSON(b, []byte(chatID), &rec)
	})
}

// Chats returns every chat with its derived list fields: LastMessage is the
// newest decrypted plaintext (empty when the latest message is still
// ciphertext-only) and Unread counts messages past the read marker.
func (s *Store) Chats() ([]*model.Chat, error) {
	var out []*model.Chat
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(chatsBucket).ForEach(func(_, v []byte) error {
			var rec storedChat
			if err := json.Unmarshal(v, &rec); err != nil {
				return err
			}
			c := &model.Chat{ID: rec.ID, Peer: rec.Peer}
			fillDerived(tx, c, rec.LastReadID)
			out = append(out, c)
			return nil
		})
	})
	return out, err
}

func fillDerived(tx *bolt.Tx, c *model.Chat, lastRead int64) {
	b := tx.Bucket(messagesBucket).Bucket([]byte(c.ID))
	if b == nil {
		return
	}
	cur := b.Cursor()
	if _, v := cur.Last(); v != nil {
		var r storedMessage
		if err := json.Unmarshal(v, &r); err == nil {
			c.LastMessage = r.Plaintext
		}
	}
	for k, _ := cur.Seek(messageKey(lastRead + 1)); k != nil; k, _ = cur.Next() {
		c.Unread++
	}
}
