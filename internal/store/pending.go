package store

import (
	"encoding/json"

	bolt "go.etcd.io/bbolt"

	"epochchat/internal/model"
)

// Pending messages are optimistic local writes awaiting server confirmation.
// They have no server id yet, so they live in their own per-chat bucket
// keyed by a caller-chosen local id.

func (s *Store) PutPending(localID string, m *model.Message) error {
	m.SendState = model.SendPending
	return s.db.Update(func(tx *bolt.Tx) error {
		b, err := tx.Bucket(pendingBucket).CreateBucketIfNotExists([]byte(m.ChatID))
		if err != nil {
			return err
		}
		return putJSON(b, []byte(localID), toStored(m))
	})
}

// ConfirmPending promotes a pending message into the timeline under its
// server-assigned id and stamp.
func (s *Store) ConfirmPending(chatID, localID string, serverID int64, createdAt string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		pb := tx.Bucket(pendingBucket).Bucket([]byte(chatID))
		if pb == nil {
			return ErrNotFound
		}
		data := pb.Get([]byte(localID))
		if data == nil {
			return ErrNotFound
		}
		var r storedMessage
		if err := json.Unmarshal(data, &r); err != nil {
			return err
		}
		if err := pb.Delete([]byte(localID)); err != nil {
			return err
		}
		r.ID = serverID
		r.CreatedAt = createdAt
		r.Synced = true
		r.SendState = model.SendConfirmed
		mb, err := tx.Bucket(messagesBucket).CreateBucketIfNotExists([]byte(chatID))
		if err != nil {
			return err
		}
		return putJSON(mb, messageKey(serverID), &r)
	})
}

// FailPending marks a pending message as failed. The record is kept so the
// UI can surface the failure.
func (s *Store) FailPending(chatID, localID string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		pb := tx.Bucket(pendingBucket).Bucket([]byte(chatID))
		if pb == nil {
			return ErrNotFound
		}
		data := pb.Get([]byte(localID))
		if data == nil {
			return ErrNotFound
		}
		var r storedMessage
		if err := json.Unmarshal(data, &r); err != nil {
			return err
		}
		r.SendState = model.SendFailed
		return putJSON(pb, []byte(localID), &r)
	})
}

func (s *Store) Pending(chatID string) ([]*model.Message, error) {
	var out []*model.Message
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(pendingBucket).Bucket([]byte(chatID))
		if b == nil {
			return nil
		}
		return b.ForEach(func(_, v []byte) error {
			var r storedMessage
			if err := json.Unmarshal(v, &r); err != nil {
				return err
			}
			out = append(out, r.toModel())
			return nil
		})
	})
	return out, err
}
