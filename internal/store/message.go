package store

import (
	"encoding/binary"
	"encoding/json"
	"sort"

	bolt "go.etcd.io/bbolt"

	"epochchat/internal/model"
)

// storedMessage is the persisted shape of a message: the wire fields plus the
// local-only plaintext, sync flag and send state.
type storedMessage struct {
	ID         int64           `json:"id"`
	ChatID     string          `json:"chat_id"`
	EpochID    string          `json:"epoch_id"`
	Sender     string          `json:"sender"`
	Ciphertext string          `json:"ciphertext"`
	Nonce      string          `json:"nonce"`
	ReplyTo    int64           `json:"reply_to,omitempty"`
	CreatedAt  string          `json:"created_at"`
	Plaintext  string          `json:"plaintext,omitempty"`
	Synced     bool            `json:"synced"`
	SendState  model.SendState `json:"send_state,omitempty"`
}

func toStored(m *model.Message) *storedMessage {
	return &storedMessage{
		ID:         m.ID,
		ChatID:     m.ChatID,
		EpochID:    m.EpochID,
		Sender:     m.Sender,
		Ciphertext: m.Ciphertext,
		Nonce:      m.Nonce,
		ReplyTo:    m.ReplyTo,
		CreatedAt:  m.CreatedAt,
		Plaintext:  m.Plaintext,
		Synced:     m.Synced,
		SendState:  m.SendState,
	}
}

func (r *storedMessage) toModel() *model.Message {
	return &model.Message{
		ID:         r.ID,
		ChatID:     r.ChatID,
		EpochID:    r.EpochID,
		Sender:     r.Sender,
		Ciphertext: r.Ciphertext,
		Nonce:      r.Nonce,
		ReplyTo:    r.ReplyTo,
		CreatedAt:  r.CreatedAt,
		Plaintext:  r.Plaintext,
		Synced:     r.Synced,
		SendState:  r.SendState,
	}
}

// merge keeps the richer of two copies of the same message: plaintext,
// synced and a confirmed send state are never lost to a later, thinner
// delivery of the same id.
func merge(old, next *storedMessage) *storedMessage {
	if next.Plaintext == "" {
		next.Plaintext = old.Plaintext
	}
	if old.Synced {
		next.Synced = true
	}
	if next.SendState == "" || (old.SendState == model.SendConfirmed && next.SendState == model.SendPending) {
		next.SendState = old.SendState
	}
	return next
}

// UpsertMessage inserts or merges a message by id. A message delivered via
// both REST and push collapses to one row.
func (s *Store) UpsertMessage(m *model.Message) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b, err := tx.Bucket(messagesBucket).CreateBucketIfNotExists([]byte(m.ChatID))
		if err != nil {
			return err
		}
		next := toStored(m)
		if data := b.Get(messageKey(m.ID)); data != nil {
			var old storedMessage
			if err := json.Unmarshal(data, &old); err == nil {
				next = merge(&old, next)
			}
		}
		return putJSON(b, messageKey(m.ID), next)
	})
}

// Messages returns a chat's timeline ascending by create time (stable by id
// for equal stamps).
func (s *Store) Messages(chatID string) ([]*model.Message, error) {
	var out []*model.Message
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(messagesBucket).Bucket([]byte(chatID))
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
	if err != nil {
		return nil, err
	}
	sort.SliceStable(out, func(i, j int) bool {
		ti, tj := out[i].CreatedTime(), out[j].CreatedTime()
		if ti.Equal(tj) {
			return out[i].ID < out[j].ID
		}
		return ti.Before(tj)
	})
	return out, nil
}

// Watermark returns the highest message id known for the chat, 0 when none.
func (s *Store) Watermark(chatID string) (int64, error) {
	var mark int64
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(messagesBucket).Bucket([]byte(chatID))
		if b == nil {
			return nil
		}
		k, _ := b.Cursor().Last()
		if k != nil {
			mark = int64(binary.BigEndian.Uint64(k))
		}
		return nil
	})
	return mark, err
}

// Undecrypted returns the chat's messages still lacking plaintext, for the
// opportunistic retry pass.
func (s *Store) Undecrypted(chatID string) ([]*model.Message, error) {
	all, err := s.Messages(chatID)
	if err != nil {
		return nil, err
	}
	var out []*model.Message
	for _, m := range all {
		if !m.Decrypted() {
			out = append(out, m)
		}
	}
	return out, nil
}
