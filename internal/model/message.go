package model

import (
	"strings"
	"time"
)

// SendState tracks the two-phase optimistic send: a message is written
// locally as Pending before the backend confirms it.
type SendState string

const (
	SendPending   SendState = "pending"
	SendConfirmed SendState = "confirmed"
	SendFailed    SendState = "failed"
)

type (
	// Message is one chat message. Ciphertext and Nonce are base64; ID and
	// CreatedAt are server-assigned, ID strictly increasing per chat.
	// Plaintext, Synced and SendState exist only in the local store.
	Message struct {
		ID         int64  `json:"id" bson:"id"`
		ChatID     string `json:"chat_id" bson:"chat_id"`
		EpochID    string `json:"epoch_id" bson:"epoch_id"`
		Sender     string `json:"sender" bson:"sender"`
		Ciphertext string `json:"ciphertext" bson:"ciphertext"`
		Nonce      string `json:"nonce" bson:"nonce"`
		ReplyTo    int64  `json:"reply_to,omitempty" bson:"reply_to,omitempty"`
		CreatedAt  string `json:"created_at" bson:"created_at"`

		Plaintext string    `json:"-" bson:"-"`
		Synced    bool      `json:"-" bson:"-"`
		SendState SendState `json:"-" bson:"-"`
	}
)

// CreatedTime parses CreatedAt. Timestamps without an explicit zone marker
// are UTC.
func (m *Message) CreatedTime() time.Time {
	s := m.CreatedAt
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t.UTC()
	}
	// Some producers emit "2006-01-02 15:04:05" style stamps with no zone.
	s = strings.TrimSuffix(strings.Replace(s, " ", "T", 1), "Z")
	for _, layout := range []string{"2006-01-02T15:04:05.999999999", "2006-01-02T15:04:05"} {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return t
		}
	}
	return time.Time{}
}

// Decrypted reports whether the local copy carries plaintext.
func (m *Message) Decrypted() bool {
	return m.Plaintext != ""
}
