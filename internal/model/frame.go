package model

// Realtime frame tags. The push socket speaks small JSON frames dispatched
// by Type.
const (
	FrameHistory    = "history"
	FrameNewMessage = "new_message"
	FramePing       = "ping"
	FramePong       = "pong"
)

type (
	Frame struct {
		Type       string     `json:"type"`
		Messages   []*Message `json:"messages,omitempty"`
		Message    *Message   `json:"message,omitempty"`
		NextCursor int64      `json:"next_cursor,omitempty"`
	}
)
