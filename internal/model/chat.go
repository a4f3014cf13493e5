package model

type (
	// Chat is a single peer relationship. LastMessage and Unread are
	// denormalized for list rendering, derived from the message timeline and
	// never authoritative.
	Chat struct {
		ID          string `json:"id" bson:"id"`
		Peer        string `json:"peer" bson:"peer"`
		LastMessage string `json:"-" bson:"-"`
		Unread      int    `json:"-" bson:"-"`
	}
)
