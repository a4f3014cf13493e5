package model

type (
	// Epoch is a versioned symmetric key scoped to one chat. WrappedKey is
	// the base64 nonce||ciphertext blob produced by the cryptographic
	// engine's WrapKey; the ECDH symmetry of the wrapping key means the same
	// blob opens for both peers. Key is the raw 32-byte key, cached locally
	// after a successful unwrap and never transmitted.
	Epoch struct {
		ID         string `json:"epoch_id" bson:"epoch_id"`
		ChatID     string `json:"chat_id" bson:"chat_id"`
		Index      int    `json:"index" bson:"index"`
		WrappedKey string `json:"wrapped_key" bson:"wrapped_key"`

		Key []byte `json:"-" bson:"-"`
	}
)
