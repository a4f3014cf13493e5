package model

import "go.mongodb.org/mongo-driver/bson/primitive"

type (
	// User is the backend's account record. PublicKey is the SPKI encoding
	// of the identity public key, base64. EncryptedPrivateKey, Salt and
	// Nonce form the EncryptedIdentityBlob: the PKCS#8 private key under
	// AES-256-GCM with a PBKDF2 password key. The password itself is never
	// stored; PasswordHash is a server-side PBKDF2 verifier with its own
	// salt.
	User struct {
		ID                  primitive.ObjectID `json:"-" bson:"_id,omitempty"`
		Name                string             `json:"username" bson:"name"`
		PublicKey           string             `json:"public_key" bson:"public_key"`
		EncryptedPrivateKey string             `json:"encrypted_private_key" bson:"encrypted_private_key"`
		Salt                string             `json:"salt" bson:"salt"`
		Nonce               string             `json:"nonce" bson:"nonce"`
		PasswordHash        string             `json:"-" bson:"password_hash"`
		PasswordSalt        string             `json:"-" bson:"password_salt"`
	}

	// Session is one authenticated device session.
	Session struct {
		ID        string `json:"id" bson:"id"`
		UserName  string `json:"-" bson:"user_name"`
		DeviceID  string `json:"device_id" bson:"device_id"`
		CreatedAt string `json:"created_at" bson:"created_at"`
		LastSeen  string `json:"last_seen" bson:"last_seen"`
	}
)
