package server

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/json"
	"io"
	"net/http"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"epochchat/internal/cryptographic/codec"
	"epochchat/internal/cryptographic/kdf"
	"epochchat/internal/model"
	"epochchat/internal/utils/log"
)

type (
	signupRequest struct {
		Username            string `json:"username"`
		Password            string `json:"password"`
		PublicKey           string `json:"public_key"`
		EncryptedPrivateKey string `json:"encrypted_private_key"`
		Salt                string `json:"salt"`
		Nonce               string `json:"nonce"`
	}

	loginRequest struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
)

func newToken() (string, error) {
	b := make([]byte, 32)
	if _, err := io.ReadFull(rand.Reader, b); err != nil {
		return "", err
	}
	return codec.HexEncode(b), nil
}

// hashPassword derives the stored verifier. The server never sees the salt
// the client used for its key blob; this one is the server's own.
func hashPassword(password string, salt []byte) string {
	return codec.B64Encode(kdf.PasswordKey(password, salt))
}

func (s *HttpServer) HandleSignup() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		var req signupRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "bad request", http.StatusBadRequest)
			return
		}
		if req.Username == "" || req.Password == "" || req.PublicKey == "" {
			http.Error(w, "missing fields", http.StatusBadRequest)
			return
		}

		existing, err := s.users.GetByName(ctx, req.Username)
		if err != nil {
			http.Error(w, "lookup failed", http.StatusInternalServerError)
			return
		}
		if existing != nil {
			http.Error(w, "username taken", http.StatusConflict)
			return
		}

		salt := make([]byte, kdf.PasswordSaltSize)
		if _, err := io.ReadFull(rand.Reader, salt); err != nil {
			http.Error(w, "signup failed", http.StatusInternalServerError)
			return
		}
		user := &model.User{
			Name:                req.Username,
			PublicKey:           req.PublicKey,
			EncryptedPrivateKey: req.EncryptedPrivateKey,
			Salt:                req.Salt,
			Nonce:               req.Nonce,
			PasswordHash:        hashPassword(req.Password, salt),
			PasswordSalt:        codec.B64Encode(salt),
		}
		if _, err := s.users.Create(ctx, user); err != nil {
			log.Error("create user failed", zap.Error(err))
			http.Error(w, "signup failed", http.StatusInternalServerError)
			return
		}

		log.Info("user signed up", zap.String("name", req.Username))
		writeJSON(w, http.StatusCreated, map[string]string{"username": req.Username})
	}
}

func (s *HttpServer) HandleLogin() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		var req loginRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "bad request", http.StatusBadRequest)
			return
		}

		user, err := s.users.GetByName(ctx, req.Username)
		if err != nil {
			http.Error(w, "lookup failed", http.StatusInternalServerError)
			return
		}
		if user == nil {
			http.Error(w, "invalid credentials", http.StatusUnauthorized)
			return
		}
		salt, err := codec.B64Decode(user.PasswordSalt)
		if err != nil {
			http.Error(w, "login failed", http.StatusInternalServerError)
			return
		}
		got := hashPassword(req.Password, salt)
		if subtle.ConstantTimeCompare([]byte(got), []byte(user.PasswordHash)) != 1 {
			http.Error(w, "invalid credentials", http.StatusUnauthorized)
			return
		}

		token, err := newToken()
		if err != nil {
			http.Error(w, "login failed", http.StatusInternalServerError)
			return
		}
		deviceID := r.Header.Get("X-Device-ID")
		if err := s.sessions.Create(ctx, uuid.NewString(), token, user.Name, deviceID); err != nil {
			log.Error("create session failed", zap.Error(err))
			http.Error(w, "login failed", http.StatusInternalServerError)
			return
		}

		log.Info("user logged in", zap.String("name", user.Name), zap.String("device", deviceID))
		writeJSON(w, http.StatusOK, map[string]string{
			"token":                 token,
			"encrypted_private_key": user.EncryptedPrivateKey,
			"salt":                  user.Salt,
			"nonce":                 user.Nonce,
		})
	}
}

// HandleKeyBlob re-serves the caller's encrypted identity blob, for devices
// that logged in before but lost local state.
func (s *HttpServer) HandleKeyBlob() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, err := s.users.GetByName(r.Context(), currentUser(r))
		if err != nil || user == nil {
			http.Error(w, "lookup failed", http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{
			"encrypted_private_key": user.EncryptedPrivateKey,
			"salt":                  user.Salt,
			"nonce":                 user.Nonce,
		})
	}
}
