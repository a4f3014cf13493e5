package backend

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"epochchat/internal/model"
)

type (
	SignupRequest struct {
		Username            string `json:"username"`
		Password            string `json:"password"`
		PublicKey           string `json:"public_key"`
		EncryptedPrivateKey string `json:"encrypted_private_key"`
		Salt                string `json:"salt"`
		Nonce               string `json:"nonce"`
	}

	LoginRequest struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}

	// KeyBlob is the server-held encrypted identity private key plus the KDF
	// inputs needed to open it client-side.
	KeyBlob struct {
		EncryptedPrivateKey string `json:"encrypted_private_key"`
		Salt                string `json:"salt"`
		Nonce               string `json:"nonce"`
	}

	LoginResponse struct {
		Token string `json:"token"`
		KeyBlob
	}

	CreateEpochRequest struct {
		WrappedKeyA string `json:"wrapped_key_a"`
		WrappedKeyB string `json:"wrapped_key_b"`
	}

	CreateEpochResponse struct {
		EpochID string `json:"epoch_id"`
		Index   int    `json:"index"`
	}

	SendMessageRequest struct {
		EpochID    string `json:"epoch_id"`
		Ciphertext string `json:"ciphertext"`
		Nonce      string `json:"nonce"`
		ReplyTo    int64  `json:"reply_to,omitempty"`
	}

	SendMessageResponse struct {
		MessageID int64  `json:"message_id"`
		CreatedAt string `json:"created_at"`
	}

	MessagesPage struct {
		Messages   []*model.Message `json:"messages"`
		NextCursor int64            `json:"next_cursor"`
	}
)

func (c *Client) Signup(ctx context.Context, req *SignupRequest) error {
	return c.do(ctx, http.MethodPost, "/auth/signup", nil, req, nil)
}

func (c *Client) Login(ctx context.Context, username, password string) (*LoginResponse, error) {
	var resp LoginResponse
	err := c.do(ctx, http.MethodPost, "/auth/login", nil, &LoginRequest{Username: username, Password: password}, &resp)
	if err != nil {
		return nil, err
	}
	c.token = resp.Token
	return &resp, nil
}

func (c *Client) FetchKeyBlob(ctx context.Context) (*KeyBlob, error) {
	var blob KeyBlob
	if err := c.do(ctx, http.MethodGet, "/auth/keyblob", nil, nil, &blob); err != nil {
		return nil, err
	}
	return &blob, nil
}

// PublicKey fetches a user's SPKI identity public key, base64.
func (c *Client) PublicKey(ctx context.Context, username string) (string, error) {
	var resp struct {
		PublicKey string `json:"public_key"`
	}
	if err := c.do(ctx, http.MethodGet, "/keys/"+username, nil, nil, &resp); err != nil {
		return "", err
	}
	return resp.PublicKey, nil
}

func (c *Client) Chats(ctx context.Context) ([]*model.Chat, error) {
	var resp struct {
		Chats []*model.Chat `json:"chats"`
	}
	if err := c.do(ctx, http.MethodGet, "/chats", nil, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Chats, nil
}

func (c *Client) CreateChat(ctx context.Context, peer string) (*model.Chat, error) {
	var chat model.Chat
	err := c.do(ctx, http.MethodPost, "/chats", nil, map[string]string{"peer": peer}, &chat)
	if err != nil {
		return nil, err
	}
	return &chat, nil
}

// CreateEpoch requests the chat's next epoch. The server answers ErrThrottled
// while the per-chat cooldown is hot; retry policy is the caller's.
func (c *Client) CreateEpoch(ctx context.Context, chatID string, req *CreateEpochRequest) (*CreateEpochResponse, error) {
	var resp CreateEpochResponse
	err := c.do(ctx, http.MethodPost, fmt.Sprintf("/chats/%s/epochs", chatID), nil, req, &resp)
	if err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) Epoch(ctx context.Context, epochID string) (*model.Epoch, error) {
	var e model.Epoch
	if err := c.do(ctx, http.MethodGet, "/epochs/"+epochID, nil, nil, &e); err != nil {
		return nil, err
	}
	return &e, nil
}

func (c *Client) SendMessage(ctx context.Context, chatID string, req *SendMessageRequest) (*SendMessageResponse, error) {
	var resp SendMessageResponse
	err := c.do(ctx, http.MethodPost, fmt.Sprintf("/chats/%s/messages", chatID), nil, req, &resp)
	if err != nil {
		return nil, err
	}
	return &resp, nil
}

// Messages fetches a page of a chat's messages. after fetches strictly newer
// than the watermark; before is the scroll-back cursor. They are mutually
// exclusive.
func (c *Client) Messages(ctx context.Context, chatID string, after, before int64, limit int) (*MessagesPage, error) {
	q := url.Values{}
	if after > 0 {
		q.Set("after", fmt.Sprint(after))
	}
	if before > 0 {
		q.Set("before", fmt.Sprint(before))
	}
	if limit > 0 {
		q.Set("limit", fmt.Sprint(limit))
	}
	var page MessagesPage
	err := c.do(ctx, http.MethodGet, fmt.Sprintf("/chats/%s/messages", chatID), q, nil, &page)
	if err != nil {
		return nil, err
	}
	return &page, nil
}

func (c *Client) Sessions(ctx context.Context) ([]*model.Session, error) {
	var resp struct {
		Sessions []*model.Session `json:"sessions"`
	}
	if err := c.do(ctx, http.MethodGet, "/sessions", nil, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Sessions, nil
}

func (c *Client) RevokeSession(ctx context.Context, sessionID string) error {
	return c.do(ctx, http.MethodDelete, "/sessions/"+sessionID, nil, nil, nil)
}
