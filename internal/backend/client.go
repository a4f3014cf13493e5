// Package backend is the REST client for the chat backend: auth, key lookup,
// chats, epochs, messages and session hygiene.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"epochchat/internal/utils/log"
)

var (
	// ErrThrottled is the server-side rate-limit signal (HTTP 429).
	ErrThrottled = errors.New("backend: throttled")
	// ErrUnauthorized means the token is expired or revoked (HTTP 401). The
	// client purges local state before this surfaces.
	ErrUnauthorized = errors.New("backend: unauthorized")
	ErrNotFound     = errors.New("backend: not found")
)

type (
	Client struct {
		base     *url.URL
		http     *http.Client
		token    string
		deviceID string

		// onUnauthorized runs once per 401 before ErrUnauthorized surfaces,
		// so callers can purge tokens and cached plaintext fail-safe.
		onUnauthorized func()
	}
)

func NewClient(baseURL, deviceID string) (*Client, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parse backend url: %w", err)
	}
	return &Client{
		base:     u,
		http:     &http.Client{Timeout: 15 * time.Second},
		deviceID: deviceID,
	}, nil
}

func (c *Client) SetToken(token string) {
	c.token = token
}

func (c *Client) Token() string {
	return c.token
}

func (c *Client) OnUnauthorized(fn func()) {
	c.onUnauthorized = fn
}

// WSURL derives the realtime endpoint for one chat from the REST base:
// scheme swapped to ws(s), token and device id as query parameters.
func (c *Client) WSURL(chatID string, lastID int64) string {
	u := *c.base
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = fmt.Sprintf("/chats/%s/ws", chatID)
	q := url.Values{}
	q.Set("token", c.token)
	q.Set("device", c.deviceID)
	if lastID > 0 {
		q.Set("last_id", fmt.Sprint(lastID))
	}
	u.RawQuery = q.Encode()
	return u.String()
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, body, out any) error {
	u := *c.base
	u.Path = path
	if query != nil {
		u.RawQuery = query.Encode()
	}

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, u.String(), reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	req.Header.Set("X-Device-ID", c.deviceID)

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	defer io.Copy(io.Discard, resp.Body)

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		log.Warn("backend rejected token", zap.String("path", path))
		if c.onUnauthorized != nil {
			c.onUnauthorized()
		}
		return ErrUnauthorized
	case resp.StatusCode == http.StatusTooManyRequests:
		return ErrThrottled
	case resp.StatusCode == http.StatusNotFound:
		return ErrNotFound
	case resp.StatusCode >= 300:
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("backend: %s %s: %s: %s", method, path, resp.Status, strings.TrimSpace(string(msg)))
	}

	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
