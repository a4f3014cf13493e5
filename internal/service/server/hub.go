package server

import (
	"context"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"epochchat/internal/model"
	"epochchat/internal/service/redis"
	"epochchat/internal/utils/log"
)

type (
	// Hub fans realtime frames out to every socket open on a chat. Presence
	// is mirrored into redis with a TTL so other nodes (and debugging) can
	// see who is attached.
	Hub struct {
		mu    sync.Mutex
		chats map[string]map[*hubClient]bool
		redis *redis.RedisService
	}

	hubClient struct {
		conn *websocket.Conn
		mu   sync.Mutex // serializes writes
		user string
	}
)

func NewHub(redisSvc *redis.RedisService) *Hub {
	return &Hub{
		chats: make(map[string]map[*hubClient]bool),
		redis: redisSvc,
	}
}

func (h *Hub) register(chatID string, c *hubClient) {
	h.mu.Lock()
	if h.chats[chatID] == nil {
		h.chats[chatID] = make(map[*hubClient]bool)
	}
	h.chats[chatID][c] = true
	h.mu.Unlock()

	if err := h.redis.Set(context.Background(), presenceKey(chatID, c.user), 1, time.Minute); err != nil {
		log.Warn("presence set failed", zap.Error(err))
	}
}

func (h *Hub) unregister(chatID string, c *hubClient) {
	h.mu.Lock()
	delete(h.chats[chatID], c)
	h.mu.Unlock()

	if err := h.redis.Del(context.Background(), presenceKey(chatID, c.user)); err != nil {
		log.Warn("presence del failed", zap.Error(err))
	}
}

func presenceKey(chatID, user string) string {
	return "presence:" + chatID + ":" + user
}

// Broadcast pushes a new message to every socket on the chat.
func (h *Hub) Broadcast(chatID string, msg *model.Message) {
	h.mu.Lock()
	clients := make([]*hubClient, 0, len(h.chats[chatID]))
	for c := range h.chats[chatID] {
		clients = append(clients, c)
	}
	h.mu.Unlock()

	frame := &model.Frame{Type: model.FrameNewMessage, Message: msg}
	for _, c := range clients {
		if err := c.write(frame); err != nil {
			log.Debug("broadcast write failed", zap.String("chat", chatID), zap.Error(err))
		}
	}
}

func (c *hubClient) write(frame *model.Frame) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteJSON(frame)
}
