package server

import (
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"epochchat/internal/model"
	"epochchat/internal/utils/log"
)

// HandleChatWS upgrades to the chat's push socket. The client's last-seen id
// arrives as a query parameter; everything newer goes out as one history
// frame before live pushes start. Inbound ping frames are answered with
// pong; everything else inbound is ignored.
func (s *HttpServer) HandleChatWS() http.HandlerFunc {
	upgrader := websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			return true
		},
	}

	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		chatID := mux.Vars(r)["id"]
		me := currentUser(r)

		ok, err := s.chats.IsMember(ctx, chatID, me)
		if err != nil || !ok {
			http.Error(w, "not a member", http.StatusForbidden)
			return
		}

		lastID, _ := strconv.ParseInt(r.URL.Query().Get("last_id"), 10, 64)

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			http.Error(w, "failed to upgrade", http.StatusInternalServerError)
			return
		}

		client := &hubClient{conn: conn, user: me}
		s.hub.register(chatID, client)

		backlog, err := s.messages.ListAfter(ctx, chatID, lastID, defaultPageLimit)
		if err != nil {
			log.Error("history fetch failed", zap.String("chat", chatID), zap.Error(err))
		} else if len(backlog) > 0 {
			if err := client.write(&model.Frame{Type: model.FrameHistory, Messages: backlog}); err != nil {
				log.Debug("history write failed", zap.Error(err))
			}
		}

		go s.readPump(chatID, client)
	}
}

func (s *HttpServer) readPump(chatID string, client *hubClient) {
	defer func() {
		s.hub.unregister(chatID, client)
		client.conn.Close()
	}()

	for {
		var frame model.Frame
		if err := client.conn.ReadJSON(&frame); err != nil {
			log.Debug("chat socket closed", zap.String("chat", chatID), zap.Error(err))
			return
		}
		if frame.Type == model.FramePing {
			if err := client.write(&model.Frame{Type: model.FramePong}); err != nil {
				return
			}
		}
	}
}
