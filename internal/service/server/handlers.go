package server

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"epochchat/internal/model"
	"epochchat/internal/utils/log"
)

// epochCooldown is the server-side rate limit on epoch creation per chat.
const epochCooldown = 5 * time.Second

const defaultPageLimit = 50

func (s *HttpServer) HandlePublicKey() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		name := mux.Vars(r)["name"]
		user, err := s.users.GetByName(r.Context(), name)
		if err != nil {
			http.Error(w, "lookup failed", http.StatusInternalServerError)
			return
		}
		if user == nil {
			http.Error(w, "user does not exist", http.StatusNotFound)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"public_key": user.PublicKey})
	}
}

func (s *HttpServer) HandleListChats() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		chats, err := s.chats.ListFor(r.Context(), currentUser(r))
		if err != nil {
			http.Error(w, "list chats failed", http.StatusInternalServerError)
			return
		}
		if chats == nil {
			chats = []*model.Chat{}
		}
		writeJSON(w, http.StatusOK, map[string]any{"chats": chats})
	}
}

func (s *HttpServer) HandleCreateChat() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		me := currentUser(r)

		var req struct {
			Peer string `json:"peer"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Peer == "" {
			http.Error(w, "bad request", http.StatusBadRequest)
			return
		}
		if req.Peer == me {
			http.Error(w, "cannot chat with yourself", http.StatusBadRequest)
			return
		}
		peer, err := s.users.GetByName(ctx, req.Peer)
		if err != nil {
			http.Error(w, "lookup failed", http.StatusInternalServerError)
			return
		}
		if peer == nil {
			http.Error(w, "peer does not exist", http.StatusNotFound)
			return
		}

		chatID, err := s.chats.GetOrCreate(ctx, me, req.Peer)
		if err != nil {
			log.Error("create chat failed", zap.Error(err))
			http.Error(w, "create chat failed", http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusOK, &model.Chat{ID: chatID, Peer: req.Peer})
	}
}

// HandleCreateEpoch creates the chat's next epoch. The two wrapped-key
// fields must carry the same blob: the protocol relies on ECDH symmetry
// producing one blob both peers can open, and accepting divergent blobs
// would allow a split-brain epoch. Creation is rate limited per chat with a
// redis cooldown latch.
func (s *HttpServer) HandleCreateEpoch() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		chatID := mux.Vars(r)["id"]

		ok, err := s.chats.IsMember(ctx, chatID, currentUser(r))
		if err != nil || !ok {
			http.Error(w, "not a member", http.StatusForbidden)
			return
		}

		var req struct {
			WrappedKeyA string `json:"wrapped_key_a"`
			WrappedKeyB string `json:"wrapped_key_b"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.WrappedKeyA == "" {
			http.Error(w, "bad request", http.StatusBadRequest)
			return
		}
		if req.WrappedKeyA != req.WrappedKeyB {
			http.Error(w, "wrapped keys must match", http.StatusBadRequest)
			return
		}

		fresh, err := s.redisService.SetNX(ctx, "epoch-cooldown:"+chatID, 1, epochCooldown)
		if err != nil {
			log.Error("epoch cooldown check failed", zap.Error(err))
			http.Error(w, "epoch create failed", http.StatusInternalServerError)
			return
		}
		if !fresh {
			http.Error(w, "epoch creation throttled", http.StatusTooManyRequests)
			return
		}

		id, index, err := s.epochs.Create(ctx, chatID, req.WrappedKeyA, req.WrappedKeyB)
		if err != nil {
			log.Error("create epoch failed", zap.Error(err))
			http.Error(w, "epoch create failed", http.StatusInternalServerError)
			return
		}
		log.Info("epoch created", zap.String("chat", chatID), zap.Int64("index", index))
		writeJSON(w, http.StatusOK, map[string]any{"epoch_id": id, "index": index})
	}
}

func (s *HttpServer) HandleGetEpoch() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		epoch, err := s.epochs.Get(ctx, mux.Vars(r)["id"])
		if err != nil {
			http.Error(w, "lookup failed", http.StatusInternalServerError)
			return
		}
		if epoch == nil {
			http.Error(w, "epoch does not exist", http.StatusNotFound)
			return
		}
		ok, err := s.chats.IsMember(ctx, epoch.ChatID, currentUser(r))
		if err != nil || !ok {
			http.Error(w, "not a member", http.StatusForbidden)
			return
		}
		writeJSON(w, http.StatusOK, epoch)
	}
}

func (s *HttpServer) HandleSendMessage() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		chatID := mux.Vars(r)["id"]
		me := currentUser(r)

		ok, err := s.chats.IsMember(ctx, chatID, me)
		if err != nil || !ok {
			http.Error(w, "not a member", http.StatusForbidden)
			return
		}

		var req struct {
			EpochID    string `json:"epoch_id"`
			Ciphertext string `json:"ciphertext"`
			Nonce      string `json:"nonce"`
			ReplyTo    int64  `json:"reply_to"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.EpochID == "" || req.Ciphertext == "" {
			http.Error(w, "bad request", http.StatusBadRequest)
			return
		}

		msg, err := s.messages.Create(ctx, &model.Message{
			ChatID:     chatID,
			EpochID:    req.EpochID,
			Sender:     me,
			Ciphertext: req.Ciphertext,
			Nonce:      req.Nonce,
			ReplyTo:    req.ReplyTo,
		})
		if err != nil {
			log.Error("store message failed", zap.Error(err))
			http.Error(w, "send failed", http.StatusInternalServerError)
			return
		}

		s.hub.Broadcast(chatID, msg)
		writeJSON(w, http.StatusOK, map[string]any{
			"message_id": msg.ID,
			"created_at": msg.CreatedAt,
		})
	}
}

func (s *HttpServer) HandleListMessages() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		chatID := mux.Vars(r)["id"]

		ok, err := s.chats.IsMember(ctx, chatID, currentUser(r))
		if err != nil || !ok {
			http.Error(w, "not a member", http.StatusForbidden)
			return
		}

		q := r.URL.Query()
		after, _ := strconv.ParseInt(q.Get("after"), 10, 64)
		before, _ := strconv.ParseInt(q.Get("before"), 10, 64)
		limit, _ := strconv.Atoi(q.Get("limit"))
		if limit <= 0 || limit > 200 {
			limit = defaultPageLimit
		}

		var msgs []*model.Message
		if after > 0 {
			msgs, err = s.messages.ListAfter(ctx, chatID, after, limit)
		} else {
			msgs, err = s.messages.ListBefore(ctx, chatID, before, limit)
		}
		if err != nil {
			log.Error("list messages failed", zap.Error(err))
			http.Error(w, "list failed", http.StatusInternalServerError)
			return
		}
		if msgs == nil {
			msgs = []*model.Message{}
		}

		var nextCursor int64
		if len(msgs) == limit {
			nextCursor = msgs[0].ID
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"messages":    msgs,
			"next_cursor": nextCursor,
		})
	}
}

func (s *HttpServer) HandleListSessions() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sessions, err := s.sessions.ListFor(r.Context(), currentUser(r))
		if err != nil {
			http.Error(w, "list sessions failed", http.StatusInternalServerError)
			return
		}
		if sessions == nil {
			sessions = []*model.Session{}
		}
		writeJSON(w, http.StatusOK, map[string]any{"sessions": sessions})
	}
}

func (s *HttpServer) HandleRevokeSession() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := s.sessions.Revoke(r.Context(), currentUser(r), mux.Vars(r)["id"]); err != nil {
			http.Error(w, "revoke failed", http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}
