package server

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	chatRepo "epochchat/internal/repository/chat"
	epochRepo "epochchat/internal/repository/epoch"
	messageRepo "epochchat/internal/repository/message"
	sessionRepo "epochchat/internal/repository/session"
	userRepo "epochchat/internal/repository/user"
	"epochchat/internal/service/redis"
	"epochchat/internal/utils/log"
)

type (
	HttpServer struct {
		users    *userRepo.UserRepo
		chats    *chatRepo.ChatRepo
		messages *messageRepo.MessageRepo
		epochs   *epochRepo.EpochRepo
		sessions *sessionRepo.SessionRepo

		redisService *redis.RedisService
		hub          *Hub
	}

	ctxKey int
)

const userKey ctxKey = 0

func NewHttpServer(
	users *userRepo.UserRepo,
	chats *chatRepo.ChatRepo,
	messages *messageRepo.MessageRepo,
	epochs *epochRepo.EpochRepo,
	sessions *sessionRepo.SessionRepo,
	redisSvc *redis.RedisService,
) *HttpServer {
	return &HttpServer{
		users:        users,
		chats:        chats,
		messages:     messages,
		epochs:       epochs,
		sessions:     sessions,
		redisService: redisSvc,
		hub:          NewHub(redisSvc),
	}
}

func (s *HttpServer) Router() *mux.Router {
	r := mux.NewRouter()

	r.HandleFunc("/auth/signup", s.HandleSignup()).Methods(http.MethodPost)
	r.HandleFunc("/auth/login", s.HandleLogin()).Methods(http.MethodPost)

	authed := r.NewRoute().Subrouter()
	authed.Use(s.requireAuth)
	authed.HandleFunc("/auth/keyblob", s.HandleKeyBlob()).Methods(http.MethodGet)
	authed.HandleFunc("/keys/{name}", s.HandlePublicKey()).Methods(http.MethodGet)
	authed.HandleFunc("/chats", s.HandleListChats()).Methods(http.MethodGet)
	authed.HandleFunc("/chats", s.HandleCreateChat()).Methods(http.MethodPost)
	authed.HandleFunc("/chats/{id}/epochs", s.HandleCreateEpoch()).Methods(http.MethodPost)
	authed.HandleFunc("/epochs/{id}", s.HandleGetEpoch()).Methods(http.MethodGet)
	authed.HandleFunc("/chats/{id}/messages", s.HandleSendMessage()).Methods(http.MethodPost)
	authed.HandleFunc("/chats/{id}/messages", s.HandleListMessages()).Methods(http.MethodGet)
	authed.HandleFunc("/chats/{id}/ws", s.HandleChatWS()).Methods(http.MethodGet)
	authed.HandleFunc("/sessions", s.HandleListSessions()).Methods(http.MethodGet)
	authed.HandleFunc("/sessions/{id}", s.HandleRevokeSession()).Methods(http.MethodDelete)

	return r
}

func (s *HttpServer) Run(addr string) error {
	log.Info("server listening", zap.String("addr", addr))
	return http.ListenAndServe(addr, s.Router())
}

// requireAuth resolves the bearer token (header, or query parameter for
// websocket upgrades) into a username. Unknown or revoked tokens get 401.
func (s *HttpServer) requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		if token == "" {
			token = r.URL.Query().Get("token")
		}
		if token == "" {
			http.Error(w, "missing token", http.StatusUnauthorized)
			return
		}
		userName, _, err := s.sessions.Resolve(r.Context(), token)
		if err != nil {
			http.Error(w, "auth lookup failed", http.StatusInternalServerError)
			return
		}
		if userName == "" {
			http.Error(w, "invalid token", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), userKey, userName)))
	})
}

func currentUser(r *http.Request) string {
	name, _ := r.Context().Value(userKey).(string)
	return name
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error("write response failed", zap.Error(err))
	}
}
