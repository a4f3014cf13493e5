package main

import (
	"context"
	"flag"
	"time"

	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"

	chatRepo "epochchat/internal/repository/chat"
	"epochchat/internal/repository/counter"
	epochRepo "epochchat/internal/repository/epoch"
	messageRepo "epochchat/internal/repository/message"
	sessionRepo "epochchat/internal/repository/session"
	userRepo "epochchat/internal/repository/user"
	redisSvc "epochchat/internal/service/redis"
	"epochchat/internal/service/server"
	"epochchat/internal/utils/log"
)

func main() {
	var (
		addr      = flag.String("addr", "localhost:9090", "listen address")
		mongoURI  = flag.String("mongo", "mongodb://localhost:27017", "mongodb URI")
		redisAddr = flag.String("redis", "localhost:6379", "redis address")
		dbName    = flag.String("db", "epochchat", "mongodb database name")
	)
	flag.Parse()

	mongoClient, err := initMongo(*mongoURI)
	if err != nil {
		log.Fatal("connect mongo failed", zap.Error(err))
	}
	db := mongoClient.Database(*dbName)

	rdb := redis.NewClient(&redis.Options{
		Addr: *redisAddr,
	})

	counters := counter.NewCounterRepo(db)
	s := server.NewHttpServer(
		userRepo.NewUserRepo(db),
		chatRepo.NewChatRepo(db),
		messageRepo.NewMessageRepo(db, counters),
		epochRepo.NewEpochRepo(db, counters),
		sessionRepo.NewSessionRepo(db),
		redisSvc.NewRedis(rdb),
	)

	if err := s.Run(*addr); err != nil {
		log.Fatal("server exited", zap.Error(err))
	}
}

func initMongo(uri string) (*mongo.Client, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, err
	}
	return client, client.Ping(ctx, nil)
}
