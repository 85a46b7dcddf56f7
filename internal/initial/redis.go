package initial

import (
	"context"
	"fmt"
	"time"

	"VnStockRAG/internal/config"
	"VnStockRAG/pkg/zlog"

	goredis "github.com/redis/go-redis/v9"
)

// RedisClient backs the conversation history store.
var RedisClient *goredis.Client

func init() {
	conf := config.GetConfig()
	host := conf.RedisConfig.Host
	if host == "" {
		zlog.Fatal("redis host is not configured, conversation history needs it")
		return
	}
	port := conf.RedisConfig.Port
	if port == 0 {
		port = 6379
	}
	addr := fmt.Sprintf("%s:%d", host, port)

	client := goredis.NewClient(&goredis.Options{
		Addr:         addr,
		Password:     conf.RedisConfig.Password,
		DB:           conf.RedisConfig.DB,
		PoolSize:     conf.RedisConfig.PoolSize,
		MinIdleConns: conf.RedisConfig.MinIdleConns,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		zlog.Fatal(fmt.Sprintf("redis connect failed (%s): %v", addr, err))
		return
	}
	RedisClient = client
}
