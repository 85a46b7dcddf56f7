package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	https_server "VnStockRAG/api/http"
	"VnStockRAG/internal/config"
	"VnStockRAG/internal/modules/rag/infrastructure/mq/kafka"
	"VnStockRAG/internal/modules/rag/infrastructure/queue"
	"VnStockRAG/pkg/zlog"
)

func main() {
	conf := config.GetConfig()
	if conf.LogConfig.LogPath != "" {
		zlog.Init(conf.LogConfig.LogPath)
	}
	defer zlog.Sync()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// HTTP server
	go func() {
		addr := fmt.Sprintf("%s:%d", conf.MainConfig.Host, conf.MainConfig.Port)
		zlog.Info(fmt.Sprintf("server listening on %s", addr))
		// Plain HTTP for now; put certificates in place and switch to
		// GE.RunTLS when terminating TLS here.
		if err := https_server.GE.Run(addr); err != nil {
			zlog.Fatal("server start failed: " + err.Error())
		}
	}()

	// Async ingest worker
	var worker *queue.IngestWorker
	if conf.KafkaConfig.Enabled {
		consumer, err := kafka.NewSaramaConsumer(kafka.ConsumerConfig{
			Brokers:  conf.KafkaConfig.Brokers,
			GroupID:  conf.KafkaConfig.ConsumerGroupID,
			Topics:   []string{conf.KafkaConfig.IngestTopic},
			ClientID: conf.KafkaConfig.ClientID,
		})
		if err != nil {
			zlog.Fatal("kafka consumer init failed: " + err.Error())
		}
		worker, err = queue.NewIngestWorker(consumer, https_server.IngestPipe)
		if err != nil {
			zlog.Fatal("ingest worker init failed: " + err.Error())
		}
		go func() {
			if err := worker.Run(ctx); err != nil && ctx.Err() == nil {
				zlog.Error("ingest worker stopped: " + err.Error())
			}
		}()
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	zlog.Info("shutting down...")
	cancel()
	if worker != nil {
		_ = worker.Close()
	}
	if https_server.IngestPublisher != nil {
		_ = https_server.IngestPublisher.Close()
	}
	zlog.Info("server stopped")
}
