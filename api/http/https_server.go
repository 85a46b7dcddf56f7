package http

import (
	"context"
	"fmt"
	"time"

	"VnStockRAG/internal/config"
	"VnStockRAG/internal/initial"
	jwtMiddleware "VnStockRAG/internal/middleware/jwt"
	"VnStockRAG/internal/modules/rag/application/service"
	"VnStockRAG/internal/modules/rag/infrastructure/embedding"
	"VnStockRAG/internal/modules/rag/infrastructure/history"
	"VnStockRAG/internal/modules/rag/infrastructure/llm"
	"VnStockRAG/internal/modules/rag/infrastructure/mq"
	"VnStockRAG/internal/modules/rag/infrastructure/mq/kafka"
	"VnStockRAG/internal/modules/rag/infrastructure/persistence"
	"VnStockRAG/internal/modules/rag/infrastructure/pipeline"
	"VnStockRAG/internal/modules/rag/infrastructure/vectordb"
	ragHandler "VnStockRAG/internal/modules/rag/interface/http"
	"VnStockRAG/pkg/ssl"
	"VnStockRAG/pkg/util/myjwt"
	"VnStockRAG/pkg/zlog"

	cors "github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

var (
	GE *gin.Engine

	// IngestPipe is shared with the Kafka worker in main.
	IngestPipe *pipeline.IngestPipeline

	// IngestPublisher is nil when Kafka is disabled.
	IngestPublisher mq.Publisher
)

func init() {
	conf := config.GetConfig()
	ctx := context.Background()

	GE = gin.Default()
	corsConfig := cors.DefaultConfig()
	corsConfig.AllowOrigins = []string{"*"}
	corsConfig.AllowMethods = []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Length", "Content-Type", "Authorization"}
	GE.Use(cors.New(corsConfig))
	GE.Use(ssl.TlsHandler(conf.MainConfig.Host, conf.MainConfig.Port))

	variants, err := embedding.NewVariantsFromConfig(ctx, conf)
	if err != nil {
		zlog.Fatal(fmt.Sprintf("embedding init failed: %v", err))
	}
	chatModel, meta, err := llm.NewChatModelFromConfig(ctx, conf)
	if err != nil {
		zlog.Fatal(fmt.Sprintf("chat model init failed: %v", err))
	}
	zlog.Info("chat model ready", zap.String("provider", meta.Provider), zap.String("model", meta.Model))

	specs := make([]vectordb.CollectionSpec, 0, len(variants))
	for _, v := range variants {
		specs = append(specs, vectordb.CollectionSpec{Name: v.Collection, Dim: v.Dim})
	}
	vectorStore, err := vectordb.NewMilvusStore(initial.MilvusClient, specs)
	if err != nil {
		zlog.Fatal(fmt.Sprintf("vector store init failed: %v", err))
	}

	historyStore := history.NewRedisHistoryStore(initial.RedisClient, conf.RagConfig.MaxHistory)
	newsRepo := persistence.NewNewsRepository(initial.GormDB)

	retrievePipe, err := pipeline.NewRetrievePipeline(historyStore, vectorStore, variants, chatModel, pipeline.RetrievalConfig{
		TopK:           conf.RagConfig.TopK,
		HistoryWindow:  conf.RagConfig.HistoryWindow,
		MergePolicy:    conf.RagConfig.MergePolicy,
		ScoreThreshold: conf.RagConfig.ScoreThreshold,
		RetryAttempts:  conf.RagConfig.RetryAttempts,
		RetryBaseDelay: time.Duration(conf.RagConfig.RetryBaseMs) * time.Millisecond,
	})
	if err != nil {
		zlog.Fatal(fmt.Sprintf("retrieve pipeline init failed: %v", err))
	}

	answerPipe, err := pipeline.NewAnswerPipeline(historyStore, retrievePipe, chatModel, pipeline.GenerationConfig{
		HistoryWindow:   conf.RagConfig.HistoryWindow,
		RetryAttempts:   conf.RagConfig.RetryAttempts,
		RetryBaseDelay:  time.Duration(conf.RagConfig.RetryBaseMs) * time.Millisecond,
		MaxContentChars: conf.RagConfig.MaxContentChars,
		AllowUngrounded: conf.RagConfig.AllowUngrounded,
	})
	if err != nil {
		zlog.Fatal(fmt.Sprintf("answer pipeline init failed: %v", err))
	}

	IngestPipe, err = pipeline.NewIngestPipeline(newsRepo, vectorStore, variants, pipeline.IngestConfig{
		ChunkSize:      conf.RagConfig.ChunkSize,
		ChunkOverlap:   conf.RagConfig.ChunkOverlap,
		RetryAttempts:  conf.RagConfig.RetryAttempts,
		RetryBaseDelay: time.Duration(conf.RagConfig.RetryBaseMs) * time.Millisecond,
	})
	if err != nil {
		zlog.Fatal(fmt.Sprintf("ingest pipeline init failed: %v", err))
	}

	if conf.KafkaConfig.Enabled {
		if err := kafka.EnsureTopic(kafka.TopicAdminConfig{
			Brokers:  conf.KafkaConfig.Brokers,
			ClientID: conf.KafkaConfig.ClientID,
		}, conf.KafkaConfig.IngestTopic, conf.KafkaConfig.Partitions, conf.KafkaConfig.Replication); err != nil {
			zlog.Fatal(fmt.Sprintf("kafka topic init failed: %v", err))
		}
		IngestPublisher, err = kafka.NewSaramaPublisher(kafka.PublisherConfig{
			Brokers:  conf.KafkaConfig.Brokers,
			ClientID: conf.KafkaConfig.ClientID,
		})
		if err != nil {
			zlog.Fatal(fmt.Sprintf("kafka publisher init failed: %v", err))
		}
	}

	chatSvc := service.NewChatService(historyStore, answerPipe)
	ingestSvc := service.NewIngestService(IngestPipe, IngestPublisher, conf.KafkaConfig.IngestTopic)

	chatH := ragHandler.NewChatHandler(chatSvc)
	ingestH := ragHandler.NewIngestHandler(ingestSvc)

	// Demo login: issues a token for the given user id. Real deployments put
	// an identity provider in front.
	GE.POST("/login", func(c *gin.Context) {
		var body struct {
			UserID string `json:"user_id" binding:"required"`
		}
		if err := c.BindJSON(&body); err != nil {
			c.JSON(400, gin.H{"error": "user_id is required"})
			return
		}
		token, err := myjwt.GenerateToken(body.UserID)
		if err != nil {
			c.JSON(500, gin.H{"error": err.Error()})
			return
		}
		c.JSON(200, gin.H{"token": token})
	})

	authed := GE.Group("/")
	authed.Use(jwtMiddleware.Auth())
	authed.GET("/auth/ping", func(c *gin.Context) {
		c.JSON(200, gin.H{"user_id": c.GetString("user_id")})
	})
	authed.POST("/rag/ask", chatH.Ask)
	authed.POST("/rag/ask/stream", chatH.AskStream)
	authed.GET("/rag/history/:session_id", chatH.GetHistory)
	authed.DELETE("/rag/history/:session_id", chatH.ClearHistory)
	authed.GET("/rag/sessions", chatH.ListSessions)
	authed.POST("/rag/ingest", ingestH.Ingest)
}
