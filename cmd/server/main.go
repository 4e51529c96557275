// Package main 是应用程序的入口点。
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"agent-brain-go/internal/config"
	"agent-brain-go/internal/handler"
	"agent-brain-go/internal/middleware"
	"agent-brain-go/internal/model"
	"agent-brain-go/internal/pipeline"
	"agent-brain-go/internal/repository"
	"agent-brain-go/internal/service"
	"agent-brain-go/pkg/database"
	"agent-brain-go/pkg/embedding"
	"agent-brain-go/pkg/es"
	"agent-brain-go/pkg/kafka"
	"agent-brain-go/pkg/log"
	"agent-brain-go/pkg/storage"
	"agent-brain-go/pkg/tika"
	"agent-brain-go/pkg/token"
)

func main() {
	// 1. 初始化配置
	cfg, err := config.Load("./configs/config.yaml")
	if err != nil {
		panic(err)
	}

	// 2. 初始化日志记录器
	log.Init(cfg.Log.Level, cfg.Log.Format, cfg.Log.OutputPath)
	defer log.Sync()
	log.Info("日志记录器初始化成功")

	// 3. 初始化外部系统客户端
	db, err := database.NewMySQL(cfg.Database.MySQL.DSN)
	if err != nil {
		log.Fatal("连接 MySQL 失败", err)
	}
	if err := db.AutoMigrate(&model.KnowledgeSource{}, &model.DocumentChunk{}); err != nil {
		log.Fatal("数据库迁移失败", err)
	}

	rdb, err := database.NewRedis(cfg.Database.Redis.Addr, cfg.Database.Redis.Password, cfg.Database.Redis.DB)
	if err != nil {
		log.Fatal("连接 Redis 失败", err)
	}

	blobClient, err := storage.NewClient(cfg.MinIO)
	if err != nil {
		log.Fatal("初始化 MinIO 失败", err)
	}

	indexClient, err := es.NewClient(cfg.Elasticsearch, cfg.Embedding.Dimensions)
	if err != nil {
		log.Fatal("初始化向量索引失败", err)
	}

	tikaClient := tika.NewClient(cfg.Tika)
	embeddingClient := embedding.NewClient(cfg.Embedding)
	producer := kafka.NewProducer(cfg.Kafka)
	defer producer.Close()

	// 4. 初始化 Repository
	sourceRepo := repository.NewKnowledgeSourceRepository(db)
	chunkRepo := repository.NewDocumentChunkRepository(db)
	ingestLock := repository.NewIngestLock(rdb, time.Duration(cfg.Ingest.LockTTLSeconds)*time.Second)
	progressSink := repository.NewRedisProgressPublisher(rdb)

	// 5. 初始化入库管道 (依赖注入，全部走显式端口)
	parser := pipeline.NewParser(tikaClient)
	processor := pipeline.NewProcessor(
		sourceRepo,
		chunkRepo,
		blobClient,
		indexClient,
		embeddingClient,
		parser,
		ingestLock,
		progressSink,
		cfg.Ingest,
	)
	deleter := pipeline.NewDeleter(sourceRepo, blobClient, indexClient)

	// 6. 初始化 Service 与 Handler
	knowledgeService := service.NewKnowledgeService(
		sourceRepo, chunkRepo, blobClient, cfg.MinIO.BucketName, producer, deleter)
	knowledgeHandler := handler.NewKnowledgeHandler(knowledgeService)
	jwtManager := token.NewJWTManager(cfg.JWT.Secret, cfg.JWT.AccessTokenExpireHours)

	// 7. 启动后台 Kafka 消费者
	consumerCtx, stopConsumer := context.WithCancel(context.Background())
	defer stopConsumer()
	go kafka.StartConsumer(consumerCtx, cfg.Kafka, rdb, processor)

	// 8. 设置 Gin 模式并注册路由
	gin.SetMode(cfg.Server.Mode)
	r := gin.New()
	r.Use(middleware.RequestLogger(), gin.Recovery())

	apiV1 := r.Group("/api/v1")
	apiV1.Use(middleware.AuthMiddleware(jwtManager))
	{
		agents := apiV1.Group("/agents/:agentId")
		{
			agents.POST("/knowledge", knowledgeHandler.Upload)
			agents.GET("/knowledge", knowledgeHandler.List)
		}

		knowledge := apiV1.Group("/knowledge")
		{
			knowledge.GET("/:id", knowledgeHandler.Get)
			knowledge.POST("/:id/reindex", knowledgeHandler.Reindex)
			knowledge.DELETE("/:id", knowledgeHandler.Delete)
		}
	}

	// 9. 启动 HTTP 服务器并实现优雅停机
	srv := &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.Server.Port),
		Handler: r,
	}

	go func() {
		log.Infof("服务启动于 %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("HTTP 服务监听失败: %s\n", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("接收到停机信号，正在关闭服务...")

	// 先停消费者，再给 HTTP 服务器一个 5 秒的关闭窗口
	stopConsumer()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Fatalf("HTTP 服务器关闭失败: %v", err)
	}

	log.Info("服务已优雅关闭")
}
