package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/IBM/sarama"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"folderSync/backend/config"
	"folderSync/backend/internal/auth"
	"folderSync/backend/internal/cache"
	"folderSync/backend/internal/collab"
	"folderSync/backend/internal/httpapi/handlers"
	"folderSync/backend/internal/httpapi/middleware"
	"folderSync/backend/internal/notify"
	"folderSync/backend/internal/revision"
	"folderSync/backend/internal/store"
	"folderSync/backend/internal/ws"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("init config failed: %v", err)
	}
	log.Printf("config: port=%d mysql=%t redis=%v kafka=%v", cfg.Running.Port, cfg.Mysql.DSN != "", cfg.Redis.Addrs, cfg.Kafka.Brokers)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 修订日志：配置了 MySQL 就落库，否则只放内存
	var revLog revision.Persistence = store.NewMemoryStore()
	var snapshots collab.SnapshotStore
	if cfg.Mysql.DSN != "" {
		db, err := store.InitMySQL(cfg.Mysql.DSN)
		if err != nil {
			log.Fatalf("Failed to connect to database: %v", err)
		}
		revLog = store.NewGormRevisionStore(db)
		snapshots = store.NewSnapshotStore(db)
	}

	var presence cache.Presence
	var revCache collab.RevisionCache
	if len(cfg.Redis.Addrs) > 0 {
		// 一个地址是单机，多个地址是集群
		rdb := redis.NewUniversalClient(&redis.UniversalOptions{
			Addrs:    cfg.Redis.Addrs,
			Password: cfg.Redis.Password,
		})
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err := rdb.Ping(pingCtx).Err()
		cancel()
		if err != nil {
			log.Fatalf("ping redis failed: %v", err)
		}
		defer rdb.Close()
		presence = cache.NewRedisPresence(rdb)
		revCache = cache.NewRevisionHint(rdb)
	}

	// 同时处理的提交数，Kafka 发送也共用一个上限
	kafkaSem := collab.NewSemaphoreControl()
	wsSem := collab.NewSemaphoreControl()

	var publisher collab.Publisher
	if len(cfg.Kafka.Brokers) > 0 {
		kafkaCfg := sarama.NewConfig()
		// SyncProducer 必须开启 Return.Successes
		kafkaCfg.Producer.Return.Successes = true
		kafkaCfg.Producer.RequiredAcks = sarama.WaitForLocal
		producer, err := sarama.NewSyncProducer(cfg.Kafka.Brokers, kafkaCfg)
		if err != nil {
			log.Fatalf("Failed to connect kafka: %v", err)
		}
		defer producer.Close()

		dispatcher := notify.NewKafkaDispatcher(producer, cfg.Kafka.Topic, kafkaSem, notify.KafkaDispatcherOptions{
			QueueSize:   10_000,
			Workers:     4,
			MaxRetry:    3,
			BaseBackoff: 50 * time.Millisecond,
			MaxBackoff:  1 * time.Second,
		})
		dispatcher.Start()
		defer dispatcher.Close()
		publisher = dispatcher
	}

	svc := collab.NewRevisionService(revLog, snapshots, publisher, revCache, collab.Options{
		RingCap:       cfg.Sync.RingCap,
		SnapshotEvery: cfg.Sync.SnapshotEvery,
	})
	hub := ws.NewHub(presence)
	manager := ws.NewManager(hub, svc, wsSem)
	issuer := auth.NewIssuer(cfg.Auth.Secret)

	r := gin.New()
	r.Use(gin.Logger(), gin.Recovery())
	r.Use(cors.New(cors.Config{
		AllowOriginFunc:  func(origin string) bool { return true },
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: false,
		MaxAge:           12 * time.Hour,
	}))

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"message": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	g := r.Group("/collab")
	// 从 Authorization 或 ?token= 取 token，本地校验后写入 userId/username
	g.Use(middleware.AuthMiddleware(issuer))
	g.GET("/ws", manager.WebSocketConnect)
	handlers.NewObjectHandler(svc).Register(g)
	if presence != nil {
		handlers.NewPresenceHandler(presence).Register(g)
	}

	srv := &http.Server{Addr: fmt.Sprintf(":%d", cfg.Running.Port), Handler: r}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("listen: %v", err)
		}
	}()
	log.Printf("collab server listening on %s", srv.Addr)

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("shutdown: %v", err)
	}
}
