package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/IBM/sarama"

	"folderSync/backend/config"
	"folderSync/backend/internal/auth"
	"folderSync/backend/internal/cloud"
	"folderSync/backend/internal/editor"
	"folderSync/backend/internal/notify"
	"folderSync/backend/internal/revision"
	"folderSync/backend/internal/store"
	"folderSync/backend/internal/ws"
)

func main() {
	userID := flag.String("user", "dev-user", "user id written into the access token")
	folderID := flag.String("folder", "default-folder", "folder object id")
	workspace := flag.String("workspace", "", "create a workspace with this name after loading")
	follow := flag.Bool("follow", false, "keep running and print remote changes")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("init config failed: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 本地缓存：配置了 MySQL 就用它，离线编辑重启后还能继续发
	var local revision.Persistence = store.NewMemoryStore()
	if cfg.Mysql.DSN != "" {
		db, err := store.InitMySQL(cfg.Mysql.DSN)
		if err != nil {
			log.Fatalf("Failed to connect to database: %v", err)
		}
		local = store.NewGormRevisionStore(db)
	}

	token, _, err := auth.NewIssuer(cfg.Auth.Secret).SignAccessToken(*userID, *userID, cfg.Auth.TTL)
	if err != nil {
		log.Fatalf("sign token: %v", err)
	}
	base := strings.TrimRight(cfg.Sync.Server, "/")
	wsURL := "ws" + strings.TrimPrefix(base, "http") + "/ws"

	events := notify.NewChanNotifier(64)
	var notifier revision.Notifier = events
	if len(cfg.Kafka.Brokers) > 0 {
		// 本地修改也发一份 object-changed 事件
		kafkaCfg := sarama.NewConfig()
		kafkaCfg.Producer.Return.Successes = true
		kafkaCfg.Producer.RequiredAcks = sarama.WaitForLocal
		producer, err := sarama.NewSyncProducer(cfg.Kafka.Brokers, kafkaCfg)
		if err != nil {
			log.Fatalf("Failed to connect kafka: %v", err)
		}
		defer producer.Close()
		dispatcher := notify.NewKafkaDispatcher(producer, cfg.Kafka.Topic, nil, notify.KafkaDispatcherOptions{
			QueueSize:   1024,
			Workers:     1,
			MaxRetry:    3,
			BaseBackoff: 50 * time.Millisecond,
			MaxBackoff:  time.Second,
		})
		dispatcher.Start()
		defer dispatcher.Close()
		notifier = notify.Fanout{events, dispatcher}
	}
	e, err := editor.New(ctx, editor.Deps{
		UserID:    *userID,
		FolderID:  *folderID,
		Store:     local,
		Cloud:     cloud.NewHTTPService(base, token),
		Transport: &ws.WebsocketTransport{URL: wsURL, Token: token},
		Notifier:  notifier,
		GapBudget: cfg.Sync.GapBudget,
		Sync: ws.SyncOptions{
			AckTimeout:  cfg.Sync.AckTimeout,
			MaxRetry:    cfg.Sync.MaxRetry,
			BaseBackoff: cfg.Sync.BaseBackoff,
			MaxBackoff:  cfg.Sync.MaxBackoff,
			Heartbeat:   cfg.Sync.Heartbeat,
		},
	})
	if err != nil {
		log.Fatalf("open folder: %v", err)
	}
	if err := e.Start(ctx); err != nil {
		log.Fatalf("start sync: %v", err)
	}
	log.Printf("[client] folder %s loaded at rev %d", *folderID, e.RevID())

	if *workspace != "" {
		w, err := e.CreateWorkspace(ctx, *workspace, "")
		if err != nil {
			log.Fatalf("create workspace: %v", err)
		}
		log.Printf("[client] created workspace %s (%s)", w.Name, w.ID)
	}

	if *follow {
	loop:
		for {
			select {
			case <-ctx.Done():
				break loop
			case evt := <-events.Events():
				log.Printf("[client] %s rev %d by %s (%s)", evt.ObjectID, evt.RevID, evt.AuthorID, evt.Source)
				if f, err := e.Folder(); err == nil {
					for _, w := range f.Workspaces {
						log.Printf("[client]   workspace %s: %d apps", w.Name, len(w.Apps))
					}
				}
			case p := <-e.Passthrough():
				log.Printf("[client] passthrough from %s: %s", p.UserID, p.Payload)
			case err := <-e.Errors():
				log.Printf("[client] sync error: %v", err)
			}
		}
	}

	closeCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Close(closeCtx); err != nil {
		log.Printf("[client] close: %v (%d revisions left in local cache)", err, len(e.Pending()))
	}
}
