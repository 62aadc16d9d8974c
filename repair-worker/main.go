package main

import (
	"context"
	"crypto/tls"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/storage/azqueue"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"kanban-api/notify"
	"kanban-api/storage"
)

func main() {
	if dbg, err := strconv.ParseBool(os.Getenv("DEBUG")); err == nil && dbg {
		log.SetLevel(log.DebugLevel)
	}
	log.Info("repair worker starting")

	connStr := os.Getenv("STORAGE_CONNECTION_STRING")
	queueName := os.Getenv("REPAIR_QUEUE")
	if connStr == "" || queueName == "" {
		log.Fatal("missing storage config")
	}
	maxAge := 15 * time.Minute
	if v := os.Getenv("REPAIR_MAX_AGE"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			log.Fatalf("invalid REPAIR_MAX_AGE: %q", v)
		}
		maxAge = d
	}

	tables := storage.Tables{
		Boards:   envOr("BOARDS_TABLE", "boards"),
		Lists:    envOr("LISTS_TABLE", "lists"),
		Cards:    envOr("CARDS_TABLE", "cards"),
		Comments: envOr("COMMENTS_TABLE", "comments"),
	}
	store, err := storage.New(connStr, tables, storage.NewClockSequence())
	if err != nil {
		log.Fatalf("storage: %v", err)
	}
	q, err := azqueue.NewQueueClientFromConnectionString(connStr, queueName, nil)
	if err != nil {
		log.Fatalf("queue client: %v", err)
	}

	w := &worker{
		queue:       &azureQueue{client: q, batch: 16, visibility: 60},
		gw:          store,
		logger:      log.StandardLogger(),
		idle:        time.Second,
		maxAttempts: 5,
		maxAge:      maxAge,
		now:         time.Now,
	}
	if redisConn := os.Getenv("REDIS_CONNECTION_STRING"); redisConn != "" {
		rc := redis.NewClient(redisOptions(redisConn))
		defer rc.Close()
		// positions are written through the cache so cached list trees are evicted
		w.gw = storage.NewCache(store, rc, time.Minute)
		w.pub = notify.NewPublisher(rc, envOr("BOARD_UPDATES_CHANNEL", notify.DefaultChannel))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	w.run(ctx)
	log.Info("repair worker stopped")
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func redisOptions(conn string) *redis.Options {
	if opts, err := redis.ParseURL(conn); err == nil {
		return opts
	}
	parts := strings.Split(conn, ",")
	opts := &redis.Options{Addr: parts[0]}
	for _, p := range parts[1:] {
		kv := strings.SplitN(p, "=", 2)
		if len(kv) != 2 {
			continue
		}
		switch strings.ToLower(kv[0]) {
		case "password":
			opts.Password = kv[1]
		case "ssl":
			if strings.ToLower(kv[1]) == "true" {
				opts.TLSConfig = &tls.Config{}
			}
		}
	}
	return opts
}
