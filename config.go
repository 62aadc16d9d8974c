package main

import (
	"crypto/tls"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"kanban-api/notify"
	"kanban-api/storage"
)

type config struct {
	StorageConnStr string
	Tables         storage.Tables
	RepairQueue    string

	RedisConnStr  string
	CacheTTL      time.Duration
	DeduperTTL    time.Duration
	CallTimeout   time.Duration
	UpdateChannel string
	BoardIdleTTL  time.Duration

	AuthDomain   string
	AuthAudience string

	ListenAddr string
	Debug      bool
}

func loadConfig() (config, error) {
	var (
		cfg  config
		errs []error
		err  error
	)
	cfg.StorageConnStr = os.Getenv("STORAGE_CONNECTION_STRING")
	cfg.Tables = storage.Tables{
		Boards:   envString("BOARDS_TABLE", "boards"),
		Lists:    envString("LISTS_TABLE", "lists"),
		Cards:    envString("CARDS_TABLE", "cards"),
		Comments: envString("COMMENTS_TABLE", "comments"),
	}
	if cfg.StorageConnStr == "" {
		errs = append(errs, errors.New("missing storage config"))
	}
	cfg.RepairQueue = os.Getenv("REPAIR_QUEUE")

	cfg.RedisConnStr = os.Getenv("REDIS_CONNECTION_STRING")
	if cfg.RedisConnStr == "" {
		errs = append(errs, errors.New("missing redis config"))
	}
	if cfg.CacheTTL, err = envDur("CACHE_TTL", 10*time.Minute); err != nil {
		errs = append(errs, err)
	}
	if cfg.DeduperTTL, err = envDur("DEDUPER_TTL", 24*time.Hour); err != nil {
		errs = append(errs, err)
	}
	if cfg.CallTimeout, err = envDur("CALL_TIMEOUT", 10*time.Second); err != nil {
		errs = append(errs, err)
	}
	cfg.UpdateChannel = envString("BOARD_UPDATES_CHANNEL", notify.DefaultChannel)
	if cfg.BoardIdleTTL, err = envDur("BOARD_IDLE_TTL", 30*time.Minute); err != nil {
		errs = append(errs, err)
	}

	cfg.AuthDomain = os.Getenv("AUTH0_DOMAIN")
	cfg.AuthAudience = os.Getenv("AUTH0_AUDIENCE")

	port, err := envInt("FUNCTIONS_CUSTOMHANDLER_PORT", 8080)
	if err != nil {
		errs = append(errs, err)
	}
	cfg.ListenAddr = ":" + strconv.Itoa(port)

	if dbg, perr := strconv.ParseBool(os.Getenv("DEBUG")); perr == nil && dbg {
		cfg.Debug = true
	}
	return cfg, errors.Join(errs...)
}

// localAuth reports whether tokens are checked against a shared secret
// instead of the Auth0 JWKS.
func (c config) localAuth() bool {
	return os.Getenv("AUTH0_TEST_MODE") == "1" || os.Getenv("LOCAL_AUTH_MODE") != ""
}

func envString(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("invalid %s: must be a positive integer", key)
	}
	return n, nil
}

func envDur(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("invalid %s: must be a positive duration", key)
	}
	return d, nil
}

// redisOptions accepts a redis:// URL or the Azure form
// "host:port,password=...,ssl=true".
func redisOptions(conn string) *redis.Options {
	if opts, err := redis.ParseURL(conn); err == nil {
		return opts
	}
	parts := strings.Split(conn, ",")
	opts := &redis.Options{Addr: strings.TrimSpace(parts[0])}
	for _, p := range parts[1:] {
		kv := strings.SplitN(p, "=", 2)
		if len(kv) != 2 {
			continue
		}
		switch strings.ToLower(strings.TrimSpace(kv[0])) {
		case "password":
			opts.Password = kv[1]
		case "ssl":
			if strings.EqualFold(kv[1], "true") {
				opts.TLSConfig = &tls.Config{}
			}
		}
	}
	return opts
}
