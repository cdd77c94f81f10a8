package config

import (
	"crypto/tls"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"board-sync/storage"
)

// Config is the process configuration read from the environment.
type Config struct {
	Debug      bool
	ListenAddr string

	StorageConnectionString string
	Tables                  storage.Tables

	RedisConnectionString string
	DedupeTTL             time.Duration
	CacheTTL              time.Duration

	ToastTTL        time.Duration
	ToastStagger    time.Duration
	HistoryCapacity int

	AuthTestMode bool
	AuthAudience string
	AuthDomain   string
}

// LoadDotEnv loads the given files (".env" by default) into the environment
// without overriding variables that are already set. Missing files are
// ignored.
func LoadDotEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("load %s: %w", f, err)
		}
	}
	return nil
}

// Load reads the configuration. Storage and Redis settings are required.
func Load() (Config, error) {
	var err error
	cfg := Config{
		ListenAddr:              ":8080",
		StorageConnectionString: os.Getenv("STORAGE_CONNECTION_STRING"),
		Tables:                  Tables(),
		RedisConnectionString:   os.Getenv("REDIS_CONNECTION_STRING"),
		AuthTestMode:            os.Getenv("AUTH0_TEST_MODE") == "1" || os.Getenv("LOCAL_AUTH_MODE") != "",
		AuthAudience:            os.Getenv("AUTH0_AUDIENCE"),
		AuthDomain:              os.Getenv("AUTH0_DOMAIN"),
	}
	if dbg, perr := strconv.ParseBool(os.Getenv("DEBUG")); perr == nil {
		cfg.Debug = dbg
	}
	if val, ok := os.LookupEnv("BOARD_SYNC_PORT"); ok {
		cfg.ListenAddr = ":" + val
	}
	if cfg.StorageConnectionString == "" {
		return Config{}, errors.New("missing storage config")
	}
	if cfg.RedisConnectionString == "" {
		return Config{}, errors.New("missing redis config")
	}
	if !cfg.AuthTestMode && (cfg.AuthAudience == "" || cfg.AuthDomain == "") {
		return Config{}, errors.New("missing Auth0 config")
	}

	if cfg.DedupeTTL, err = envDur("DEDUPER_TTL", 24*time.Hour); err != nil {
		return Config{}, err
	}
	if cfg.CacheTTL, err = envDur("DIRECTORY_CACHE_TTL", 5*time.Minute); err != nil {
		return Config{}, err
	}
	if cfg.ToastTTL, err = envDur("TOAST_TTL", 5000*time.Millisecond); err != nil {
		return Config{}, err
	}
	if cfg.ToastStagger, err = envDur("TOAST_STAGGER", 100*time.Millisecond); err != nil {
		return Config{}, err
	}
	if cfg.HistoryCapacity, err = envInt("NOTIFICATION_HISTORY_SIZE", 20); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Tables returns the storage table and queue names.
func Tables() storage.Tables {
	return storage.Tables{
		Tasks:       envOr("TASKS_TABLE", "Tasks"),
		Movements:   envOr("MOVEMENTS_TABLE", "MovementLog"),
		Workspaces:  envOr("WORKSPACES_TABLE", "Workspaces"),
		Members:     envOr("MEMBERS_TABLE", "WorkspaceMembers"),
		Profiles:    envOr("PROFILES_TABLE", "Profiles"),
		ExportQueue: os.Getenv("MOVEMENT_EXPORT_QUEUE"),
	}
}

// RedisOptions parses the connection string either as a redis:// URL or in
// the "host:port,password=...,ssl=True" form.
func (c Config) RedisOptions() *redis.Options {
	return ParseRedis(c.RedisConnectionString)
}

func ParseRedis(conn string) *redis.Options {
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

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	if n <= 0 {
		return 0, fmt.Errorf("invalid %s: must be greater than zero", key)
	}
	return n, nil
}

func envDur(key string, def time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("invalid %s: must be greater than zero", key)
	}
	return d, nil
}
