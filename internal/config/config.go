package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	StorePostgres = "postgres"
	StoreMemory   = "memory"

	defaultHistoryLimit  = 100
	defaultStatsInterval = time.Minute
)

type Config struct {
	ListenAddr     string
	Store          string
	DBURL          string
	RedisURL       string
	NATSURL        string
	TLSCertPath    string
	TLSKeyPath     string
	HistoryLimit   int
	AllowedOrigins []string
	StatsInterval  time.Duration
	SeedFile       string
}

// LoadDotEnv loads variables from path into the environment without
// overriding ones already set. A missing file is not an error.
func LoadDotEnv(path string) error {
	if path == "" {
		path = ".env"
	}
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

func LoadFromEnv() (Config, error) {
	cfg := Config{
		ListenAddr:    ":8080",
		Store:         StorePostgres,
		DBURL:         os.Getenv("CHAT_DB_URL"),
		RedisURL:      os.Getenv("CHAT_REDIS_URL"),
		NATSURL:       os.Getenv("CHAT_NATS_URL"),
		TLSCertPath:   os.Getenv("CHAT_TLS_CERT"),
		TLSKeyPath:    os.Getenv("CHAT_TLS_KEY"),
		HistoryLimit:  defaultHistoryLimit,
		StatsInterval: defaultStatsInterval,
		SeedFile:      os.Getenv("CHAT_SEED_FILE"),
	}

	if v := os.Getenv("CHAT_LISTEN_ADDR"); v != "" {
		cfg.ListenAddr = v
	}
	if v := os.Getenv("CHAT_STORE"); v != "" {
		cfg.Store = strings.ToLower(strings.TrimSpace(v))
	}
	if v := os.Getenv("CHAT_HISTORY_LIMIT"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return Config{}, errors.New("history limit must be an integer")
		}
		cfg.HistoryLimit = n
	}
	if v := os.Getenv("CHAT_STATS_INTERVAL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return Config{}, errors.New("stats interval must be a duration such as 30s")
		}
		cfg.StatsInterval = d
	}
	if v := os.Getenv("CHAT_ALLOWED_ORIGINS"); v != "" {
		for _, origin := range strings.Split(v, ",") {
			if origin = strings.TrimSpace(origin); origin != "" {
				cfg.AllowedOrigins = append(cfg.AllowedOrigins, origin)
			}
		}
	}

	return cfg, nil
}

func (c Config) Validate() error {
	if c.ListenAddr == "" {
		return errors.New("listen addr is required")
	}
	switch c.Store {
	case StorePostgres:
		if c.DBURL == "" {
			return errors.New("db url is required for the postgres store")
		}
	case StoreMemory:
	default:
		return fmt.Errorf("unknown store %q (want postgres or memory)", c.Store)
	}
	if c.HistoryLimit <= 0 {
		return errors.New("history limit must be positive")
	}
	if c.StatsInterval < 0 {
		return errors.New("stats interval must not be negative")
	}
	if (c.TLSCertPath == "") != (c.TLSKeyPath == "") {
		return errors.New("both tls cert and key are required when enabling tls")
	}
	return nil
}
