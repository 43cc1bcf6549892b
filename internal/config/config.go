// internal/config/config.go
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/jason-s-yu/ladder/internal/queue"
	_ "github.com/joho/godotenv/autoload"
)

// Config is the runtime configuration of the ladder service, read from the
// environment (and a .env file, if present).
type Config struct {
	ListenAddr string
	LogLevel   string

	// StoreBackend is one of memory, redis, postgres or sqlite.
	StoreBackend string
	SQLitePath   string
	RedisAddr    string
	RedisDB      int

	// EventQueue is the Redis list match events are pushed to. Events are
	// disabled when EventsEnabled is false.
	EventsEnabled bool
	EventQueue    string

	Queues        []queue.Config
	LadderK       float64
	RatingScale   float64
	InitialRating int

	MinMatchDuration time.Duration
	StartTimeout     time.Duration
	ResultTimeout    time.Duration
	HistoryLimit     int

	AdminIDs []string

	TokenPrivateKeyPath string
	TokenPublicKeyPath  string

	DiscordToken    string
	DiscordChannels map[string]string // guild -> match channel
}

// DefaultQueues is used when QUEUES is unset.
const DefaultQueues = "sixmans:3:captains:50,solo:1:random:50"

// Load reads the configuration from the environment.
func Load() (*Config, error) {
	queues, err := ParseQueues(getEnv("QUEUES", DefaultQueues))
	if err != nil {
		return nil, err
	}
	channels, err := parsePairs(os.Getenv("DISCORD_CHANNELS"))
	if err != nil {
		return nil, fmt.Errorf("DISCORD_CHANNELS: %w", err)
	}

	cfg := &Config{
		ListenAddr:          getEnv("LISTEN_ADDR", ":8080"),
		LogLevel:            getEnv("LOG_LEVEL", "info"),
		StoreBackend:        strings.ToLower(getEnv("STORE_BACKEND", "memory")),
		SQLitePath:          getEnv("SQLITE_PATH", "ladder.db"),
		RedisAddr:           getEnv("REDIS_ADDR", "localhost:6379"),
		RedisDB:             getEnvInt("REDIS_DB", 0),
		EventsEnabled:       getEnvBool("EVENTS_ENABLED", false),
		EventQueue:          getEnv("HISTORIAN_QUEUE_NAME", ""),
		Queues:              queues,
		LadderK:             getEnvFloat("LADDER_K", 40),
		RatingScale:         getEnvFloat("RATING_SCALE", 400),
		InitialRating:       getEnvInt("INITIAL_RATING", 1500),
		MinMatchDuration:    getEnvDuration("MIN_MATCH_DURATION", 10*time.Minute),
		StartTimeout:        getEnvDuration("START_CONFIRM_TIMEOUT", 5*time.Minute),
		ResultTimeout:       getEnvDuration("RESULT_CONFIRM_TIMEOUT", 5*time.Minute),
		HistoryLimit:        getEnvInt("HISTORY_LIMIT", 500),
		AdminIDs:            splitList(os.Getenv("ADMIN_IDS")),
		TokenPrivateKeyPath: os.Getenv("TOKEN_PRIVATE_KEY"),
		TokenPublicKeyPath:  os.Getenv("TOKEN_PUBLIC_KEY"),
		DiscordToken:        os.Getenv("DISCORD_TOKEN"),
		DiscordChannels:     channels,
	}
	switch cfg.StoreBackend {
	case "memory", "redis", "postgres", "sqlite":
	default:
		return nil, fmt.Errorf("STORE_BACKEND: unknown backend %q", cfg.StoreBackend)
	}
	return cfg, nil
}

// ParseQueues parses "id:teamSize:policy:k[:maxSize]" entries separated by commas.
func ParseQueues(s string) ([]queue.Config, error) {
	var out []queue.Config
	for _, entry := range splitList(s) {
		parts := strings.Split(entry, ":")
		if len(parts) < 4 || len(parts) > 5 {
			return nil, fmt.Errorf("queue %q: want id:teamSize:policy:k[:maxSize]", entry)
		}
		size, err := strconv.Atoi(parts[1])
		if err != nil {
			return nil, fmt.Errorf("queue %q: team size: %w", entry, err)
		}
		k, err := strconv.ParseFloat(parts[3], 64)
		if err != nil {
			return nil, fmt.Errorf("queue %q: k: %w", entry, err)
		}
		c := queue.Config{ID: parts[0], TeamSize: size, Policy: queue.Policy(parts[2]), K: k}
		if len(parts) == 5 {
			if c.MaxSize, err = strconv.Atoi(parts[4]); err != nil {
				return nil, fmt.Errorf("queue %q: max size: %w", entry, err)
			}
		}
		if err := c.Validate(); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, nil
}

func parsePairs(s string) (map[string]string, error) {
	out := map[string]string{}
	for _, entry := range splitList(s) {
		k, v, ok := strings.Cut(entry, ":")
		if !ok || k == "" || v == "" {
			return nil, fmt.Errorf("entry %q: want key:value", entry)
		}
		out[k] = v
	}
	return out, nil
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// getEnv reads an environment variable or returns def.
func getEnv(key, def string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return def
}

// getEnvInt parses an environment variable as an integer, else returns def.
func getEnvInt(key string, def int) int {
	v, err := strconv.Atoi(os.Getenv(key))
	if err != nil {
		return def
	}
	return v
}

func getEnvFloat(key string, def float64) float64 {
	v, err := strconv.ParseFloat(os.Getenv(key), 64)
	if err != nil {
		return def
	}
	return v
}

func getEnvBool(key string, def bool) bool {
	v, err := strconv.ParseBool(os.Getenv(key))
	if err != nil {
		return def
	}
	return v
}

func getEnvDuration(key string, def time.Duration) time.Duration {
	v, err := time.ParseDuration(os.Getenv(key))
	if err != nil {
		return def
	}
	return v
}
