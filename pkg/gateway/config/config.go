package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Addr string

	// Deepgram credentials, shared by live transcription and Aura TTS.
	DeepgramAPIKey string

	// Oracle (OpenAI-compatible chat completions).
	OracleBaseURL string
	OracleAPIKey  string
	OracleModel   string
	OracleTimeout time.Duration

	// Session registry.
	BriefThrottle     time.Duration
	FragmentRetention int
	EndedRetention    time.Duration

	// Event hub.
	EventQueueSize int

	// Media relay.
	RelayTeardownTimeout time.Duration

	// Subscriber websocket.
	WSPingInterval time.Duration
	WSWriteTimeout time.Duration

	// Operational defaults.
	ReadHeaderTimeout   time.Duration
	ShutdownGracePeriod time.Duration
}

func LoadFromEnv() (Config, error) {
	cfg := Config{
		Addr:                 envOr("MURMUR_ADDR", ":8080"),
		DeepgramAPIKey:       strings.TrimSpace(os.Getenv("MURMUR_DEEPGRAM_API_KEY")),
		OracleBaseURL:        envOr("MURMUR_ORACLE_BASE_URL", "https://api.openai.com"),
		OracleAPIKey:         strings.TrimSpace(os.Getenv("MURMUR_ORACLE_API_KEY")),
		OracleModel:          envOr("MURMUR_ORACLE_MODEL", "gpt-4-turbo-preview"),
		OracleTimeout:        envDurationOr("MURMUR_ORACLE_TIMEOUT", 15*time.Second),
		BriefThrottle:        envDurationOr("MURMUR_BRIEF_THROTTLE", 30*time.Second),
		FragmentRetention:    envIntOr("MURMUR_FRAGMENT_RETENTION", 200),
		EndedRetention:       envDurationOr("MURMUR_ENDED_SESSION_RETENTION", 5*time.Minute),
		EventQueueSize:       envIntOr("MURMUR_EVENT_QUEUE_SIZE", 64),
		RelayTeardownTimeout: envDurationOr("MURMUR_RELAY_TEARDOWN_TIMEOUT", 5*time.Second),
		WSPingInterval:       envDurationOr("MURMUR_WS_PING_INTERVAL", 20*time.Second),
		WSWriteTimeout:       envDurationOr("MURMUR_WS_WRITE_TIMEOUT", 5*time.Second),
		ReadHeaderTimeout:    envDurationOr("MURMUR_READ_HEADER_TIMEOUT", 10*time.Second),
		ShutdownGracePeriod:  envDurationOr("MURMUR_SHUTDOWN_GRACE_PERIOD", 30*time.Second),
	}

	if strings.TrimSpace(cfg.Addr) == "" {
		return Config{}, fmt.Errorf("MURMUR_ADDR must not be empty")
	}
	if strings.TrimSpace(cfg.OracleBaseURL) == "" {
		return Config{}, fmt.Errorf("MURMUR_ORACLE_BASE_URL must not be empty")
	}
	if strings.TrimSpace(cfg.OracleModel) == "" {
		return Config{}, fmt.Errorf("MURMUR_ORACLE_MODEL must not be empty")
	}
	if cfg.OracleTimeout <= 0 {
		return Config{}, fmt.Errorf("MURMUR_ORACLE_TIMEOUT must be > 0")
	}
	if cfg.BriefThrottle <= 0 {
		return Config{}, fmt.Errorf("MURMUR_BRIEF_THROTTLE must be > 0")
	}
	if cfg.FragmentRetention <= 0 {
		return Config{}, fmt.Errorf("MURMUR_FRAGMENT_RETENTION must be > 0")
	}
	if cfg.EndedRetention <= 0 {
		return Config{}, fmt.Errorf("MURMUR_ENDED_SESSION_RETENTION must be > 0")
	}
	if cfg.EventQueueSize <= 0 {
		return Config{}, fmt.Errorf("MURMUR_EVENT_QUEUE_SIZE must be > 0")
	}
	if cfg.RelayTeardownTimeout <= 0 {
		return Config{}, fmt.Errorf("MURMUR_RELAY_TEARDOWN_TIMEOUT must be > 0")
	}
	if cfg.WSPingInterval <= 0 {
		return Config{}, fmt.Errorf("MURMUR_WS_PING_INTERVAL must be > 0")
	}
	if cfg.WSWriteTimeout <= 0 {
		return Config{}, fmt.Errorf("MURMUR_WS_WRITE_TIMEOUT must be > 0")
	}
	if cfg.ReadHeaderTimeout <= 0 {
		return Config{}, fmt.Errorf("MURMUR_READ_HEADER_TIMEOUT must be > 0")
	}
	if cfg.ShutdownGracePeriod <= 0 {
		return Config{}, fmt.Errorf("MURMUR_SHUTDOWN_GRACE_PERIOD must be > 0")
	}

	return cfg, nil
}

func envOr(key, def string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	return v
}

func envIntOr(key string, def int) int {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return n
}

func envDurationOr(key string, def time.Duration) time.Duration {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return def
	}
	return d
}
