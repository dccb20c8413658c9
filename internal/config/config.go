package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Static envelope material from the service deployment. Overridable per
// environment via FORUM_ENVELOPE_KEY / FORUM_ENVELOPE_IV.
const (
	DefaultEnvelopeKey = "TT0f3nXw0pR75WjaH+EPlgO5zNsJQXPfnrNyE22WmU0="
	DefaultEnvelopeIV  = "8okrJwKt63217HK/B9RGkg=="
)

type Config struct {
	APIBaseURL     string
	SocketURL      string
	EnvelopeKey    string
	EnvelopeIV     string
	CredentialsDB  string
	PageSize       int
	RefreshTimeout time.Duration
	LogLevel       string
}

type Env interface {
	Getenv(key string) string
}

type osEnv struct{}

func (osEnv) Getenv(key string) string { return os.Getenv(key) }

func LoadConfig() (Config, error) {
	return LoadConfigFromEnv(osEnv{})
}

func LoadConfigFromEnv(env Env) (Config, error) {
	cfg := Config{
		APIBaseURL:     "http://localhost:3000",
		EnvelopeKey:    DefaultEnvelopeKey,
		EnvelopeIV:     DefaultEnvelopeIV,
		PageSize:       20,
		RefreshTimeout: 15 * time.Second,
		LogLevel:       "info",
	}

	if raw := env.Getenv("FORUM_API_BASE_URL"); raw != "" {
		cfg.APIBaseURL = raw
	}

	// The push endpoint shares the API host unless pointed elsewhere.
	cfg.SocketURL = cfg.APIBaseURL
	if raw := env.Getenv("FORUM_SOCKET_URL"); raw != "" {
		cfg.SocketURL = raw
	}

	if raw := env.Getenv("FORUM_ENVELOPE_KEY"); raw != "" {
		cfg.EnvelopeKey = raw
	}
	if raw := env.Getenv("FORUM_ENVELOPE_IV"); raw != "" {
		cfg.EnvelopeIV = raw
	}

	cfg.CredentialsDB = env.Getenv("FORUM_CREDENTIALS_DB")

	if raw := env.Getenv("FORUM_PAGE_SIZE"); raw != "" {
		size, err := strconv.Atoi(raw)
		if err != nil || size <= 0 {
			return Config{}, fmt.Errorf("invalid FORUM_PAGE_SIZE")
		}
		cfg.PageSize = size
	}

	if raw := env.Getenv("FORUM_REFRESH_TIMEOUT_SECONDS"); raw != "" {
		seconds, err := strconv.Atoi(raw)
		if err != nil || seconds <= 0 {
			return Config{}, fmt.Errorf("invalid FORUM_REFRESH_TIMEOUT_SECONDS")
		}
		cfg.RefreshTimeout = time.Duration(seconds) * time.Second
	}

	switch raw := env.Getenv("FORUM_LOG_LEVEL"); raw {
	case "":
	case "debug", "info", "warn", "error":
		cfg.LogLevel = raw
	default:
		return Config{}, fmt.Errorf("invalid FORUM_LOG_LEVEL")
	}

	return cfg, nil
}
