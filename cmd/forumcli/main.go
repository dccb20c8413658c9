package main

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"forum-client/internal/config"
	"forum-client/internal/credentials"
	"forum-client/internal/envelope"
	"forum-client/internal/forum"
	"forum-client/internal/transport"
)

var rootCmd = &cobra.Command{
	Use:           "forumcli",
	Short:         "Command-line client for the forum service",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func loadConfig() (config.Config, error) {
	return config.LoadConfig()
}

func setupLogging(cfg config.Config) {
	var level slog.Level
	switch cfg.LogLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
}

// session wires the envelope codec, the persistent credential store and the
// transport pipeline into one client surface for the subcommands.
type session struct {
	cfg   config.Config
	creds *credentials.SQLiteStore
	svc   *forum.Service
}

func openSession() (*session, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	setupLogging(cfg)

	codec, err := envelope.NewCodec(cfg.EnvelopeKey, cfg.EnvelopeIV)
	if err != nil {
		return nil, fmt.Errorf("envelope config: %w", err)
	}

	dbPath := cfg.CredentialsDB
	if dbPath == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, err
		}
		dbPath = filepath.Join(home, ".forumcli", "credentials.db")
	}
	creds, err := credentials.OpenSQLite(dbPath)
	if err != nil {
		return nil, fmt.Errorf("open credential store: %w", err)
	}

	pipe := transport.New(transport.Options{
		BaseURL:        cfg.APIBaseURL,
		Codec:          codec,
		Credentials:    creds,
		RefreshTimeout: cfg.RefreshTimeout,
	})
	return &session{
		cfg:   cfg,
		creds: creds,
		svc:   forum.NewService(pipe, creds),
	}, nil
}

func (s *session) close() {
	if err := s.creds.Close(); err != nil {
		slog.Warn("closing credential store", "error", err)
	}
}
