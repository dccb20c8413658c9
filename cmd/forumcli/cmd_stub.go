package main

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/spf13/cobra"

	"forum-client/internal/envelope"
	"forum-client/internal/stubserver"
)

func init() {
	rootCmd.AddCommand(stubCmd)
	stubCmd.Flags().IntVar(&stubPort, "port", 3000, "port to listen on")
	stubCmd.Flags().StringVar(&stubSecret, "secret", "stub-secret", "token signing secret")
	stubCmd.Flags().BoolVar(&stubSeed, "seed", true, "seed a demo user and category")
}

var (
	stubPort   int
	stubSecret string
	stubSeed   bool
)

var stubCmd = &cobra.Command{
	Use:   "stub",
	Short: "Run a local stand-in forum server for development",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		setupLogging(cfg)

		codec, err := envelope.NewCodec(cfg.EnvelopeKey, cfg.EnvelopeIV)
		if err != nil {
			return fmt.Errorf("envelope config: %w", err)
		}

		srv := stubserver.New(stubserver.Options{
			Codec:    codec,
			Secret:   stubSecret,
			PageSize: cfg.PageSize,
		})
		if stubSeed {
			store := srv.Store()
			store.AddUser("demo", "demo@example.com", "demo", true)
			store.AddCategory("general", "General discussion")
			slog.Info("seeded demo user", "email", "demo@example.com", "password", "demo")
		}

		addr := fmt.Sprintf(":%d", stubPort)
		slog.Info("stub forum server listening", "addr", addr)
		if err := http.ListenAndServe(addr, srv.Handler()); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	},
}
