// Package cli wires the commands: login, chat, requests, pay, unread and
// the stub backend.
package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/medilink-health/medilink-cli/internal/auth"
	"github.com/medilink-health/medilink-cli/internal/config"
	"github.com/medilink-health/medilink-cli/internal/rest"
)

var (
	cfg    *config.Config
	logger *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:   "medilink",
	Short: "Terminal client for the MediLink telehealth backend",
	Long: `medilink is a terminal client for the MediLink telehealth backend:
log in, chat with your doctor or patients in real time, manage chat
requests and payments.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load()
		if err != nil {
			return err
		}

		if cfg.IsDevelopment() {
			logger, err = zap.NewDevelopment()
		} else {
			logger, err = zap.NewProduction()
		}
		if err != nil {
			return fmt.Errorf("init logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

// Execute runs the command tree.
func Execute() error {
	return rootCmd.Execute()
}

func tokenStore() (*auth.Store, error) {
	path, err := cfg.TokenFile()
	if err != nil {
		return nil, err
	}
	return auth.NewStore(path), nil
}

// apiClient builds a REST client that reads the persisted token per
// request. It works logged out too; endpoints needing auth will refuse.
func apiClient() (*rest.Client, error) {
	store, err := tokenStore()
	if err != nil {
		return nil, err
	}
	bearer := func() string {
		tok, err := store.Load()
		if err != nil {
			return ""
		}
		return tok.Bearer
	}
	return rest.NewClient(cfg, bearer, logger), nil
}

// identity loads the saved token and the claims inside it.
func identity() (*auth.Claims, string, error) {
	store, err := tokenStore()
	if err != nil {
		return nil, "", err
	}
	tok, err := store.Load()
	if err != nil {
		if errors.Is(err, auth.ErrNotLoggedIn) {
			return nil, "", errors.New("not logged in, run: medilink login")
		}
		return nil, "", err
	}
	claims, err := auth.ParseClaims(tok.Bearer)
	if err != nil {
		return nil, "", fmt.Errorf("stored token unreadable, log in again: %w", err)
	}
	return claims, tok.Bearer, nil
}
