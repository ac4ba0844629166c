package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"chapterwise/internal/util"
	"chapterwise/pkg/apiclient"
	"chapterwise/pkg/bookview"
	"chapterwise/pkg/session"
)

// readerConfig is the optional ~/.config/chapterwise/reader.yaml.
type readerConfig struct {
	APIURL   string `yaml:"apiURL"`
	Token    string `yaml:"token"`
	LogLevel string `yaml:"logLevel"`
}

var rootCmd = &cobra.Command{
	Use:           "reader",
	Short:         "Spoiler-safe reading companion",
	Long:          "reader tracks how far you are in a book and answers questions using only the chapters you have read.",
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the CLI; SIGINT cancels the command context.
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	return rootCmd.ExecuteContext(ctx)
}

func init() {
	rootCmd.PersistentFlags().String("config", "", "Path to reader.yaml (default $XDG_CONFIG_HOME/chapterwise/reader.yaml)")
	rootCmd.PersistentFlags().String("api", "", "API base URL (overrides READER_API_URL)")
	rootCmd.PersistentFlags().String("token", "", "Access token (overrides READER_TOKEN)")
	rootCmd.PersistentFlags().String("log-level", "", "debug, info, warn or error")

	rootCmd.AddCommand(progressCmd)
	rootCmd.AddCommand(askCmd)
	rootCmd.AddCommand(historyCmd)
}

// loadConfig resolves settings from flags first, then environment, then file.
func loadConfig(cmd *cobra.Command) (readerConfig, error) {
	cfg := readerConfig{}
	path, _ := cmd.Flags().GetString("config")
	explicit := path != ""
	if !explicit {
		dir, err := os.UserConfigDir()
		if err == nil {
			path = filepath.Join(dir, "chapterwise", "reader.yaml")
		}
	}
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return cfg, fmt.Errorf("parse %s: %w", path, err)
			}
		case explicit || !errors.Is(err, os.ErrNotExist):
			return cfg, fmt.Errorf("read %s: %w", path, err)
		}
	}
	if v := strings.TrimSpace(os.Getenv("READER_API_URL")); v != "" {
		cfg.APIURL = v
	}
	if v := strings.TrimSpace(os.Getenv("READER_TOKEN")); v != "" {
		cfg.Token = v
	}
	if v, _ := cmd.Flags().GetString("api"); v != "" {
		cfg.APIURL = v
	}
	if v, _ := cmd.Flags().GetString("token"); v != "" {
		cfg.Token = v
	}
	if v, _ := cmd.Flags().GetString("log-level"); v != "" {
		cfg.LogLevel = v
	}
	if cfg.APIURL == "" {
		cfg.APIURL = "http://localhost:8080"
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "warn"
	}
	return cfg, nil
}

// newClient returns an API client; a missing token yields a signed-out client.
func newClient(cmd *cobra.Command) (*apiclient.Client, session.Credentials, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, nil, err
	}
	logger := util.InitTextLogger(cfg.LogLevel)
	creds := session.NewMemory(nil)
	if cfg.Token != "" {
		creds, err = session.FromToken(cfg.Token, nil)
		if err != nil {
			return nil, nil, fmt.Errorf("invalid token: %w", err)
		}
	}
	return apiclient.NewClient(cfg.APIURL, creds, apiclient.WithLogger(logger)), creds, nil
}

func openBook(cmd *cobra.Command, bookID string) (*bookview.View, error) {
	client, creds, err := newClient(cmd)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
	defer cancel()
	view, err := bookview.Open(ctx, bookID, bookview.Config{
		Backend:     client,
		Credentials: creds,
	})
	if errors.Is(err, apiclient.ErrAuthRequired) {
		return nil, errors.New("not signed in: pass --token or set READER_TOKEN")
	}
	return view, err
}
