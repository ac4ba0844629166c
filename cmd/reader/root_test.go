package main

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/cobra"

	"chapterwise/pkg/domain"
)

func testCommand(t *testing.T, flags map[string]string) *cobra.Command {
	t.Helper()
	cmd := &cobra.Command{Use: "test"}
	for _, name := range []string{"config", "api", "token", "log-level"} {
		cmd.Flags().String(name, "", "")
	}
	for k, v := range flags {
		if err := cmd.Flags().Set(k, v); err != nil {
			t.Fatalf("set %s: %v", k, err)
		}
	}
	return cmd
}

func TestLoadConfigPrecedence(t *testing.T) {
	path := filepath.Join(t.TempDir(), "reader.yaml")
	if err := os.WriteFile(path, []byte("apiURL: http://file\ntoken: file-token\n"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	t.Setenv("READER_API_URL", "http://env")
	t.Setenv("READER_TOKEN", "")

	cfg, err := loadConfig(testCommand(t, map[string]string{"config": path}))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.APIURL != "http://env" || cfg.Token != "file-token" || cfg.LogLevel != "warn" {
		t.Fatalf("cfg = %+v", cfg)
	}

	cfg, err = loadConfig(testCommand(t, map[string]string{"config": path, "api": "http://flag"}))
	if err != nil || cfg.APIURL != "http://flag" {
		t.Fatalf("flag override = %+v, %v", cfg, err)
	}
}

func TestLoadConfigMissingExplicitFile(t *testing.T) {
	_, err := loadConfig(testCommand(t, map[string]string{"config": filepath.Join(t.TempDir(), "nope.yaml")}))
	if err == nil {
		t.Fatalf("expected an error for a missing --config file")
	}
}

func TestProgressShowListsBooks(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/progress" || r.Header.Get("Authorization") == "" {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"success":false,"error":"unauthorized"}`))
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"success": true,
			"data":    []domain.Progress{{BookID: "dune", CurrentChapter: 3, TotalChapters: 12, ProgressPercentage: 25}},
		})
	}))
	defer srv.Close()

	// Unsigned token with subject "u1"; the server side does verification.
	token := "eyJhbGciOiJIUzI1NiIsInR5cCI6IkpXVCJ9.eyJzdWIiOiJ1MSJ9.c2ln"
	t.Setenv("READER_API_URL", "")
	t.Setenv("READER_TOKEN", "")
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs([]string{"progress", "show", "--api", srv.URL, "--token", token, "--config", writeEmptyConfig(t)})
	defer rootCmd.SetArgs(nil)
	if err := rootCmd.Execute(); err != nil {
		t.Fatalf("execute: %v", err)
	}
	if !strings.Contains(out.String(), "dune\tchapter 3 of 12 (25%)") {
		t.Fatalf("output = %q", out.String())
	}
}

func writeEmptyConfig(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "reader.yaml")
	if err := os.WriteFile(path, nil, 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	return path
}
