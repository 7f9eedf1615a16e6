package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func isolate(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	chdir(t, dir)
	t.Setenv("XDG_DATA_HOME", filepath.Join(dir, "data"))
	return dir
}

func TestParseDefaults(t *testing.T) {
	dir := isolate(t)

	cfg, err := Parse(nil)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if cfg.BaseURL != DefaultBaseURL {
		t.Fatalf("unexpected base url %q", cfg.BaseURL)
	}
	if cfg.Timeout != 90*time.Second {
		t.Fatalf("unexpected timeout %s", cfg.Timeout)
	}
	if cfg.BotName != "ChatCAG" || cfg.GlamourStyle != DefaultGlamourStyle {
		t.Fatalf("unexpected display defaults: %#v", cfg)
	}
	wantLog := filepath.Join(dir, "data", "ir-chat", "ir-chat.log")
	if cfg.LogFile != wantLog {
		t.Fatalf("log file: got %q want %q", cfg.LogFile, wantLog)
	}
	if _, err := os.Stat(filepath.Dir(wantLog)); err != nil {
		t.Fatalf("expected log dir to be created: %v", err)
	}
	if cfg.Headless() {
		t.Fatalf("no headless mode expected")
	}
}

func TestParseEnvThenFlags(t *testing.T) {
	isolate(t)
	t.Setenv("IRCHAT_BASE_URL", "https://answers.example.com/")
	t.Setenv("IRCHAT_IDENTITY", "env@example.com")
	t.Setenv("IRCHAT_ALLOWED_USERS", "a@example.com,b@example.com")
	t.Setenv("IRCHAT_TIMEOUT", "5s")

	cfg, err := Parse([]string{"-identity", "flag@example.com", "-ask", "hello"})
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if cfg.BaseURL != "https://answers.example.com" {
		t.Fatalf("expected trailing slash trimmed, got %q", cfg.BaseURL)
	}
	if cfg.Identity != "flag@example.com" {
		t.Fatalf("flag should override env, got %q", cfg.Identity)
	}
	if len(cfg.AllowedUsers) != 2 {
		t.Fatalf("unexpected allowed users: %#v", cfg.AllowedUsers)
	}
	if cfg.Timeout != 5*time.Second {
		t.Fatalf("unexpected timeout %s", cfg.Timeout)
	}
	if !cfg.Headless() || cfg.Ask != "hello" {
		t.Fatalf("expected ask mode, got %#v", cfg)
	}
}

func TestParseDotEnv(t *testing.T) {
	dir := isolate(t)
	if err := os.WriteFile(filepath.Join(dir, ".env"), []byte("IRCHAT_API_KEY=from-dotenv\n"), 0o644); err != nil {
		t.Fatalf("write .env: %v", err)
	}
	t.Setenv("IRCHAT_API_KEY", "")
	os.Unsetenv("IRCHAT_API_KEY")

	cfg, err := Parse(nil)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if cfg.APIKey != "from-dotenv" {
		t.Fatalf("expected api key from .env, got %q", cfg.APIKey)
	}
}

func TestParseRejectsBadInput(t *testing.T) {
	isolate(t)
	cases := [][]string{
		{"-base-url", "not a url"},
		{"-timeout", "-1s"},
		{"-ask", "q", "-batch", "questions.txt"},
		{"-no-such-flag"},
	}
	for _, args := range cases {
		if _, err := Parse(args); err == nil {
			t.Fatalf("expected error for args %v", args)
		}
	}
}

// chdir changes the working directory for the duration of the test and
// restores it on cleanup (equivalent to testing.T.Chdir from Go 1.24).
func chdir(t *testing.T, dir string) {
	t.Helper()
	old, err := os.Getwd()
	if err != nil {
		t.Fatalf("getwd: %v", err)
	}
	if err := os.Chdir(dir); err != nil {
		t.Fatalf("chdir: %v", err)
	}
	t.Cleanup(func() {
		if err := os.Chdir(old); err != nil {
			t.Errorf("restore working directory: %v", err)
		}
	})
}
