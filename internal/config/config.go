package config

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/caarlos0/env/v6"
	"github.com/joho/godotenv"
)

const (
	DefaultGlamourStyle = "dark"
	DefaultBaseURL      = "http://localhost:8000"
)

type AppConfig struct {
	BaseURL  string `env:"IRCHAT_BASE_URL" envDefault:"http://localhost:8000"`
	APIKey   string `env:"IRCHAT_API_KEY"`
	Identity string `env:"IRCHAT_IDENTITY"`

	AllowedUsers   []string `env:"IRCHAT_ALLOWED_USERS" envSeparator:","`
	AllowedDomains []string `env:"IRCHAT_ALLOWED_DOMAINS" envSeparator:","`
	AllowlistPath  string   `env:"IRCHAT_ALLOWLIST"`

	Timeout           time.Duration `env:"IRCHAT_TIMEOUT" envDefault:"90s"`
	RequestsPerSecond float64       `env:"IRCHAT_RPS" envDefault:"0"`

	ExportDir string `env:"IRCHAT_EXPORT_DIR"`
	LogFile   string `env:"IRCHAT_LOG_FILE"`
	Debug     bool   `env:"IRCHAT_DEBUG"`

	BotName      string `env:"IRCHAT_BOT_NAME" envDefault:"ChatCAG"`
	UserName     string `env:"IRCHAT_USER_NAME" envDefault:"You"`
	GlamourStyle string `env:"IRCHAT_GLAMOUR_STYLE" envDefault:"dark"`
	Plain        bool   `env:"IRCHAT_PLAIN"`

	// Headless modes; at most one is set.
	Ask        string
	BatchFile  string
	UploadFile string
}

func (c AppConfig) Headless() bool {
	return c.Ask != "" || c.BatchFile != "" || c.UploadFile != ""
}

// Parse loads .env (if present), then the environment, then command line
// flags, each layer overriding the previous one.
func Parse(args []string) (AppConfig, error) {
	var cfg AppConfig

	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return cfg, fmt.Errorf("load .env: %w", err)
	}
	if err := env.Parse(&cfg); err != nil {
		return cfg, fmt.Errorf("parse environment: %w", err)
	}

	fset := flag.NewFlagSet("ir-chat", flag.ContinueOnError)
	fset.SetOutput(io.Discard)
	fset.StringVar(&cfg.BaseURL, "base-url", cfg.BaseURL, "answer service base URL")
	fset.StringVar(&cfg.APIKey, "api-key", cfg.APIKey, "value sent in the x-api-key header")
	fset.StringVar(&cfg.Identity, "identity", cfg.Identity, "signed-in user e-mail")
	fset.StringVar(&cfg.AllowlistPath, "allowlist", cfg.AllowlistPath, "path to TOML allow-list")
	fset.DurationVar(&cfg.Timeout, "timeout", cfg.Timeout, "per-question request timeout (0 disables)")
	fset.Float64Var(&cfg.RequestsPerSecond, "rps", cfg.RequestsPerSecond, "max outbound requests per second (0 disables)")
	fset.StringVar(&cfg.ExportDir, "export-dir", cfg.ExportDir, "directory for exports and downloads")
	fset.StringVar(&cfg.LogFile, "log-file", cfg.LogFile, "diagnostic log file")
	fset.BoolVar(&cfg.Debug, "debug", cfg.Debug, "log at debug level")
	fset.StringVar(&cfg.GlamourStyle, "style", cfg.GlamourStyle, "glamour style for transcript rendering")
	fset.BoolVar(&cfg.Plain, "plain", cfg.Plain, "render transcript without markdown styling")
	fset.StringVar(&cfg.Ask, "ask", "", "ask one question, print the answer and exit")
	fset.StringVar(&cfg.BatchFile, "batch", "", "ask every question of a .txt/.csv file and print the transcript")
	fset.StringVar(&cfg.UploadFile, "upload", "", "upload a .xlsx/.docx/.pdf question file and exit")
	if err := fset.Parse(args); err != nil {
		return cfg, fmt.Errorf("parse flags: %w", err)
	}

	if err := cfg.finish(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func (c *AppConfig) finish() error {
	c.BaseURL = strings.TrimRight(strings.TrimSpace(c.BaseURL), "/")
	if c.BaseURL == "" {
		c.BaseURL = DefaultBaseURL
	}
	u, err := url.Parse(c.BaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("invalid base URL %q", c.BaseURL)
	}
	if c.Timeout < 0 {
		return fmt.Errorf("timeout must not be negative, got %s", c.Timeout)
	}
	if c.RequestsPerSecond < 0 {
		return fmt.Errorf("rps must not be negative, got %v", c.RequestsPerSecond)
	}

	modes := 0
	for _, v := range []string{c.Ask, c.BatchFile, c.UploadFile} {
		if strings.TrimSpace(v) != "" {
			modes++
		}
	}
	if modes > 1 {
		return errors.New("-ask, -batch and -upload are mutually exclusive")
	}

	if c.GlamourStyle == "" {
		c.GlamourStyle = DefaultGlamourStyle
	}

	if c.ExportDir == "" {
		cwd, err := os.Getwd()
		if err != nil {
			return fmt.Errorf("resolve cwd: %w", err)
		}
		c.ExportDir = cwd
	}

	if c.LogFile == "" {
		dir, err := DataDir()
		if err != nil {
			return err
		}
		c.LogFile = filepath.Join(dir, "ir-chat.log")
	}
	if err := os.MkdirAll(filepath.Dir(c.LogFile), 0o755); err != nil {
		return fmt.Errorf("create log dir: %w", err)
	}
	return nil
}

// DataDir is where ir-chat keeps its own files unless told otherwise.
func DataDir() (string, error) {
	if fromEnv := os.Getenv("XDG_DATA_HOME"); fromEnv != "" {
		return filepath.Join(filepath.Clean(fromEnv), "ir-chat"), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home directory: %w", err)
	}
	return filepath.Join(home, ".local", "share", "ir-chat"), nil
}
