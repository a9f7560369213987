package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

const (
	defaultLookbackMinutes = 15
	defaultRetryBaseDelay  = 1.0
	defaultNotifyTimeout   = 30
	defaultSettleSeconds   = 120
	defaultBrowserTimeout  = 60

	DefaultScheduleTime = "05:00"
	DefaultTimezone     = "Europe/Chisinau"
)

// Cleanup modes for matched evidence
const (
	CleanupGmailTrash = "gmail-trash"
	CleanupMove       = "move"
	CleanupDelete     = "delete"
)

func checkFilePermissions(path string) error {
	if runtime.GOOS == "windows" {
		return nil
	}
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	if perm := info.Mode().Perm(); perm&0077 != 0 {
		return fmt.Errorf("env file %s has insecure permissions %04o; should be 0600", path, perm)
	}
	return nil
}

// Config is built once at process start and handed to every component.
type Config struct {
	Inbox    InboxConfig
	Notify   NotifyConfig
	Fallback FallbackConfig
	Schedule ScheduleConfig
	Browser  BrowserConfig

	LogDir      string `validate:"required"`
	LogLevel    string `validate:"oneof=debug info warn warning error"`
	CatalogFile string
	HistoryDB   string `validate:"required"`
	MetricsAddr string
}

// InboxConfig holds IMAP settings for the monitored mailbox
type InboxConfig struct {
	Server          string `validate:"required"`
	Port            int    `validate:"min=1,max=65535"`
	Email           string
	Password        string
	Folder          string `validate:"required"`
	LookbackMinutes int    `validate:"min=1"`
	DeleteMatched   bool
	CleanupMode     string `validate:"oneof=gmail-trash move delete"`
	ArchiveFolder   string
}

// Lookback returns the configured lookback window.
func (c InboxConfig) Lookback() time.Duration {
	return time.Duration(c.LookbackMinutes) * time.Minute
}

// NotifyConfig holds the Telegram delivery settings
type NotifyConfig struct {
	Token      string
	ChatID     string
	APIBase    string        `validate:"required,url"`
	MaxRetries int           `validate:"min=1"`
	BaseDelay  time.Duration `validate:"gte=0"`
	Timeout    time.Duration `validate:"gt=0"`
}

// FallbackConfig selects the email channel used when Telegram delivery fails.
type FallbackConfig struct {
	Provider string `validate:"omitempty,oneof=smtp resend sendgrid"`
	To       string
	From     string
	APIKey   string
	SMTP     SMTPConfig
}

type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
}

// ScheduleConfig holds the daily run settings. Time is validated by the
// scheduler itself, which falls back to DefaultScheduleTime.
type ScheduleConfig struct {
	Time        string
	Timezone    string
	RunOnStart  bool
	SettleDelay time.Duration `validate:"gte=0"`
}

// BrowserConfig holds settings for the form submitter
type BrowserConfig struct {
	Headless bool
	Timeout  time.Duration `validate:"gt=0"`
}

// Load reads an optional .env file and then the process environment.
// Malformed values fall back to their defaults; each fallback is reported in
// the returned warnings so the caller can log them once logging is set up.
func Load() (*Config, []string, error) {
	var warnings []string

	if _, err := os.Stat(".env"); err == nil {
		if err := checkFilePermissions(".env"); err != nil {
			warnings = append(warnings, err.Error())
		}
		if err := godotenv.Load(); err != nil {
			return nil, nil, fmt.Errorf("failed to read .env file: %w", err)
		}
	}

	env := &envReader{}
	logDir := env.getString("LOG_DIR", "logs")

	cfg := &Config{
		Inbox: InboxConfig{
			Server:          env.getString("IMAP_SERVER", "imap.gmail.com"),
			Port:            env.getInt("IMAP_PORT", 993),
			Email:           env.getString("EMAIL_ACCOUNT", ""),
			Password:        env.getString("EMAIL_PASSWORD", ""),
			Folder:          env.getString("IMAP_FOLDER", "INBOX"),
			LookbackMinutes: env.getInt("LOOKBACK_MINUTES", defaultLookbackMinutes),
			DeleteMatched:   env.getEnabled("DELETE_AFTER_PROCESSING", true),
			CleanupMode:     strings.ToLower(env.getString("CLEANUP_MODE", CleanupGmailTrash)),
			ArchiveFolder:   env.getString("ARCHIVE_FOLDER", "[Gmail]/Trash"),
		},
		Notify: NotifyConfig{
			Token:      env.getString("TELEGRAM_TOKEN", ""),
			ChatID:     env.getString("TELEGRAM_CHAT_ID", ""),
			APIBase:    strings.TrimRight(env.getString("TELEGRAM_API_BASE", "https://api.telegram.org"), "/"),
			MaxRetries: env.getInt("NOTIFY_MAX_RETRIES", 3),
			BaseDelay:  env.getSeconds("NOTIFY_RETRY_BASE_DELAY", defaultRetryBaseDelay),
			Timeout:    env.getSeconds("NOTIFY_TIMEOUT", defaultNotifyTimeout),
		},
		Fallback: FallbackConfig{
			Provider: strings.ToLower(env.getString("FALLBACK_PROVIDER", "")),
			To:       env.getString("FALLBACK_TO", ""),
			From:     env.getString("FALLBACK_FROM", ""),
			APIKey:   env.getString("FALLBACK_API_KEY", ""),
			SMTP: SMTPConfig{
				Host:     env.getString("SMTP_HOST", ""),
				Port:     env.getInt("SMTP_PORT", 587),
				Username: env.getString("SMTP_USERNAME", ""),
				Password: env.getString("SMTP_PASSWORD", ""),
			},
		},
		Schedule: ScheduleConfig{
			Time:        env.getString("SCHEDULE_TIME", DefaultScheduleTime),
			Timezone:    env.getString("SCHEDULE_TZ", DefaultTimezone),
			RunOnStart:  env.getBool("RUN_ON_START", false),
			SettleDelay: env.getSeconds("SETTLE_SECONDS", defaultSettleSeconds),
		},
		Browser: BrowserConfig{
			Headless: env.getBool("HEADLESS", true),
			Timeout:  env.getSeconds("BROWSER_TIMEOUT", defaultBrowserTimeout),
		},
		LogDir:      logDir,
		LogLevel:    strings.ToLower(env.getString("LOG_LEVEL", "info")),
		CatalogFile: env.getString("CATALOG_FILE", ""),
		HistoryDB:   env.getString("HISTORY_DB", filepath.Join(logDir, "history.db")),
		MetricsAddr: env.getString("METRICS_ADDR", ""),
	}

	if err := cfg.Validate(); err != nil {
		return nil, env.warnings, err
	}
	return cfg, append(warnings, env.warnings...), nil
}

// Validate checks field ranges. Credentials are not required here: a missing
// mailbox password surfaces as a fetch failure, which the pipeline tolerates.
func (c *Config) Validate() error {
	v := validator.New()
	if err := v.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			e := verrs[0]
			return fmt.Errorf("config: %s failed %q validation (value %v)", e.Namespace(), e.Tag(), e.Value())
		}
		return fmt.Errorf("config: %w", err)
	}
	if c.Inbox.CleanupMode == CleanupMove && c.Inbox.ArchiveFolder == "" {
		return fmt.Errorf("config: ARCHIVE_FOLDER is required for cleanup mode %q", CleanupMove)
	}
	return nil
}

// NotifyConfigured reports whether Telegram credentials are present.
func (c *Config) NotifyConfigured() bool {
	return c.Notify.Token != "" && c.Notify.ChatID != ""
}

// envReader reads typed values and remembers every fallback it had to take.
type envReader struct {
	warnings []string
}

func (r *envReader) getString(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && strings.TrimSpace(v) != "" {
		return strings.TrimSpace(v)
	}
	return fallback
}

func (r *envReader) getInt(key string, fallback int) int {
	v := r.getString(key, "")
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		r.warnings = append(r.warnings, fmt.Sprintf("invalid %s=%q, using default %d", key, v, fallback))
		return fallback
	}
	return n
}

func (r *envReader) getBool(key string, fallback bool) bool {
	v := r.getString(key, "")
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(strings.ToLower(v))
	if err != nil {
		r.warnings = append(r.warnings, fmt.Sprintf("invalid %s=%q, using default %t", key, v, fallback))
		return fallback
	}
	return b
}

// getEnabled is for destructive switches: only "true" (any case) turns the
// switch on, every other non-empty value turns it off.
func (r *envReader) getEnabled(key string, fallback bool) bool {
	v := r.getString(key, "")
	if v == "" {
		return fallback
	}
	if strings.EqualFold(v, "true") {
		return true
	}
	if _, err := strconv.ParseBool(strings.ToLower(v)); err != nil {
		r.warnings = append(r.warnings, fmt.Sprintf("invalid %s=%q, treating as false", key, v))
	}
	return false
}

// getSeconds parses a float number of seconds ("1.5" -> 1.5s).
func (r *envReader) getSeconds(key string, fallback float64) time.Duration {
	v := r.getString(key, "")
	f := fallback
	if v != "" {
		parsed, err := strconv.ParseFloat(v, 64)
		if err != nil || parsed < 0 {
			r.warnings = append(r.warnings, fmt.Sprintf("invalid %s=%q, using default %gs", key, v, fallback))
		} else {
			f = parsed
		}
	}
	return time.Duration(f * float64(time.Second))
}
