package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	AppName     = "sherlockcombs"
	EnvFileName = "config.env"
)

const (
	AnalyzerEndpoint = "endpoint"
	AnalyzerGemini   = "gemini"
)

const (
	DefaultListenAddr     = "127.0.0.1:8080"
	DefaultDismissAfter   = 30 * time.Second
	DefaultStatusInterval = 5 * time.Second
	DefaultMaxOffers      = 10
	DefaultFetchTimeout   = 30 * time.Second
	DefaultMaxImageBytes  = 10 * 1024 * 1024
)

// Config is the service configuration read from the environment.
type Config struct {
	ShopEndpoint string
	ListenAddr   string
	Analyzer     string
	GeminiAPIKey string

	// Telegram surface, enabled when BotToken is set
	BotToken string
	AdminID  int64

	DismissAfter   time.Duration
	StatusInterval time.Duration
	MaxOffers      int
	FetchTimeout   time.Duration
	MaxImageBytes  int64
	ExcludedItems  []string // nil means the pipeline default
}

// BotEnabled reports whether the Telegram surface should run.
func (c *Config) BotEnabled() bool {
	return c.BotToken != ""
}

// Dir returns the application's config directory path.
func Dir() (string, error) {
	configBase, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("failed to get user config directory: %w", err)
	}
	return filepath.Join(configBase, AppName), nil
}

// FilePath returns the full path to the config file.
func FilePath() (string, error) {
	dir, err := Dir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, EnvFileName), nil
}

// LoadEnvFile loads environment variables from the config file in the user's
// config directory. Errors are ignored since the file may not exist.
// Variables already set in the environment win.
func LoadEnvFile() {
	configPath, err := FilePath()
	if err != nil {
		return
	}
	_ = godotenv.Load(configPath)
}

// Missing returns the names of required variables that are not set.
func Missing() []string {
	var missing []string
	if os.Getenv("SHOP_ENDPOINT") == "" {
		missing = append(missing, "SHOP_ENDPOINT")
	}
	if strings.EqualFold(os.Getenv("ANALYZER"), AnalyzerGemini) && os.Getenv("GEMINI_API_KEY") == "" {
		missing = append(missing, "GEMINI_API_KEY")
	}
	if os.Getenv("BOT_TOKEN") != "" && os.Getenv("ADMIN_TELEGRAM_ID") == "" {
		missing = append(missing, "ADMIN_TELEGRAM_ID")
	}
	return missing
}

// Load reads the configuration from the environment, applying defaults.
func Load() (*Config, error) {
	return load(os.Getenv)
}

func load(getenv func(string) string) (*Config, error) {
	var errs []error
	c := &Config{
		ShopEndpoint: strings.TrimRight(getenv("SHOP_ENDPOINT"), "/"),
		ListenAddr:   getenv("LISTEN_ADDR"),
		Analyzer:     strings.ToLower(getenv("ANALYZER")),
		GeminiAPIKey: getenv("GEMINI_API_KEY"),
		BotToken:     getenv("BOT_TOKEN"),
	}

	if c.ShopEndpoint == "" {
		errs = append(errs, errors.New("SHOP_ENDPOINT is not set"))
	}
	if c.ListenAddr == "" {
		c.ListenAddr = DefaultListenAddr
	}

	switch c.Analyzer {
	case "":
		c.Analyzer = AnalyzerEndpoint
	case AnalyzerEndpoint:
	case AnalyzerGemini:
		if c.GeminiAPIKey == "" {
			errs = append(errs, errors.New("GEMINI_API_KEY is required when ANALYZER=gemini"))
		}
	default:
		errs = append(errs, fmt.Errorf("ANALYZER must be %q or %q, got %q", AnalyzerEndpoint, AnalyzerGemini, c.Analyzer))
	}

	if c.BotToken != "" {
		adminIDStr := getenv("ADMIN_TELEGRAM_ID")
		if adminIDStr == "" {
			errs = append(errs, errors.New("ADMIN_TELEGRAM_ID is required when BOT_TOKEN is set"))
		} else if id, err := strconv.ParseInt(adminIDStr, 10, 64); err != nil {
			errs = append(errs, fmt.Errorf("ADMIN_TELEGRAM_ID must be a valid integer: %w", err))
		} else {
			c.AdminID = id
		}
	}

	var err error
	if c.DismissAfter, err = duration(getenv, "OVERLAY_DISMISS_AFTER", DefaultDismissAfter); err != nil {
		errs = append(errs, err)
	}
	if c.StatusInterval, err = duration(getenv, "OVERLAY_STATUS_INTERVAL", DefaultStatusInterval); err != nil {
		errs = append(errs, err)
	}
	if c.FetchTimeout, err = duration(getenv, "FETCH_TIMEOUT", DefaultFetchTimeout); err != nil {
		errs = append(errs, err)
	}
	if c.MaxOffers, err = positiveInt(getenv, "MAX_OFFERS", DefaultMaxOffers); err != nil {
		errs = append(errs, err)
	}
	maxImageBytes, err := positiveInt(getenv, "MAX_IMAGE_BYTES", DefaultMaxImageBytes)
	if err != nil {
		errs = append(errs, err)
	}
	c.MaxImageBytes = int64(maxImageBytes)

	if v := getenv("EXCLUDED_ITEMS"); v != "" {
		c.ExcludedItems = []string{}
		for _, item := range strings.Split(v, ",") {
			if item = strings.TrimSpace(item); item != "" {
				c.ExcludedItems = append(c.ExcludedItems, item)
			}
		}
	}

	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return c, nil
}

func duration(getenv func(string) string, key string, def time.Duration) (time.Duration, error) {
	v := getenv(key)
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("%s must be a positive duration such as 30s, got %q", key, v)
	}
	return d, nil
}

func positiveInt(getenv func(string) string, key string, def int) (int, error) {
	v := getenv(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("%s must be a positive integer, got %q", key, v)
	}
	return n, nil
}
