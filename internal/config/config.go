package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	// DefaultMarker is the text of the button the hosting platform shows on
	// a sleeping app.
	DefaultMarker = "Yes, get this app back up!"

	DefaultTimeout    = 8 * time.Second
	DefaultNavTimeout = 30 * time.Second
	DefaultSettle     = 5 * time.Second

	DefaultWidth  = 1280
	DefaultHeight = 720

	DefaultLogLevel  = "info"
	DefaultLogFormat = "text"
)

// Config holds everything a single wake-up run needs
type Config struct {
	TargetURL  string
	Marker     string
	Timeout    time.Duration // Element wait
	NavTimeout time.Duration // Navigation + load event
	Settle     time.Duration // Request idle wait after a click
	Screenshot string        // Optional PNG output path
	ChromeBin  string
	NoSandbox  bool
	Width      int
	Height     int
	LogLevel   string
	LogFormat  string
}

// Load reads configuration from the environment, loading envFile first if
// it exists. A missing env file is not an error.
func Load(envFile string) (*Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("load %s: %w", envFile, err)
		}
	}

	cfg := &Config{
		TargetURL:  os.Getenv("TARGET_URL"),
		Marker:     envOr("WAKE_MARKER", DefaultMarker),
		Screenshot: os.Getenv("WAKE_SCREENSHOT"),
		ChromeBin:  os.Getenv("CHROME_BIN"),
		Width:      DefaultWidth,
		Height:     DefaultHeight,
		LogLevel:   envOr("LOG_LEVEL", DefaultLogLevel),
		LogFormat:  envOr("LOG_FORMAT", DefaultLogFormat),
	}

	var errs []string
	var err error
	if cfg.Timeout, err = envDuration("WAKE_TIMEOUT", DefaultTimeout); err != nil {
		errs = append(errs, err.Error())
	}
	if cfg.NavTimeout, err = envDuration("WAKE_NAV_TIMEOUT", DefaultNavTimeout); err != nil {
		errs = append(errs, err.Error())
	}
	if cfg.Settle, err = envDuration("WAKE_SETTLE", DefaultSettle); err != nil {
		errs = append(errs, err.Error())
	}
	if v := os.Getenv("WAKE_NO_SANDBOX"); v != "" {
		if cfg.NoSandbox, err = strconv.ParseBool(v); err != nil {
			errs = append(errs, fmt.Sprintf("WAKE_NO_SANDBOX: invalid boolean %q", v))
		}
	}
	if len(errs) != 0 {
		return nil, fmt.Errorf("invalid environment: %s", strings.Join(errs, "; "))
	}

	return cfg, nil
}

// Validate checks the final configuration, after flag overrides
func (c *Config) Validate() error {
	var errMsg []string

	if c.TargetURL == "" {
		errMsg = append(errMsg, "target url is empty (set TARGET_URL or --url)")
	} else if err := ValidateURL(c.TargetURL); err != nil {
		errMsg = append(errMsg, err.Error())
	}
	if strings.TrimSpace(c.Marker) == "" {
		errMsg = append(errMsg, "marker text is empty")
	}
	if c.Timeout <= 0 {
		errMsg = append(errMsg, "timeout must be positive")
	}
	if c.NavTimeout <= 0 {
		errMsg = append(errMsg, "navigation timeout must be positive")
	}
	if c.Settle < 0 {
		errMsg = append(errMsg, "settle must not be negative")
	}
	if c.Width <= 0 || c.Height <= 0 {
		errMsg = append(errMsg, "viewport must be positive")
	}
	switch c.LogFormat {
	case "text", "json":
	default:
		errMsg = append(errMsg, fmt.Sprintf("unknown log format %q (supported: text, json)", c.LogFormat))
	}

	if len(errMsg) != 0 {
		return fmt.Errorf("validation failed: %s", strings.Join(errMsg, "; "))
	}
	return nil
}

// ValidateURL accepts absolute http and https URLs only
func ValidateURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid target url %q: %w", raw, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("invalid target url %q: scheme must be http or https", raw)
	}
	if u.Host == "" {
		return fmt.Errorf("invalid target url %q: missing host", raw)
	}
	return nil
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envDuration(key string, def time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q", key, v)
	}
	return d, nil
}
