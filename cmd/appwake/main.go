package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/v0xg/appwake/internal/browser"
	"github.com/v0xg/appwake/internal/config"
	"github.com/v0xg/appwake/internal/snapshot"
	"github.com/v0xg/appwake/internal/waker"
)

type flags struct {
	envFile    string
	url        string
	marker     string
	timeout    time.Duration
	navTimeout time.Duration
	settle     time.Duration
	screenshot string
	chrome     string
	noSandbox  bool
	verbose    bool
	logFormat  string
}

// newLauncher is swapped out in tests
var newLauncher = func(logger *log.Logger, cfg *config.Config) waker.Launcher {
	return browser.NewLauncher(logger, browser.Options{
		Bin:       cfg.ChromeBin,
		Width:     cfg.Width,
		Height:    cfg.Height,
		NoSandbox: cfg.NoSandbox,
	})
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	f := &flags{}

	rootCmd := &cobra.Command{
		Use:   "appwake [--url URL]",
		Short: "Wake a sleeping hosted web app by clicking its wake-up button",
		Long: `appwake loads a hosted web app in a headless browser and, if the hosting
platform put the app to sleep, clicks the "wake it back up" button.

It is meant to run on a schedule. Every completed check exits 0, whether the
button was clicked, not found, or the page failed to load.

Example:
  TARGET_URL=https://myapp.streamlit.app appwake`,
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd, f)
		},
	}

	fl := rootCmd.Flags()
	fl.StringVar(&f.envFile, "env-file", ".env", "Environment file to load if present")
	fl.StringVarP(&f.url, "url", "u", "", "Target URL (overrides TARGET_URL)")
	fl.StringVar(&f.marker, "marker", "", "Exact text of the wake-up button (overrides WAKE_MARKER)")
	fl.DurationVarP(&f.timeout, "timeout", "t", 0, "How long to wait for the button (overrides WAKE_TIMEOUT)")
	fl.DurationVar(&f.navTimeout, "nav-timeout", 0, "Page load budget (overrides WAKE_NAV_TIMEOUT)")
	fl.DurationVar(&f.settle, "settle", 0, "Wait for network idle after clicking (overrides WAKE_SETTLE)")
	fl.StringVar(&f.screenshot, "screenshot", "", "Write a PNG of the page after the check (overrides WAKE_SCREENSHOT)")
	fl.StringVar(&f.chrome, "chrome", "", "Chrome/Chromium binary (overrides CHROME_BIN)")
	fl.BoolVar(&f.noSandbox, "no-sandbox", false, "Disable the Chromium sandbox, e.g. when running as root in CI")
	fl.BoolVarP(&f.verbose, "verbose", "v", false, "Show detailed progress")
	fl.StringVar(&f.logFormat, "log-format", "", "Log format: text, json (overrides LOG_FORMAT)")

	return rootCmd
}

func run(cmd *cobra.Command, f *flags) error {
	cfg, err := loadConfig(cmd, f)
	if err != nil {
		return err
	}

	logger, err := newLogger(cfg)
	if err != nil {
		return err
	}
	logger.SetOutput(cmd.OutOrStdout())

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	opts := waker.Options{
		Marker:     cfg.Marker,
		NavTimeout: cfg.NavTimeout,
		Settle:     cfg.Settle,
	}
	if cfg.Screenshot != "" {
		opts.AfterCheck = saveScreenshot(logger, cfg.Screenshot)
	}

	entry := logger.WithField("url", cfg.TargetURL)
	entry.WithField("marker", cfg.Marker).Debug("starting wake-up check")

	checker := waker.NewChecker(logger, newLauncher(logger, cfg), opts)
	outcome := checker.Check(ctx, cfg.TargetURL, cfg.Timeout)

	entry = entry.WithFields(log.Fields{
		"status":  outcome.Status.String(),
		"elapsed": outcome.Elapsed.Round(time.Millisecond).String(),
	})
	switch outcome.Status {
	case waker.StatusLoadFailed:
		entry.WithError(outcome.Err).Warn(outcome.Summary())
	default:
		entry.Info(outcome.Summary())
	}

	// Every outcome is an acceptable end state for a scheduled run
	return nil
}

func loadConfig(cmd *cobra.Command, f *flags) (*config.Config, error) {
	cfg, err := config.Load(f.envFile)
	if err != nil {
		return nil, err
	}

	fl := cmd.Flags()
	if fl.Changed("url") {
		cfg.TargetURL = f.url
	}
	if fl.Changed("marker") {
		cfg.Marker = f.marker
	}
	if fl.Changed("timeout") {
		cfg.Timeout = f.timeout
	}
	if fl.Changed("nav-timeout") {
		cfg.NavTimeout = f.navTimeout
	}
	if fl.Changed("settle") {
		cfg.Settle = f.settle
	}
	if fl.Changed("screenshot") {
		cfg.Screenshot = f.screenshot
	}
	if fl.Changed("chrome") {
		cfg.ChromeBin = f.chrome
	}
	if fl.Changed("no-sandbox") {
		cfg.NoSandbox = f.noSandbox
	}
	if fl.Changed("log-format") {
		cfg.LogFormat = f.logFormat
	}
	if f.verbose {
		cfg.LogLevel = "debug"
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func newLogger(cfg *config.Config) (*log.Logger, error) {
	logger := log.New()

	level, err := log.ParseLevel(cfg.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("parse log level: %w", err)
	}
	logger.SetLevel(level)

	if cfg.LogFormat == "json" {
		logger.SetFormatter(&log.JSONFormatter{
			TimestampFormat:   time.RFC3339,
			DisableHTMLEscape: true,
		})
	} else {
		logger.SetFormatter(&log.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: time.RFC3339,
		})
	}

	return logger, nil
}

type screenshotter interface {
	Screenshot(ctx context.Context) ([]byte, error)
}

// saveScreenshot writes the page as it looks after the check. Failures are
// logged only, they never change the outcome.
func saveScreenshot(logger *log.Logger, path string) func(context.Context, waker.Session, waker.Outcome) {
	return func(ctx context.Context, s waker.Session, _ waker.Outcome) {
		shooter, ok := s.(screenshotter)
		if !ok {
			return
		}
		entry := logger.WithField("path", path)

		data, err := shooter.Screenshot(ctx)
		if err != nil {
			entry.WithError(err).Warn("failed to capture screenshot")
			return
		}
		size, err := snapshot.Write(data, path, snapshot.Options{})
		if err != nil {
			entry.WithError(err).Warn("failed to write screenshot")
			return
		}
		entry.WithField("bytes", size).Debug("screenshot saved")
	}
}
