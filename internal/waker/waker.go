package waker

import (
	"context"
	"errors"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"
)

// Element is a located element that can be activated
type Element interface {
	Click(ctx context.Context) error
}

// Session is one exclusively owned browser page
type Session interface {
	Navigate(ctx context.Context, url string, budget time.Duration) error
	// FindByText returns ErrElementNotFound (possibly wrapped) when no
	// element's visible text equals text before timeout elapses
	FindByText(ctx context.Context, text string, timeout time.Duration) (Element, error)
	// WatchRequests subscribes to network activity immediately; the
	// returned func blocks until the page is request idle or budget elapses
	WatchRequests(ctx context.Context, budget time.Duration) func()
	Close() error
}

// Launcher opens a fresh browser session
type Launcher interface {
	Launch(ctx context.Context) (Session, error)
}

// Options configures a Checker
type Options struct {
	Marker     string
	NavTimeout time.Duration
	Settle     time.Duration
	// AfterCheck, if set, runs with the still open session before it is
	// closed, whatever the outcome
	AfterCheck func(ctx context.Context, s Session, o Outcome)
}

// Checker performs the wake-up check
type Checker struct {
	log      *log.Logger
	launcher Launcher
	opts     Options
}

// NewChecker creates a Checker that opens one session per Check
func NewChecker(logger *log.Logger, launcher Launcher, opts Options) *Checker {
	return &Checker{
		log:      logger,
		launcher: launcher,
		opts:     opts,
	}
}

// Check loads url, waits up to timeout for the marker element and clicks it
// if it shows up. It never returns an error: every failure is folded into
// the Outcome.
func (c *Checker) Check(ctx context.Context, url string, timeout time.Duration) (outcome Outcome) {
	start := time.Now()
	outcome = Outcome{URL: url}

	var session Session
	// The engine panics on some protocol failures, launch included. The
	// session must still be closed and the run must still produce an outcome.
	defer func() {
		if r := recover(); r != nil {
			outcome = failed(outcome, fmt.Errorf("browser panic: %v", r))
		}
		if session != nil {
			if c.opts.AfterCheck != nil {
				c.guard("after-check hook", func() { c.opts.AfterCheck(ctx, session, outcome) })
			}
			c.guard("close session", func() {
				if err := session.Close(); err != nil {
					c.log.WithError(err).Warn("failed to close browser session")
				}
			})
		}
		outcome.Elapsed = time.Since(start)
	}()

	var err error
	session, err = c.launcher.Launch(ctx)
	if err != nil {
		return failed(outcome, fmt.Errorf("launch browser: %w", err))
	}

	return c.run(ctx, session, outcome, timeout)
}

// guard runs fn, logging instead of propagating a panic
func (c *Checker) guard(what string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			c.log.WithField("panic", r).Warnf("%s panicked", what)
		}
	}()
	fn()
}

func (c *Checker) run(ctx context.Context, session Session, outcome Outcome, timeout time.Duration) Outcome {
	entry := c.log.WithField("url", outcome.URL)

	entry.Debug("navigating")
	if err := session.Navigate(ctx, outcome.URL, c.opts.NavTimeout); err != nil {
		var navErr *NavigationError
		if !errors.As(err, &navErr) {
			err = &NavigationError{URL: outcome.URL, Err: err}
		}
		return failed(outcome, err)
	}

	entry.WithField("marker", c.opts.Marker).WithField("timeout", timeout).Debug("waiting for wake-up button")
	el, err := session.FindByText(ctx, c.opts.Marker, timeout)
	if errors.Is(err, ErrElementNotFound) {
		outcome.Status = StatusNotFound
		return outcome
	}
	if err != nil {
		var lookupErr *LookupError
		if !errors.As(err, &lookupErr) {
			err = &LookupError{Err: err}
		}
		return failed(outcome, err)
	}

	// Subscribe before clicking so the request the click fires is tracked
	var settle func()
	if c.opts.Settle > 0 {
		wctx, cancel := context.WithCancel(ctx)
		defer cancel()
		settle = session.WatchRequests(wctx, c.opts.Settle)
	}

	entry.Debug("clicking wake-up button")
	if err := el.Click(ctx); err != nil {
		var actErr *ActivationError
		if !errors.As(err, &actErr) {
			err = &ActivationError{Err: err}
		}
		return failed(outcome, err)
	}
	outcome.Status = StatusClicked

	if settle != nil {
		settle()
	}
	return outcome
}

func failed(o Outcome, err error) Outcome {
	o.Status = StatusLoadFailed
	o.Err = err
	o.Message = err.Error()
	return o
}
