package browser

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	log "github.com/sirupsen/logrus"
	"github.com/v0xg/appwake/internal/waker"
)

const (
	// DefaultActionTimeout bounds a single click
	DefaultActionTimeout = 10 * time.Second
	// DefaultLaunchTimeout bounds starting Chromium, including a first-run
	// download when no local binary exists
	DefaultLaunchTimeout = 2 * time.Minute
)

// ErrLaunchTimeout is returned when Chromium did not come up within the
// launch budget
var ErrLaunchTimeout = errors.New("chromium launch timed out")

// statusGrace is how long Navigate waits for the main document's response
// event after the load event already fired
const statusGrace = 200 * time.Millisecond

// Options configures the browser launch
type Options struct {
	Bin           string // Chrome/Chromium binary, auto-detected when empty
	Width         int
	Height        int
	NoSandbox     bool // Needed when running as root inside CI containers
	ActionTimeout time.Duration
	LaunchTimeout time.Duration
}

// Launcher starts headless Chromium instances
type Launcher struct {
	log  *log.Logger
	opts Options
}

// NewLauncher creates a launcher, filling in default timeouts
func NewLauncher(logger *log.Logger, opts Options) *Launcher {
	if opts.ActionTimeout == 0 {
		opts.ActionTimeout = DefaultActionTimeout
	}
	if opts.LaunchTimeout == 0 {
		opts.LaunchTimeout = DefaultLaunchTimeout
	}
	return &Launcher{log: logger, opts: opts}
}

// Launch starts a headless browser and opens a blank page. The returned
// session owns the browser process.
func (l *Launcher) Launch(ctx context.Context) (waker.Session, error) {
	return l.launch(ctx)
}

func (l *Launcher) launch(ctx context.Context) (*Session, error) {
	bin := l.opts.Bin
	if bin == "" {
		bin, _ = launcher.LookPath()
	}

	ln := launcher.New().Context(ctx).Headless(true).NoSandbox(l.opts.NoSandbox)
	if bin != "" {
		ln = ln.Bin(bin)
	} else {
		// Without a binary rod downloads a pinned Chromium build
		l.log.WithField("budget", l.opts.LaunchTimeout).Warn("no local Chrome/Chromium found, downloading one")
	}

	u, err := l.start(ln)
	if err != nil {
		return nil, err
	}

	s := &Session{launcher: ln, opts: l.opts}

	s.browser = rod.New().ControlURL(u)
	if err := s.browser.Connect(); err != nil {
		s.browser = nil
		s.Close()
		return nil, fmt.Errorf("connect to chromium: %w", err)
	}

	page, err := s.browser.Page(proto.TargetCreateTarget{})
	if err != nil {
		s.Close()
		return nil, fmt.Errorf("open page: %w", err)
	}
	s.page = page

	if l.opts.Width > 0 && l.opts.Height > 0 {
		err = page.SetViewport(&proto.EmulationSetDeviceMetricsOverride{
			Width:             l.opts.Width,
			Height:            l.opts.Height,
			DeviceScaleFactor: 1,
		})
		if err != nil {
			s.Close()
			return nil, fmt.Errorf("set viewport: %w", err)
		}
	}

	return s, nil
}

// start runs ln.Launch bounded by the launch budget. On timeout the
// process is killed and the pending Launch call is abandoned.
func (l *Launcher) start(ln *launcher.Launcher) (string, error) {
	type result struct {
		u   string
		err error
	}
	done := make(chan result, 1)
	go func() {
		u, err := ln.Launch()
		done <- result{u, err}
	}()

	timer := time.NewTimer(l.opts.LaunchTimeout)
	defer timer.Stop()

	select {
	case r := <-done:
		if r.err != nil {
			return "", fmt.Errorf("launch chromium: %w", r.err)
		}
		return r.u, nil
	case <-timer.C:
		ln.Kill()
		return "", fmt.Errorf("%w after %s", ErrLaunchTimeout, l.opts.LaunchTimeout)
	}
}

// Session wraps the Rod browser and its single page
type Session struct {
	launcher *launcher.Launcher
	browser  *rod.Browser
	page     *rod.Page
	opts     Options
}

// Close releases the page, the browser and the browser process. It is safe
// to call on a partially launched session.
func (s *Session) Close() error {
	var errs []error
	if s.page != nil {
		if err := s.page.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close page: %w", err))
		}
		s.page = nil
	}
	if s.browser != nil {
		if err := s.browser.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close browser: %w", err))
		}
		s.browser = nil
	}
	if s.launcher != nil {
		s.launcher.Kill()
		s.launcher.Cleanup()
		s.launcher = nil
	}
	return errors.Join(errs...)
}

// Navigate loads url and waits for the load event. A main document answered
// with HTTP 400 or above counts as a failed navigation.
func (s *Session) Navigate(ctx context.Context, url string, budget time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, budget)
	defer cancel()
	page := s.page.Context(ctx)

	statusCh := make(chan int, 1)
	wait := page.EachEvent(func(e *proto.NetworkResponseReceived) bool {
		if e.Type != proto.NetworkResourceTypeDocument || e.FrameID != page.FrameID {
			return false
		}
		statusCh <- e.Response.Status
		return true
	})
	go wait()

	if err := page.Navigate(url); err != nil {
		return &waker.NavigationError{URL: url, Err: err}
	}
	if err := page.WaitLoad(); err != nil {
		return &waker.NavigationError{URL: url, Err: err}
	}

	select {
	case status := <-statusCh:
		if status >= 400 {
			return &waker.NavigationError{URL: url, Status: status}
		}
	case <-time.After(statusGrace):
	}
	return nil
}

// FindByText polls the page until an interactive element whose trimmed
// visible text equals text exists, or timeout elapses.
func (s *Session) FindByText(ctx context.Context, text string, timeout time.Duration) (waker.Element, error) {
	tctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	el, err := s.page.Context(tctx).ElementByJS(rod.Eval(findByTextJS, text))
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			return nil, fmt.Errorf("%q after %s: %w", text, timeout, waker.ErrElementNotFound)
		}
		return nil, &waker.LookupError{Err: err}
	}
	return &Element{el: el, timeout: s.opts.ActionTimeout}, nil
}

// WatchRequests starts tracking requests right away. The returned func
// blocks until the page has been request idle for 500ms, or budget elapsed
// from the moment it is called. Cancelling ctx releases the watch.
func (s *Session) WatchRequests(ctx context.Context, budget time.Duration) func() {
	ctx, cancel := context.WithCancel(ctx)
	wait := s.page.Context(ctx).WaitRequestIdle(500*time.Millisecond, nil, nil, nil)
	return func() {
		defer cancel()
		timer := time.AfterFunc(budget, cancel)
		defer timer.Stop()
		wait()
	}
}

// Screenshot captures the current viewport as PNG
func (s *Session) Screenshot(ctx context.Context) ([]byte, error) {
	if s.page == nil {
		return nil, errors.New("session closed")
	}
	return s.page.Context(ctx).Screenshot(false, nil)
}

// Element is a located page element
type Element struct {
	el      *rod.Element
	timeout time.Duration
}

// Click performs a single left click, waiting for the element to become
// interactable first
func (e *Element) Click(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()
	if err := e.el.Context(ctx).Click(proto.InputMouseButtonLeft, 1); err != nil {
		return &waker.ActivationError{Err: err}
	}
	return nil
}
