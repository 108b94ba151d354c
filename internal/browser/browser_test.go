package browser

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"runtime"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-rod/rod/lib/launcher"
	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/v0xg/appwake/internal/waker"
)

const marker = "Yes, get this app back up!"

func discardLogger() *log.Logger {
	logger := log.New()
	logger.SetOutput(io.Discard)
	return logger
}

// The tests drive a real browser and are skipped when none is installed
func newTestLauncher(t *testing.T) *Launcher {
	t.Helper()
	if testing.Short() {
		t.Skip("browser tests skipped in -short mode")
	}
	bin, ok := launcher.LookPath()
	if !ok {
		t.Skip("no Chrome/Chromium binary found")
	}
	return NewLauncher(discardLogger(), Options{Bin: bin, Width: 800, Height: 600, NoSandbox: true})
}

type sleepingApp struct {
	body      string
	wakeDelay time.Duration
	clicks    atomic.Int32 // wake requests received
	served    atomic.Int32 // wake requests answered
}

func (a *sleepingApp) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.URL.Path {
	case "/":
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		fmt.Fprint(w, a.body)
	case "/wake":
		a.clicks.Add(1)
		select {
		case <-time.After(a.wakeDelay):
		case <-r.Context().Done():
			return
		}
		a.served.Add(1)
		w.WriteHeader(http.StatusNoContent)
	default:
		http.NotFound(w, r)
	}
}

func appPage(button string) string {
	return `<!DOCTYPE html><html><head><title>app</title></head><body>` + button +
		`<script>
		document.querySelectorAll('button').forEach(b => b.addEventListener('click', () => fetch('/wake', {method: 'POST'})));
		</script></body></html>`
}

func newSleepingApp(t *testing.T, button string) (*sleepingApp, *httptest.Server) {
	app := &sleepingApp{body: appPage(button)}
	srv := httptest.NewServer(app)
	t.Cleanup(srv.Close)
	return app, srv
}

func launch(t *testing.T) *Session {
	t.Helper()
	s, err := newTestLauncher(t).launch(context.Background())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestFindByTextExactMatchClicks(t *testing.T) {
	s := launch(t)
	app, srv := newSleepingApp(t, `<button>  `+marker+`  </button>`)

	ctx := context.Background()
	require.NoError(t, s.Navigate(ctx, srv.URL+"/", 10*time.Second))

	el, err := s.FindByText(ctx, marker, 3*time.Second)
	require.NoError(t, err)
	require.NoError(t, el.Click(ctx))

	assert.Eventually(t, func() bool { return app.clicks.Load() == 1 }, 5*time.Second, 50*time.Millisecond)
}

func TestFindByTextDelayedRender(t *testing.T) {
	s := launch(t)
	_, srv := newSleepingApp(t, `<div id="root"></div>
		<script>setTimeout(() => {
			const b = document.createElement('button');
			b.textContent = '`+marker+`';
			document.getElementById('root').appendChild(b);
		}, 500);</script>`)

	ctx := context.Background()
	require.NoError(t, s.Navigate(ctx, srv.URL+"/", 10*time.Second))

	_, err := s.FindByText(ctx, marker, 5*time.Second)
	assert.NoError(t, err)
}

func TestFindByTextNearMissIsNotFound(t *testing.T) {
	tests := []struct {
		name   string
		button string
	}{
		{"lower case no punctuation", `<button>yes get this app back up</button>`},
		{"substring", `<button>Yes, get this app back up! Now</button>`},
		{"not interactive", `<p>` + marker + `</p>`},
		{"absent", `<h1>Dashboard</h1>`},
		{"display none", `<button style="display:none">` + marker + `</button>`},
		{"hidden ancestor", `<div hidden><button>` + marker + `</button></div>`},
		{"visibility hidden", `<button style="visibility:hidden">` + marker + `</button>`},
	}

	s := launch(t)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, srv := newSleepingApp(t, tt.button)

			ctx := context.Background()
			require.NoError(t, s.Navigate(ctx, srv.URL+"/", 10*time.Second))

			start := time.Now()
			_, err := s.FindByText(ctx, marker, 500*time.Millisecond)
			assert.ErrorIs(t, err, waker.ErrElementNotFound)
			assert.Less(t, time.Since(start), 5*time.Second)
		})
	}
}

func TestFindByTextSkipsHiddenDuplicate(t *testing.T) {
	s := launch(t)
	app, srv := newSleepingApp(t, `<button id="stale" style="display:none">`+marker+`</button>
		<button id="live">`+marker+`</button>`)

	ctx := context.Background()
	require.NoError(t, s.Navigate(ctx, srv.URL+"/", 10*time.Second))

	el, err := s.FindByText(ctx, marker, 3*time.Second)
	require.NoError(t, err)

	id, err := el.(*Element).el.Attribute("id")
	require.NoError(t, err)
	require.NotNil(t, id)
	assert.Equal(t, "live", *id)

	require.NoError(t, el.Click(ctx))
	assert.Eventually(t, func() bool { return app.clicks.Load() == 1 }, 5*time.Second, 50*time.Millisecond)
}

func TestNavigateHTTPError(t *testing.T) {
	s := launch(t)
	_, srv := newSleepingApp(t, "")

	err := s.Navigate(context.Background(), srv.URL+"/missing", 10*time.Second)
	var navErr *waker.NavigationError
	require.ErrorAs(t, err, &navErr)
	assert.Equal(t, http.StatusNotFound, navErr.Status)
}

func TestNavigateUnreachable(t *testing.T) {
	s := launch(t)

	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL + "/"
	srv.Close()

	err := s.Navigate(context.Background(), url, 10*time.Second)
	var navErr *waker.NavigationError
	assert.ErrorAs(t, err, &navErr)
}

func TestSessionCloseIdempotent(t *testing.T) {
	s, err := newTestLauncher(t).launch(context.Background())
	require.NoError(t, err)

	assert.NoError(t, s.Close())
	assert.NoError(t, s.Close())
	_, err = s.Screenshot(context.Background())
	assert.Error(t, err)
}

func TestCheckerWaitsForSlowWakeRequest(t *testing.T) {
	l := newTestLauncher(t)
	app := &sleepingApp{body: appPage(`<button>` + marker + `</button>`), wakeDelay: time.Second}
	srv := httptest.NewServer(app)
	t.Cleanup(srv.Close)

	checker := waker.NewChecker(discardLogger(), l, waker.Options{
		Marker:     marker,
		NavTimeout: 10 * time.Second,
		Settle:     5 * time.Second,
	})

	outcome := checker.Check(context.Background(), srv.URL+"/", 3*time.Second)
	require.Equal(t, waker.StatusClicked, outcome.Status, outcome.Message)

	// Check returned, so the browser is gone: the request must have been
	// answered while it was still open
	assert.EqualValues(t, 1, app.served.Load())
}

func TestLaunchTimeout(t *testing.T) {
	if testing.Short() {
		t.Skip("launcher tests skipped in -short mode")
	}
	if runtime.GOOS == "windows" {
		t.Skip("needs a shell script as fake browser")
	}

	// A "browser" that never prints its DevTools URL
	bin := filepath.Join(t.TempDir(), "hang-chrome")
	require.NoError(t, os.WriteFile(bin, []byte("#!/bin/sh\nsleep 30\n"), 0o755))

	l := NewLauncher(discardLogger(), Options{Bin: bin, LaunchTimeout: 500 * time.Millisecond})

	start := time.Now()
	_, err := l.Launch(context.Background())
	assert.ErrorIs(t, err, ErrLaunchTimeout)
	assert.Less(t, time.Since(start), 10*time.Second)
}

func TestCheckerEndToEnd(t *testing.T) {
	l := newTestLauncher(t)

	checker := waker.NewChecker(discardLogger(), l, waker.Options{
		Marker:     marker,
		NavTimeout: 10 * time.Second,
		Settle:     time.Second,
	})

	t.Run("clicked", func(t *testing.T) {
		app, srv := newSleepingApp(t, `<button>`+marker+`</button>`)
		outcome := checker.Check(context.Background(), srv.URL+"/", 3*time.Second)
		assert.Equal(t, waker.StatusClicked, outcome.Status, outcome.Message)
		assert.Eventually(t, func() bool { return app.clicks.Load() == 1 }, 5*time.Second, 50*time.Millisecond)
	})

	t.Run("not found", func(t *testing.T) {
		app, srv := newSleepingApp(t, `<h1>Dashboard</h1>`)
		outcome := checker.Check(context.Background(), srv.URL+"/", time.Second)
		assert.Equal(t, waker.StatusNotFound, outcome.Status, outcome.Message)
		assert.Zero(t, app.clicks.Load())
	})

	t.Run("load failed", func(t *testing.T) {
		outcome := checker.Check(context.Background(), "http://127.0.0.1:1/", time.Second)
		assert.Equal(t, waker.StatusLoadFailed, outcome.Status)
		assert.NotEmpty(t, outcome.Message)
	})
}
