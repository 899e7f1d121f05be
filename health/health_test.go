package health

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/hairizuan-noorazman/matomo-bootstrap/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m, goleak.IgnoreTopFunction("net/http.(*persistConn).writeLoop"),
		goleak.IgnoreTopFunction("net/http.(*persistConn).readLoop"),
		goleak.IgnoreTopFunction("internal/poll.runtime_pollWait"))
}

func fastConfig() Config {
	return Config{
		ReachTimeout:   time.Second,
		PollInterval:   10 * time.Millisecond,
		RequestTimeout: 200 * time.Millisecond,
		ReadTimeout:    time.Second,
	}
}

func TestWaitHTTP_AnyStatusIsReachable(t *testing.T) {
	statuses := []int{http.StatusOK, http.StatusFound, http.StatusNotFound, http.StatusInternalServerError}

	for _, status := range statuses {
		t.Run(http.StatusText(status), func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(status)
			}))
			defer server.Close()

			p := NewProber(server.Client(), fastConfig(), logger.NewTestLogger())
			assert.NoError(t, p.WaitHTTP(context.Background(), server.URL))
		})
	}
}

func TestWaitHTTP_BecomesReachable(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// The first probes outlive the per-request timeout, as a booting container would.
		if calls.Add(1) <= 2 {
			time.Sleep(300 * time.Millisecond)
		}
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	log := logger.NewTestLogger()
	p := NewProber(server.Client(), fastConfig(), log)
	require.NoError(t, p.WaitHTTP(context.Background(), server.URL))
	assert.GreaterOrEqual(t, calls.Load(), int32(3))
	assert.NotEmpty(t, log.Matching("still waiting"))
}

func TestWaitHTTP_Timeout(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())

	cfg := fastConfig()
	cfg.ReachTimeout = 50 * time.Millisecond
	p := NewProber(&http.Client{}, cfg, logger.NewTestLogger())

	err = p.WaitHTTP(context.Background(), "http://"+addr)

	var nrErr *NotReachableError
	require.ErrorAs(t, err, &nrErr)
	assert.Equal(t, "http://"+addr, nrErr.URL)
	assert.Error(t, nrErr.LastErr)
	assert.Contains(t, err.Error(), "did not become reachable")
}

func TestWaitHTTP_RedirectIsReachable(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		// Trusted-host or https redirect the prober cannot follow.
		http.Redirect(w, r, "http://127.0.0.1:1/index.php", http.StatusFound)
	}))
	defer server.Close()

	client := server.Client()
	p := NewProber(client, fastConfig(), logger.NewTestLogger())

	require.NoError(t, p.WaitHTTP(context.Background(), server.URL))
	assert.Equal(t, int32(1), calls.Load())
	assert.Nil(t, client.CheckRedirect)
}

func TestIsInstalled_FollowsRedirect(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/index.php?module=Login", http.StatusFound)
	})
	mux.HandleFunc("/index.php", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<title>Matomo › Login</title>`))
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	p := NewProber(server.Client(), fastConfig(), logger.NewTestLogger())

	assert.True(t, p.IsInstalled(context.Background(), server.URL+"/"))
	assert.NoError(t, p.AssertReady(context.Background(), server.URL+"/"))
}

func TestWaitHTTP_Canceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	p := NewProber(&http.Client{}, fastConfig(), logger.NewTestLogger())
	err := p.WaitHTTP(ctx, "http://127.0.0.1:1")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestIsInstalled(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		want   bool
	}{
		{
			name:   "login link",
			status: http.StatusOK,
			body:   `<a href="index.php?module=Login&action=login">Sign in</a>`,
			want:   true,
		},
		{
			name:   "login title",
			status: http.StatusOK,
			body:   `<title>Matomo › Login</title>`,
			want:   true,
		},
		{
			name:   "login path",
			status: http.StatusOK,
			body:   `<link href="plugins/Matomo/Login/style.css">`,
			want:   true,
		},
		{
			name:   "marker on error page",
			status: http.StatusInternalServerError,
			body:   `redirecting to module=Login`,
			want:   true,
		},
		{
			name:   "installer",
			status: http.StatusOK,
			body:   `<title>Matomo › Installation</title><a>Next »</a>`,
			want:   false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			}))
			defer server.Close()

			p := NewProber(server.Client(), fastConfig(), logger.NewTestLogger())
			assert.Equal(t, tt.want, p.IsInstalled(context.Background(), server.URL))
		})
	}
}

func TestIsInstalled_TransportFailure(t *testing.T) {
	p := NewProber(&http.Client{}, fastConfig(), logger.NewTestLogger())
	assert.False(t, p.IsInstalled(context.Background(), "http://127.0.0.1:1"))
}

func TestAssertReady(t *testing.T) {
	var body atomic.Value
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(body.Load().(string)))
	}))
	defer server.Close()

	p := NewProber(server.Client(), fastConfig(), logger.NewTestLogger())

	body.Store("<title>Matomo</title>")
	assert.NoError(t, p.AssertReady(context.Background(), server.URL))

	body.Store("<script src='piwik.js'></script>")
	assert.NoError(t, p.AssertReady(context.Background(), server.URL))

	body.Store("<h1>Welcome to nginx!</h1>")
	err := p.AssertReady(context.Background(), server.URL)
	var nrErr *NotReadyError
	require.ErrorAs(t, err, &nrErr)
	assert.Equal(t, server.URL, nrErr.URL)
}

func TestAssertReady_Unreachable(t *testing.T) {
	p := NewProber(&http.Client{}, fastConfig(), logger.NewTestLogger())
	err := p.AssertReady(context.Background(), "http://127.0.0.1:1")
	var nrErr *NotReachableError
	assert.ErrorAs(t, err, &nrErr)
}
