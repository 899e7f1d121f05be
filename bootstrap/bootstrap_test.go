package bootstrap

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/hairizuan-noorazman/matomo-bootstrap/apitoken"
	"github.com/hairizuan-noorazman/matomo-bootstrap/health"
	"github.com/hairizuan-noorazman/matomo-bootstrap/logger"
	"github.com/hairizuan-noorazman/matomo-bootstrap/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingInstaller struct {
	calls int
	err   error
}

func (i *recordingInstaller) EnsureInstalled(ctx context.Context) error {
	i.calls++
	return i.err
}

type stubPreflight struct {
	readyErr error
	tables   []string
}

func (p *stubPreflight) WaitReady(ctx context.Context, timeout time.Duration) error {
	return p.readyErr
}

func (p *stubPreflight) ExistingTables(ctx context.Context) ([]string, error) {
	return p.tables, nil
}

type failingAcquirer struct{}

func (failingAcquirer) Acquire(ctx context.Context, creds apitoken.Credentials, description string) (string, error) {
	return "", errors.New("acquirer must not be called")
}

func setup(t *testing.T) (*testutil.FakeMatomo, *health.Prober, apitoken.Acquirer, *logger.TestLogger) {
	t.Helper()
	matomo := testutil.NewFakeMatomo(t, "admin", "s3cret-pass")
	log := logger.NewTestLogger()

	cfg := health.DefaultConfig()
	cfg.ReachTimeout = time.Second
	prober := health.NewProber(&http.Client{}, cfg, log)

	client, err := apitoken.NewClient(matomo.URL(), time.Second, log)
	require.NoError(t, err)
	acq, err := apitoken.New(apitoken.StrategyExchange, client, log)
	require.NoError(t, err)
	return matomo, prober, acq, log
}

func baseConfig(url string) Config {
	return Config{
		BaseURL:          url,
		Credentials:      apitoken.Credentials{Login: "admin", Password: "s3cret-pass"},
		TokenDescription: "matomo-bootstrap",
		PreflightTimeout: time.Second,
	}
}

func TestRun_AcquiresToken(t *testing.T) {
	matomo, prober, acq, log := setup(t)
	inst := &recordingInstaller{}

	token, err := New(baseConfig(matomo.URL()), prober, inst, acq, nil, log).Run(context.Background())

	require.NoError(t, err)
	assert.True(t, apitoken.ValidToken(token))
	assert.Equal(t, 1, inst.calls)
	require.Len(t, matomo.Tokens(), 1)
	assert.Equal(t, "matomo-bootstrap", matomo.Tokens()[0].Description)

	started := log.Matching("bootstrap started")
	require.Len(t, started, 1)
	assert.NotEmpty(t, started[0].Fields["run_id"])
}

func TestRun_UsesConfiguredRunID(t *testing.T) {
	matomo, prober, acq, log := setup(t)
	cfg := baseConfig(matomo.URL())
	cfg.RunID = "run-42"

	_, err := New(cfg, prober, &recordingInstaller{}, acq, nil, log).Run(context.Background())
	require.NoError(t, err)

	for _, msg := range []string{"bootstrap started", "bootstrap finished"} {
		entries := log.Matching(msg)
		require.Len(t, entries, 1, msg)
		assert.Equal(t, "run-42", entries[0].Fields["run_id"])
	}
}

func TestRun_TokenOverride(t *testing.T) {
	matomo, prober, _, log := setup(t)
	cfg := baseConfig(matomo.URL())
	cfg.TokenOverride = "0123456789abcdef0123456789abcdef"

	token, err := New(cfg, prober, &recordingInstaller{}, failingAcquirer{}, nil, log).Run(context.Background())

	require.NoError(t, err)
	assert.Equal(t, cfg.TokenOverride, token)
	assert.Empty(t, matomo.Calls())
}

func TestRun_InstallerFailureStops(t *testing.T) {
	matomo, prober, _, log := setup(t)
	installErr := errors.New("wizard broke")

	_, err := New(baseConfig(matomo.URL()), prober, &recordingInstaller{err: installErr}, failingAcquirer{}, nil, log).
		Run(context.Background())

	assert.ErrorIs(t, err, installErr)
}

func TestRun_NotReadyAfterInstall(t *testing.T) {
	// Something answers HTTP, but it is not Matomo.
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("<h1>502 Bad Gateway</h1>"))
	}))
	defer server.Close()
	_, prober, _, log := setup(t)

	_, err := New(baseConfig(server.URL), prober, &recordingInstaller{}, failingAcquirer{}, nil, log).
		Run(context.Background())

	var nrErr *health.NotReadyError
	assert.ErrorAs(t, err, &nrErr)
}

func TestRun_Preflight(t *testing.T) {
	matomo, prober, acq, log := setup(t)

	_, err := New(baseConfig(matomo.URL()), prober, &recordingInstaller{}, acq,
		&stubPreflight{tables: []string{"matomo_option"}}, log).Run(context.Background())
	require.NoError(t, err)
	assert.Len(t, log.Matching("already holds matomo tables"), 1)

	dbErr := errors.New("connection refused")
	inst := &recordingInstaller{}
	_, err = New(baseConfig(matomo.URL()), prober, inst, acq, &stubPreflight{readyErr: dbErr}, log).Run(context.Background())
	assert.ErrorIs(t, err, dbErr)
	assert.Equal(t, 0, inst.calls)
}

func TestRun_Unreachable(t *testing.T) {
	log := logger.NewTestLogger()
	cfg := health.DefaultConfig()
	cfg.ReachTimeout = 20 * time.Millisecond
	cfg.PollInterval = 5 * time.Millisecond
	prober := health.NewProber(&http.Client{}, cfg, log)
	inst := &recordingInstaller{}

	_, err := New(baseConfig("http://127.0.0.1:1"), prober, inst, failingAcquirer{}, nil, log).Run(context.Background())

	var nrErr *health.NotReachableError
	require.ErrorAs(t, err, &nrErr)
	assert.Equal(t, 0, inst.calls)
}
