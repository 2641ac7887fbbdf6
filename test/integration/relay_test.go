package integration

import (
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/owsrgate/owsrgate/internal/admission"
	"github.com/owsrgate/owsrgate/internal/gateway"
	"github.com/owsrgate/owsrgate/internal/observability"
	"github.com/owsrgate/owsrgate/internal/server"
)

// cleanupMetrics tears down global telemetry state so each test starts clean.
// This matters in sandboxes where lingering exporters can block future binds.
func cleanupMetrics(t *testing.T) {
	t.Helper()
	t.Cleanup(func() {
		if observability.PrometheusExporter != nil {
			_ = observability.PrometheusExporter.Stop()
			observability.PrometheusExporter = nil
		}
		observability.TelemetrySystem = nil
	})
}

// isPermissionError normalizes OS-specific permission errors (macOS/Linux/BSD)
// so we can gracefully skip when loopback sockets are blocked.
func isPermissionError(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, os.ErrPermission) || errors.Is(err, syscall.EACCES) {
		return true
	}

	msg := strings.ToLower(err.Error())
	for _, fragment := range []string{"permission denied", "operation not permitted", "not permitted"} {
		if strings.Contains(msg, fragment) {
			return true
		}
	}

	return false
}

// initMetricsOrSkip attempts to start the metrics exporter; if the environment
// forbids network binds we skip instead of failing the entire suite.
func initMetricsOrSkip(t *testing.T) {
	t.Helper()

	if err := observability.InitMetrics("test", 0); err != nil {
		if isPermissionError(err) {
			t.Skipf("skipping metrics tests due to sandbox permissions: %v", err)
		}
		require.NoError(t, err)
	}

	cleanupMetrics(t)
}

func listenOrSkip(t *testing.T) net.Listener {
	t.Helper()
	listener, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		if isPermissionError(err) {
			t.Skipf("skipping server setup: %v", err)
		}
		require.NoError(t, err)
	}
	return listener
}

// fakeUpstream serves both the token and the import endpoint.
type fakeUpstream struct {
	tokenCalls  atomic.Int64
	submitCalls atomic.Int64
	submitDelay time.Duration
}

func (f *fakeUpstream) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	switch r.URL.Path {
	case "/token":
		f.tokenCalls.Add(1)
		_, _ = io.WriteString(w, `{"access_token":"tok","token_type":"Bearer","expires_in":300}`)
	case "/import":
		f.submitCalls.Add(1)
		time.Sleep(f.submitDelay)
		if r.Header.Get("Authorization") != "Bearer tok" {
			w.WriteHeader(http.StatusForbidden)
			_, _ = io.WriteString(w, `{"error":"forbidden"}`)
			return
		}
		_, _ = io.WriteString(w, `{"id":"abc"}`)
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

// newRelay starts the relay against upstream with the given limits.
func newRelay(t *testing.T, upstreamURL string, tokenLimit, submitLimit int, timeout time.Duration) (*httptest.Server, *http.Client) {
	t.Helper()

	gw := gateway.New(gateway.Config{
		TokenURL:      upstreamURL + "/token",
		SubmissionURL: upstreamURL + "/import",
		ClientID:      "relay",
		ClientSecret:  "secret",
		Timeout:       timeout,
	},
		gateway.WithTokenAdmission(admission.New(tokenLimit, time.Minute, admission.WithName(gateway.OpTokenIssuance))),
		gateway.WithSubmissionAdmission(admission.New(submitLimit, time.Minute, admission.WithName(gateway.OpInventorySubmission))),
	)

	srv := server.New(server.Options{Host: "127.0.0.1", Relay: gw})

	ts := &httptest.Server{
		Listener: listenOrSkip(t),
		Config:   &http.Server{Handler: srv.Handler()},
	}
	ts.Start()
	t.Cleanup(ts.Close)
	return ts, ts.Client()
}

func TestRelay_ConcurrentTokenRequestsRespectWindow(t *testing.T) {
	observability.InitServerLogger("test", "error", "structured", "test")
	initMetricsOrSkip(t)

	upstream := &fakeUpstream{}
	up := httptest.NewServer(upstream)
	t.Cleanup(up.Close)

	ts, client := newRelay(t, up.URL, 60, 60, 5*time.Second)

	const attempts = 120
	var ok, limited atomic.Int64
	var wg sync.WaitGroup
	wg.Add(attempts)
	for i := 0; i < attempts; i++ {
		go func() {
			defer wg.Done()
			resp, err := client.Post(ts.URL+"/get-access-token", "application/json", nil)
			if !assert.NoError(t, err) {
				return
			}
			defer func() { _ = resp.Body.Close() }()
			switch resp.StatusCode {
			case http.StatusOK:
				ok.Add(1)
			case http.StatusTooManyRequests:
				limited.Add(1)
				assert.NotEmpty(t, resp.Header.Get("Retry-After"))
			default:
				t.Errorf("unexpected status %d", resp.StatusCode)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(60), ok.Load())
	assert.Equal(t, int64(60), limited.Load())
	assert.Equal(t, int64(60), upstream.tokenCalls.Load())

	resp, err := client.Get(ts.URL + "/metrics")
	require.NoError(t, err)
	body, readErr := io.ReadAll(resp.Body)
	require.NoError(t, resp.Body.Close())
	require.NoError(t, readErr)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	metricsContent := string(body)
	assert.Contains(t, metricsContent, "relay_admission_total")
	assert.Contains(t, metricsContent, "relay_upstream_calls_total")
	assert.Contains(t, metricsContent, "http_requests_total")
}

func TestRelay_SubmitRoundTrip(t *testing.T) {
	observability.InitServerLogger("test", "error", "structured", "test")

	upstream := &fakeUpstream{}
	up := httptest.NewServer(upstream)
	t.Cleanup(up.Close)

	ts, client := newRelay(t, up.URL, 60, 60, 5*time.Second)

	submit := func(auth, body string) (int, string) {
		req, err := http.NewRequest(http.MethodPost, ts.URL+"/submit-owsr", strings.NewReader(body))
		require.NoError(t, err)
		req.Header.Set("Content-Type", "application/json")
		if auth != "" {
			req.Header.Set("Authorization", auth)
		}
		resp, err := client.Do(req)
		require.NoError(t, err)
		defer func() { _ = resp.Body.Close() }()
		raw, err := io.ReadAll(resp.Body)
		require.NoError(t, err)
		return resp.StatusCode, string(raw)
	}

	status, body := submit("Bearer tok", `{"inventoryDate":"2024-05-01","records":[{"sku":"A1","qty":3}]}`)
	assert.Equal(t, http.StatusOK, status)
	assert.JSONEq(t, `{"id":"abc"}`, body)

	// Upstream rejects the token: surfaced as a submission failure with the raw body
	status, body = submit("Bearer other", `{"inventoryDate":"2024-05-01","records":[]}`)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Contains(t, body, "SUBMISSION_FAILED")
	assert.Contains(t, body, "forbidden")

	status, _ = submit("Bearer tok", `{"inventoryDate":"2024-02-30","records":[]}`)
	assert.Equal(t, http.StatusBadRequest, status)

	status, _ = submit("", `{"inventoryDate":"2024-05-01","records":[]}`)
	assert.Equal(t, http.StatusUnauthorized, status)

	assert.Equal(t, int64(2), upstream.submitCalls.Load(), "validation failures must not reach upstream")
}

func TestRelay_SubmitTimeout(t *testing.T) {
	observability.InitServerLogger("test", "error", "structured", "test")

	upstream := &fakeUpstream{submitDelay: 500 * time.Millisecond}
	up := httptest.NewServer(upstream)
	t.Cleanup(up.Close)

	ts, client := newRelay(t, up.URL, 60, 60, 100*time.Millisecond)

	start := time.Now()
	req, err := http.NewRequest(http.MethodPost, ts.URL+"/submit-owsr",
		strings.NewReader(`{"inventoryDate":"2024-05-01","records":[]}`))
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer tok")
	resp, err := client.Do(req)
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	_ = resp.Body.Close()

	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Contains(t, string(body), "UPSTREAM_TIMEOUT")
	assert.GreaterOrEqual(t, time.Since(start), 100*time.Millisecond)
}

func TestMetricsEndpoint_WithTelemetryDisabled(t *testing.T) {
	originalExporter := observability.PrometheusExporter
	originalTelemetry := observability.TelemetrySystem
	observability.PrometheusExporter = nil
	observability.TelemetrySystem = nil
	t.Cleanup(func() {
		observability.PrometheusExporter = originalExporter
		observability.TelemetrySystem = originalTelemetry
	})

	up := httptest.NewServer(&fakeUpstream{})
	t.Cleanup(up.Close)
	ts, client := newRelay(t, up.URL, 60, 60, time.Second)

	resp, err := client.Get(ts.URL + "/metrics")
	require.NoError(t, err)
	require.NoError(t, resp.Body.Close())
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}
