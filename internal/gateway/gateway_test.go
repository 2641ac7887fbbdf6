package gateway

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/owsrgate/owsrgate/internal/admission"
)

func validPayload() *SubmissionPayload {
	return &SubmissionPayload{
		InventoryDate: "2024-05-01",
		Records: []map[string]any{
			{"warehouse": "ROT", "tonnes": json.Number("125.5")},
		},
	}
}

// countingServer returns a server that answers every request with status and
// body, and a counter of requests received.
func countingServer(t *testing.T, status int, body string) (*httptest.Server, *atomic.Int64) {
	t.Helper()
	var calls atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = io.WriteString(w, body)
	}))
	t.Cleanup(srv.Close)
	return srv, &calls
}

// hangingServer never answers until the client gives up or the test ends.
func hangingServer(t *testing.T) *httptest.Server {
	t.Helper()
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-release:
		}
	}))
	t.Cleanup(func() {
		close(release)
		srv.Close()
	})
	return srv
}

func TestFetchAccessTokenSendsClientCredentials(t *testing.T) {
	var form map[string]string
	var contentType string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.NoError(t, r.ParseForm())
		contentType = r.Header.Get("Content-Type")
		form = map[string]string{
			"grant_type":    r.PostForm.Get("grant_type"),
			"scope":         r.PostForm.Get("scope"),
			"client_id":     r.PostForm.Get("client_id"),
			"client_secret": r.PostForm.Get("client_secret"),
		}
		_, _ = io.WriteString(w, `{"access_token":"xyz","expires_in":3599,"token_type":"Bearer"}`)
	}))
	defer srv.Close()

	gw := New(Config{TokenURL: srv.URL, ClientID: "client", ClientSecret: "secret"})

	body, err := gw.FetchAccessToken(context.Background())
	require.NoError(t, err)
	assert.JSONEq(t, `{"access_token":"xyz","expires_in":3599,"token_type":"Bearer"}`, string(body))
	assert.Equal(t, "application/x-www-form-urlencoded", contentType)
	assert.Equal(t, map[string]string{
		"grant_type":    "client_credentials",
		"scope":         "openid profile email",
		"client_id":     "client",
		"client_secret": "secret",
	}, form)
}

func TestFetchAccessTokenRateLimitedSkipsUpstream(t *testing.T) {
	srv, calls := countingServer(t, http.StatusOK, `{"access_token":"xyz"}`)
	gate := admission.New(1, time.Minute)
	gw := New(Config{TokenURL: srv.URL}, WithTokenAdmission(gate))

	_, err := gw.FetchAccessToken(context.Background())
	require.NoError(t, err)

	_, err = gw.FetchAccessToken(context.Background())
	require.Error(t, err)

	var gwErr *Error
	require.ErrorAs(t, err, &gwErr)
	assert.Equal(t, KindRateLimited, gwErr.Kind)
	assert.Greater(t, gwErr.RetryAfter, time.Duration(0))
	assert.Equal(t, int64(1), calls.Load())
}

func TestFetchAccessTokenNon2xx(t *testing.T) {
	srv, _ := countingServer(t, http.StatusUnauthorized, `{"error":"invalid_client"}`)
	gw := New(Config{TokenURL: srv.URL})

	_, err := gw.FetchAccessToken(context.Background())

	var gwErr *Error
	require.ErrorAs(t, err, &gwErr)
	assert.Equal(t, KindTokenIssuanceFailed, gwErr.Kind)
	assert.Equal(t, http.StatusUnauthorized, gwErr.Status)
	assert.Equal(t, `{"error":"invalid_client"}`, gwErr.Body)
}

func TestFetchAccessTokenNonJSONSuccessIsInternal(t *testing.T) {
	srv, _ := countingServer(t, http.StatusOK, `<html>ok</html>`)
	gw := New(Config{TokenURL: srv.URL})

	_, err := gw.FetchAccessToken(context.Background())
	assert.Equal(t, KindInternal, KindOf(err))
}

func TestFetchAccessTokenTransportFailureIsInternal(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	target := srv.URL
	srv.Close()

	gw := New(Config{TokenURL: target})

	_, err := gw.FetchAccessToken(context.Background())
	require.Error(t, err)
	assert.Equal(t, KindInternal, KindOf(err))
}

func TestSubmitInventoryInvalidDateMakesNoCall(t *testing.T) {
	srv, calls := countingServer(t, http.StatusOK, `{}`)
	gw := New(Config{SubmissionURL: srv.URL})

	payload := validPayload()
	payload.InventoryDate = "2024-13-40"

	_, err := gw.SubmitInventory(context.Background(), payload, "Bearer abc")
	assert.Equal(t, KindInvalidPayload, KindOf(err))
	assert.Equal(t, int64(0), calls.Load())
}

func TestSubmitInventoryRequiresBearerPrefix(t *testing.T) {
	srv, calls := countingServer(t, http.StatusOK, `{}`)
	gw := New(Config{SubmissionURL: srv.URL})

	_, err := gw.SubmitInventory(context.Background(), validPayload(), "token abc")
	assert.Equal(t, KindUnauthorized, KindOf(err))
	assert.Equal(t, int64(0), calls.Load())
}

func TestSubmitInventoryValidatesDateBeforeAuthorization(t *testing.T) {
	gw := New(Config{SubmissionURL: "http://127.0.0.1:1"})

	payload := validPayload()
	payload.InventoryDate = "not-a-date"

	_, err := gw.SubmitInventory(context.Background(), payload, "token abc")
	assert.Equal(t, KindInvalidPayload, KindOf(err))
}

func TestSubmitInventoryPassthrough(t *testing.T) {
	var received map[string]any
	var authorization, contentType string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authorization = r.Header.Get("Authorization")
		contentType = r.Header.Get("Content-Type")
		dec := json.NewDecoder(r.Body)
		dec.UseNumber()
		assert.NoError(t, dec.Decode(&received))
		_, _ = io.WriteString(w, `{"id":"abc"}`)
	}))
	defer srv.Close()

	gw := New(Config{SubmissionURL: srv.URL})

	body, err := gw.SubmitInventory(context.Background(), validPayload(), "Bearer abc")
	require.NoError(t, err)
	assert.Equal(t, `{"id":"abc"}`, string(body))
	assert.Equal(t, "Bearer abc", authorization)
	assert.Equal(t, "application/json", contentType)
	assert.Equal(t, "2024-05-01", received["inventoryDate"])

	records, ok := received["records"].([]any)
	require.True(t, ok)
	require.Len(t, records, 1)
	assert.Equal(t, json.Number("125.5"), records[0].(map[string]any)["tonnes"])
}

func TestSubmitInventoryUpstream503(t *testing.T) {
	srv, _ := countingServer(t, http.StatusServiceUnavailable, "maintenance window")
	gw := New(Config{SubmissionURL: srv.URL})

	_, err := gw.SubmitInventory(context.Background(), validPayload(), "Bearer abc")

	var gwErr *Error
	require.ErrorAs(t, err, &gwErr)
	assert.Equal(t, KindSubmissionFailed, gwErr.Kind)
	assert.Equal(t, http.StatusServiceUnavailable, gwErr.Status)
	assert.Equal(t, "maintenance window", gwErr.Body)
	assert.Equal(t, "maintenance window", gwErr.Message)
}

func TestSubmitInventoryAdmission(t *testing.T) {
	srv, calls := countingServer(t, http.StatusOK, `{"id":"abc"}`)
	gw := New(Config{SubmissionURL: srv.URL}, WithSubmissionAdmission(admission.New(2, time.Minute)))

	for i := 0; i < 2; i++ {
		_, err := gw.SubmitInventory(context.Background(), validPayload(), "Bearer abc")
		require.NoError(t, err)
	}

	_, err := gw.SubmitInventory(context.Background(), validPayload(), "Bearer abc")
	assert.Equal(t, KindRateLimited, KindOf(err))
	assert.Equal(t, int64(2), calls.Load())
}

func TestUpstreamTimeoutAtDeadline(t *testing.T) {
	const timeout = 150 * time.Millisecond
	srv := hangingServer(t)

	gw := New(Config{TokenURL: srv.URL, SubmissionURL: srv.URL, Timeout: timeout})

	t.Run("token issuance", func(t *testing.T) {
		start := time.Now()
		_, err := gw.FetchAccessToken(context.Background())
		elapsed := time.Since(start)

		assert.Equal(t, KindUpstreamTimeout, KindOf(err))
		assert.GreaterOrEqual(t, elapsed, timeout)
		assert.Less(t, elapsed, 5*time.Second)
	})

	t.Run("inventory submission", func(t *testing.T) {
		start := time.Now()
		_, err := gw.SubmitInventory(context.Background(), validPayload(), "Bearer abc")
		elapsed := time.Since(start)

		assert.Equal(t, KindUpstreamTimeout, KindOf(err))
		assert.GreaterOrEqual(t, elapsed, timeout)
		assert.Less(t, elapsed, 5*time.Second)
	})
}

func TestCallerCancellationDoesNotAbandonCall(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(100 * time.Millisecond)
		_, _ = io.WriteString(w, `{"id":"late"}`)
	}))
	defer srv.Close()

	gw := New(Config{SubmissionURL: srv.URL, Timeout: 5 * time.Second})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	body, err := gw.SubmitInventory(ctx, validPayload(), "Bearer abc")
	require.NoError(t, err)
	assert.Equal(t, `{"id":"late"}`, string(body))
}

func TestNewAppliesDefaults(t *testing.T) {
	gw := New(Config{})
	assert.Equal(t, DefaultTimeout, gw.Timeout())
	assert.Equal(t, DefaultScope, gw.cfg.Scope)
}

func TestErrorMessageIncludesStatus(t *testing.T) {
	err := &Error{Kind: KindSubmissionFailed, Op: OpInventorySubmission, Message: "boom", Status: 503}
	assert.Contains(t, err.Error(), "upstream status 503")
	assert.Equal(t, KindInternal, KindOf(io.EOF))
}
