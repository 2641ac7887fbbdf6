// Package gateway performs the outbound calls to the identity provider and
// the OWSR submission service. It injects client credentials, applies
// admission control, bounds every call with a timeout and normalizes all
// failures into *Error.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/owsrgate/owsrgate/internal/admission"
	"github.com/owsrgate/owsrgate/internal/metrics"
	"github.com/owsrgate/owsrgate/internal/observability"
)

// Defaults for the token request and outbound calls.
const (
	DefaultScope   = "openid profile email"
	DefaultTimeout = 30 * time.Second
	grantType      = "client_credentials"

	// maxUpstreamBody caps how much of an upstream response is buffered.
	maxUpstreamBody = 10 << 20
)

// Admitter gates an operation. *admission.Controller satisfies it.
type Admitter interface {
	Admit() admission.Decision
}

// Config holds the upstream endpoints and static credentials.
type Config struct {
	TokenURL      string
	SubmissionURL string
	ClientID      string
	ClientSecret  string
	Scope         string
	Timeout       time.Duration
}

// Gateway performs token issuance and inventory submission.
type Gateway struct {
	cfg        Config
	client     *http.Client
	tokenGate  Admitter
	submitGate Admitter
}

// Option configures a Gateway.
type Option func(*Gateway)

// WithHTTPClient replaces the HTTP client used for outbound calls. The
// gateway applies its own per-call deadline on top of it.
func WithHTTPClient(client *http.Client) Option {
	return func(g *Gateway) {
		if client != nil {
			g.client = client
		}
	}
}

// WithTokenAdmission gates FetchAccessToken.
func WithTokenAdmission(a Admitter) Option {
	return func(g *Gateway) { g.tokenGate = a }
}

// WithSubmissionAdmission gates SubmitInventory.
func WithSubmissionAdmission(a Admitter) Option {
	return func(g *Gateway) { g.submitGate = a }
}

// New creates a gateway.
func New(cfg Config, opts ...Option) *Gateway {
	if strings.TrimSpace(cfg.Scope) == "" {
		cfg.Scope = DefaultScope
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	g := &Gateway{
		cfg:    cfg,
		client: &http.Client{},
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Timeout returns the per-call deadline.
func (g *Gateway) Timeout() time.Duration {
	return g.cfg.Timeout
}

// FetchAccessToken requests a client-credentials token and returns the
// upstream JSON body unmodified.
func (g *Gateway) FetchAccessToken(ctx context.Context) (json.RawMessage, error) {
	if err := g.admit(OpTokenIssuance, g.tokenGate); err != nil {
		return nil, err
	}

	form := url.Values{}
	form.Set("grant_type", grantType)
	form.Set("scope", g.cfg.Scope)
	form.Set("client_id", g.cfg.ClientID)
	form.Set("client_secret", g.cfg.ClientSecret)

	return g.post(ctx, OpTokenIssuance, g.cfg.TokenURL, strings.NewReader(form.Encode()), http.Header{
		"Content-Type": []string{"application/x-www-form-urlencoded"},
		"Accept":       []string{"application/json"},
	})
}

// SubmitInventory validates the payload and bearer credential, then forwards
// the payload as JSON and returns the upstream JSON body unmodified.
func (g *Gateway) SubmitInventory(ctx context.Context, payload *SubmissionPayload, authorization string) (json.RawMessage, error) {
	if err := g.admit(OpInventorySubmission, g.submitGate); err != nil {
		return nil, err
	}
	if err := payload.Validate(); err != nil {
		logFailure(err)
		return nil, err
	}
	if err := ValidateAuthorization(authorization); err != nil {
		logFailure(err)
		return nil, err
	}

	body, err := json.Marshal(payload)
	if err != nil {
		gwErr := &Error{Kind: KindInternal, Op: OpInventorySubmission, Message: "failed to encode submission payload", Err: err}
		logFailure(gwErr)
		return nil, gwErr
	}

	return g.post(ctx, OpInventorySubmission, g.cfg.SubmissionURL, bytes.NewReader(body), http.Header{
		"Content-Type":  []string{"application/json"},
		"Accept":        []string{"application/json"},
		"Authorization": []string{authorization},
	})
}

func (g *Gateway) admit(op string, gate Admitter) error {
	if gate == nil {
		return nil
	}
	decision := gate.Admit()
	metrics.RecordAdmission(op, decision.Allowed)
	if decision.Allowed {
		return nil
	}
	err := &Error{
		Kind:       KindRateLimited,
		Op:         op,
		Message:    "rate limit exceeded, try again later",
		RetryAfter: decision.RetryAfter,
	}
	logFailure(err)
	return err
}

// post performs one outbound call. The deadline is detached from caller
// cancellation so the call is abandoned only when the timeout elapses.
func (g *Gateway) post(ctx context.Context, op, target string, body io.Reader, header http.Header) (json.RawMessage, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	callCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), g.cfg.Timeout)
	defer cancel()

	start := time.Now()
	raw, err := g.do(callCtx, op, target, body, header)
	duration := time.Since(start)

	outcome := "success"
	if err != nil {
		outcome = string(KindOf(err))
		logFailure(err, zap.Duration("duration", duration))
	} else {
		observability.Debug("Upstream call succeeded",
			zap.String("operation", op),
			zap.Duration("duration", duration))
	}
	metrics.RecordUpstreamCall(op, outcome, duration)

	return raw, err
}

func (g *Gateway) do(ctx context.Context, op, target string, body io.Reader, header http.Header) (json.RawMessage, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, body)
	if err != nil {
		return nil, &Error{Kind: KindInternal, Op: op, Message: "failed to build upstream request", Err: err}
	}
	for key, values := range header {
		for _, v := range values {
			req.Header.Add(key, v)
		}
	}

	resp, err := g.client.Do(req)
	if err != nil {
		return nil, transportError(ctx, op, err)
	}
	defer resp.Body.Close() // nolint:errcheck // best-effort cleanup on HTTP response body

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxUpstreamBody))
	if err != nil {
		return nil, transportError(ctx, op, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, statusError(op, resp.StatusCode, data)
	}

	if !json.Valid(data) {
		return nil, &Error{
			Kind:    KindInternal,
			Op:      op,
			Message: "upstream returned a non-JSON success body",
			Status:  resp.StatusCode,
		}
	}
	return json.RawMessage(data), nil
}

func statusError(op string, status int, body []byte) *Error {
	text := strings.TrimSpace(string(body))
	switch op {
	case OpTokenIssuance:
		return &Error{
			Kind:    KindTokenIssuanceFailed,
			Op:      op,
			Message: "Failed to fetch access token.",
			Status:  status,
			Body:    text,
		}
	default:
		message := text
		if message == "" {
			message = http.StatusText(status)
		}
		return &Error{
			Kind:    KindSubmissionFailed,
			Op:      op,
			Message: message,
			Status:  status,
			Body:    text,
		}
	}
}

func transportError(ctx context.Context, op string, err error) *Error {
	if isTimeout(ctx, err) {
		return &Error{Kind: KindUpstreamTimeout, Op: op, Message: "upstream did not respond in time", Err: err}
	}
	return &Error{Kind: KindInternal, Op: op, Message: "upstream request failed", Err: err}
}

func isTimeout(ctx context.Context, err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

func logFailure(err error, extra ...zap.Field) {
	var gwErr *Error
	if !errors.As(err, &gwErr) {
		observability.Error("Upstream gateway failure", append(extra, zap.Error(err))...)
		return
	}

	fields := []zap.Field{
		zap.String("operation", gwErr.Op),
		zap.String("kind", string(gwErr.Kind)),
	}
	if gwErr.Status != 0 {
		fields = append(fields, zap.Int("upstream_status", gwErr.Status))
	}
	if gwErr.RetryAfter > 0 {
		fields = append(fields, zap.Duration("retry_after", gwErr.RetryAfter))
	}
	if gwErr.Err != nil {
		fields = append(fields, zap.Error(gwErr.Err))
	}
	fields = append(fields, extra...)

	switch gwErr.Kind {
	case KindInternal:
		observability.Error(gwErr.Message, fields...)
	case KindInvalidPayload, KindUnauthorized, KindRateLimited:
		observability.Info(gwErr.Message, fields...)
	default:
		observability.Warn(gwErr.Message, fields...)
	}
}
