// Package errors maps relay failures onto gofulmen error envelopes and writes
// them as HTTP responses.
package errors

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"math"
	"net/http"
	"strconv"

	"github.com/fulmenhq/gofulmen/errors"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/owsrgate/owsrgate/internal/gateway"
	"github.com/owsrgate/owsrgate/internal/metrics"
	"github.com/owsrgate/owsrgate/internal/observability"
	"github.com/owsrgate/owsrgate/internal/server/middleware"
)

// Error codes returned in the "code" field of error responses.
const (
	CodeRateLimited         = "RATE_LIMITED"
	CodeInvalidPayload      = "INVALID_PAYLOAD"
	CodeUnauthorized        = "UNAUTHORIZED"
	CodeUpstreamTimeout     = "UPSTREAM_TIMEOUT"
	CodeTokenIssuanceFailed = "TOKEN_ISSUANCE_FAILED"
	CodeSubmissionFailed    = "SUBMISSION_FAILED"
	CodeInternal            = "INTERNAL_ERROR"
	CodeNotFound            = "NOT_FOUND"
	CodeMethodNotAllowed    = "METHOD_NOT_ALLOWED"
	CodeServiceUnavailable  = "SERVICE_UNAVAILABLE"
	CodeConfigInvalid       = "CONFIG_INVALID"
)

// detail keys understood by HTTPStatusFromEnvelope and writeRetryAfter
const (
	detailOperation  = "operation"
	detailRetryAfter = "retry_after_seconds"
)

func NewNotFoundError(message string) *errors.ErrorEnvelope {
	return errors.NewErrorEnvelope(CodeNotFound, message)
}

func NewMethodNotAllowedError(message string) *errors.ErrorEnvelope {
	return errors.NewErrorEnvelope(CodeMethodNotAllowed, message)
}

func NewInternalError(message string) *errors.ErrorEnvelope {
	return errors.NewErrorEnvelope(CodeInternal, message)
}

func NewConfigInvalidError(message string) *errors.ErrorEnvelope {
	return errors.NewErrorEnvelope(CodeConfigInvalid, message)
}

func NewServiceUnavailableError(message string) *errors.ErrorEnvelope {
	return errors.NewErrorEnvelope(CodeServiceUnavailable, message)
}

// NewRateLimitedError builds a RATE_LIMITED envelope; retryAfter is rounded
// up to whole seconds and surfaced as a Retry-After header.
func NewRateLimitedError(message string, retryAfterSeconds int) *errors.ErrorEnvelope {
	envelope := errors.NewErrorEnvelope(CodeRateLimited, message)
	if retryAfterSeconds > 0 {
		envelope = envelope.WithDetails(map[string]interface{}{
			detailRetryAfter: retryAfterSeconds,
		})
	}
	return envelope
}

func NewInvalidPayloadError(message string) *errors.ErrorEnvelope {
	return errors.NewErrorEnvelope(CodeInvalidPayload, message)
}

func NewUnauthorizedError(message string) *errors.ErrorEnvelope {
	return errors.NewErrorEnvelope(CodeUnauthorized, message)
}

// Wrap functions attach request correlation and the wrapped cause.

func WrapInvalidPayload(ctx context.Context, err error, message string) *errors.ErrorEnvelope {
	return wrap(ctx, CodeInvalidPayload, err, message)
}

func WrapInternal(ctx context.Context, err error, message string) *errors.ErrorEnvelope {
	return wrap(ctx, CodeInternal, err, message)
}

func WrapConfigInvalid(ctx context.Context, err error, message string) *errors.ErrorEnvelope {
	return wrap(ctx, CodeConfigInvalid, err, message)
}

func wrap(ctx context.Context, code string, err error, message string) *errors.ErrorEnvelope {
	envelope := errors.NewErrorEnvelope(code, message)
	envelope = envelope.WithCorrelationID(extractCorrelationID(ctx))
	envelope = envelope.WithTraceID(extractCorrelationID(ctx))
	return withWrappedError(envelope, err)
}

// FromGateway converts a gateway failure into an envelope. Upstream bodies are
// kept in the log context only; the caller sees the gateway message.
func FromGateway(ctx context.Context, err error) *errors.ErrorEnvelope {
	var gwErr *gateway.Error
	if !stderrors.As(err, &gwErr) {
		envelope := WrapInternal(ctx, err, "unexpected error")
		envelope, _ = envelope.WithSeverity(errors.SeverityHigh)
		return envelope
	}

	envelope := errors.NewErrorEnvelope(codeForKind(gwErr.Kind), gwErr.Message)
	if ctx != nil {
		envelope = envelope.WithCorrelationID(extractCorrelationID(ctx))
	}

	details := map[string]interface{}{
		detailOperation: gwErr.Op,
	}
	if gwErr.Status != 0 {
		details["upstream_status"] = gwErr.Status
	}
	if gwErr.Kind == gateway.KindRateLimited {
		details[detailRetryAfter] = retryAfterSeconds(gwErr.RetryAfter.Seconds())
	}
	envelope = envelope.WithDetails(details)

	logContext := map[string]interface{}{
		detailOperation: gwErr.Op,
		"kind":          string(gwErr.Kind),
	}
	if gwErr.Status != 0 {
		logContext["upstream_status"] = gwErr.Status
	}
	if gwErr.Body != "" {
		logContext["upstream_body"] = gwErr.Body
	}
	if gwErr.Err != nil {
		logContext["wrapped_error"] = gwErr.Err.Error()
	}
	if updated, ctxErr := envelope.WithContext(logContext); ctxErr == nil {
		envelope = updated
	}

	// Caller mistakes and rate limiting keep the default severity and log at info.
	switch gwErr.Kind {
	case gateway.KindUpstreamTimeout, gateway.KindTokenIssuanceFailed, gateway.KindSubmissionFailed:
		if updated, sevErr := envelope.WithSeverity(errors.SeverityMedium); sevErr == nil {
			envelope = updated
		}
	case gateway.KindInternal:
		if updated, sevErr := envelope.WithSeverity(errors.SeverityHigh); sevErr == nil {
			envelope = updated
		}
	}
	return envelope
}

func codeForKind(kind gateway.Kind) string {
	switch kind {
	case gateway.KindRateLimited:
		return CodeRateLimited
	case gateway.KindInvalidPayload:
		return CodeInvalidPayload
	case gateway.KindUnauthorized:
		return CodeUnauthorized
	case gateway.KindUpstreamTimeout:
		return CodeUpstreamTimeout
	case gateway.KindTokenIssuanceFailed:
		return CodeTokenIssuanceFailed
	case gateway.KindSubmissionFailed:
		return CodeSubmissionFailed
	default:
		return CodeInternal
	}
}

func retryAfterSeconds(seconds float64) int {
	rounded := int(math.Ceil(seconds))
	if rounded < 1 {
		return 1
	}
	return rounded
}

// extractCorrelationID gets correlation ID from context, falls back to generating new UUID
func extractCorrelationID(ctx context.Context) string {
	if ctx != nil {
		if requestID := middleware.GetRequestID(ctx); requestID != "" {
			return requestID
		}
	}
	return uuid.New().String()
}

// EnsureEnvelope normalizes any error into a gofulmen ErrorEnvelope.
func EnsureEnvelope(err error) *errors.ErrorEnvelope {
	if err == nil {
		env := errors.NewErrorEnvelope(CodeInternal, "unexpected nil error")
		env, _ = env.WithSeverity(errors.SeverityCritical)
		return env
	}

	if envelope, ok := err.(*errors.ErrorEnvelope); ok && envelope != nil {
		return envelope
	}

	var gwErr *gateway.Error
	if stderrors.As(err, &gwErr) {
		return FromGateway(nil, gwErr)
	}

	env := errors.NewErrorEnvelope(CodeInternal, "unexpected error")
	env, _ = env.WithContext(map[string]interface{}{
		"wrapped_error": err.Error(),
	})
	env, _ = env.WithSeverity(errors.SeverityHigh)
	return env
}

// EnsureCorrelationID attaches a correlation ID to the envelope using the context when available.
func EnsureCorrelationID(envelope *errors.ErrorEnvelope, ctx context.Context) *errors.ErrorEnvelope {
	if envelope == nil {
		return nil
	}

	if envelope.CorrelationID != "" {
		return envelope
	}

	var correlationID string
	if ctx != nil {
		correlationID = middleware.GetRequestID(ctx)
	}

	if correlationID == "" {
		correlationID = "fallback-" + errors.GenerateCorrelationID()
	}

	return envelope.WithCorrelationID(correlationID)
}

// HTTPStatusFromEnvelope resolves the HTTP status code corresponding to an error envelope.
// Upstream timeouts take the status of the operation that timed out.
func HTTPStatusFromEnvelope(envelope *errors.ErrorEnvelope) int {
	if envelope == nil {
		return http.StatusInternalServerError
	}
	if envelope.Code == CodeUpstreamTimeout {
		op, _ := envelope.Details[detailOperation].(string)
		return UpstreamTimeoutStatus(op)
	}
	return HTTPStatusFromCode(envelope.Code)
}

// UpstreamTimeoutStatus returns the status for a timed-out operation: the
// token endpoint reports it as an issuance failure, submission as a bad request.
func UpstreamTimeoutStatus(operation string) int {
	switch operation {
	case gateway.OpTokenIssuance:
		return http.StatusUnauthorized
	case gateway.OpInventorySubmission:
		return http.StatusBadRequest
	default:
		return http.StatusGatewayTimeout
	}
}

// HTTPStatusFromCode resolves the HTTP status code corresponding to an error code.
func HTTPStatusFromCode(code string) int {
	switch code {
	case CodeInvalidPayload, CodeSubmissionFailed:
		return http.StatusBadRequest
	case CodeUnauthorized, CodeTokenIssuanceFailed:
		return http.StatusUnauthorized
	case CodeRateLimited:
		return http.StatusTooManyRequests
	case CodeNotFound:
		return http.StatusNotFound
	case CodeMethodNotAllowed:
		return http.StatusMethodNotAllowed
	case CodeUpstreamTimeout:
		return http.StatusGatewayTimeout
	case CodeServiceUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func withWrappedError(envelope *errors.ErrorEnvelope, err error) *errors.ErrorEnvelope {
	if envelope == nil || err == nil {
		return envelope
	}

	updated, updateErr := envelope.WithContext(map[string]interface{}{
		"wrapped_error": err.Error(),
	})
	if updateErr != nil {
		return envelope
	}
	return updated
}

// HTTPErrorResponse is the body written for every failed request. Detail is
// the human-readable message; Code and RequestID are diagnostics.
type HTTPErrorResponse struct {
	Detail    string `json:"detail"`
	Code      string `json:"code,omitempty"`
	RequestID string `json:"request_id,omitempty"`
}

// RespondWithError normalizes the supplied error and writes a JSON response.
func RespondWithError(w http.ResponseWriter, r *http.Request, err error) {
	RespondWithEnvelope(w, r, EnsureEnvelope(err))
}

// RespondWithEnvelope finalizes the provided envelope, logging and emitting metrics.
func RespondWithEnvelope(w http.ResponseWriter, r *http.Request, envelope *errors.ErrorEnvelope) {
	if w == nil {
		return
	}

	if r != nil {
		envelope = EnsureCorrelationID(envelope, r.Context())
	} else {
		envelope = EnsureCorrelationID(envelope, nil)
	}

	statusCode := HTTPStatusFromEnvelope(envelope)

	response := HTTPErrorResponse{
		Detail:    envelope.Message,
		Code:      envelope.Code,
		RequestID: envelope.CorrelationID,
	}

	logHTTPError(envelope, statusCode)
	emitErrorMetrics(r, envelope, statusCode)

	if seconds := retryAfterDetail(envelope); seconds > 0 {
		w.Header().Set("Retry-After", strconv.Itoa(seconds))
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(response)
}

func retryAfterDetail(envelope *errors.ErrorEnvelope) int {
	switch v := envelope.Details[detailRetryAfter].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(math.Ceil(v))
	default:
		return 0
	}
}

func logHTTPError(envelope *errors.ErrorEnvelope, statusCode int) {
	if observability.ServerLogger == nil || envelope == nil {
		return
	}

	fields := []zap.Field{
		zap.String("error_code", envelope.Code),
		zap.Int("http_status", statusCode),
	}

	if envelope.Severity != "" {
		fields = append(fields, zap.String("severity", string(envelope.Severity)))
	}

	for key, value := range envelope.Context {
		fields = append(fields, zap.Any(key, value))
	}

	if envelope.CorrelationID != "" {
		fields = append(fields, zap.String("request_id", envelope.CorrelationID))
	}

	switch envelope.Severity {
	case errors.SeverityCritical, errors.SeverityHigh:
		observability.ServerLogger.Error(envelope.Message, fields...)
	case errors.SeverityMedium:
		observability.ServerLogger.Warn(envelope.Message, fields...)
	default:
		observability.ServerLogger.Info(envelope.Message, fields...)
	}
}

func emitErrorMetrics(r *http.Request, envelope *errors.ErrorEnvelope, statusCode int) {
	if envelope == nil {
		return
	}

	metrics.RecordError(envelope.Code, statusCode)
	if r != nil {
		metrics.RecordErrorByEndpoint(r.URL.Path, envelope.Code)
	}
}
