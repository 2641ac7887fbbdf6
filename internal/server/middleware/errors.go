package middleware

import (
	"encoding/json"
	"fmt"
	"net/http"
	"runtime/debug"

	"github.com/fulmenhq/gofulmen/errors"
	"go.uber.org/zap"

	"github.com/owsrgate/owsrgate/internal/metrics"
	"github.com/owsrgate/owsrgate/internal/observability"
)

// Recovery middleware recovers from panics and logs them
func Recovery(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				panicErr := errors.NewErrorEnvelope("INTERNAL_ERROR", fmt.Sprintf("panic: %v", err)).
					WithCorrelationID(GetRequestID(r.Context()))
				panicErr, _ = panicErr.WithSeverity(errors.SeverityCritical)

				observability.Error("Recovered from panic",
					zap.String("request_id", panicErr.CorrelationID),
					zap.String("path", r.URL.Path),
					zap.Any("panic", err),
					zap.String("stack_trace", string(debug.Stack())))
				metrics.RecordPanic()

				writeErrorResponse(w, panicErr.Code, "internal server error", panicErr.CorrelationID, http.StatusInternalServerError)
			}
		}()

		next.ServeHTTP(w, r)
	})
}

// errorResponse mirrors the central error body; middleware cannot import the
// errors package without a cycle.
type errorResponse struct {
	Detail    string `json:"detail"`
	Code      string `json:"code,omitempty"`
	RequestID string `json:"request_id,omitempty"`
}

func writeErrorResponse(w http.ResponseWriter, code, detail, requestID string, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(errorResponse{
		Detail:    detail,
		Code:      code,
		RequestID: requestID,
	})
}
