package handlers

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"net/http"

	"go.uber.org/zap"

	apperrors "github.com/owsrgate/owsrgate/internal/errors"
	"github.com/owsrgate/owsrgate/internal/gateway"
	"github.com/owsrgate/owsrgate/internal/observability"
	"github.com/owsrgate/owsrgate/internal/server/middleware"
)

// MaxSubmissionBytes caps the inbound inventory body.
const MaxSubmissionBytes = 10 << 20

// Relay is the upstream surface the relay handlers depend on.
type Relay interface {
	FetchAccessToken(ctx context.Context) (json.RawMessage, error)
	SubmitInventory(ctx context.Context, payload *gateway.SubmissionPayload, authorization string) (json.RawMessage, error)
}

// RelayHandler exposes the token and submission endpoints.
type RelayHandler struct {
	relay Relay
}

// NewRelayHandler creates a handler backed by relay.
func NewRelayHandler(relay Relay) *RelayHandler {
	return &RelayHandler{relay: relay}
}

// GetAccessToken handles POST /get-access-token.
func (h *RelayHandler) GetAccessToken(w http.ResponseWriter, r *http.Request) {
	body, err := h.relay.FetchAccessToken(r.Context())
	if err != nil {
		respondWithError(w, r, apperrors.FromGateway(r.Context(), err))
		return
	}
	writePassthrough(w, r, body)
}

// SubmitOWSR handles POST /submit-owsr. The Authorization header is passed
// through untouched; the gateway enforces the Bearer scheme after the payload
// checks.
func (h *RelayHandler) SubmitOWSR(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, MaxSubmissionBytes)

	decoder := json.NewDecoder(r.Body)
	decoder.UseNumber()

	var payload gateway.SubmissionPayload
	if err := decoder.Decode(&payload); err != nil {
		respondWithError(w, r, apperrors.WrapInvalidPayload(r.Context(), err, decodeMessage(err)))
		return
	}

	body, err := h.relay.SubmitInventory(r.Context(), &payload, r.Header.Get("Authorization"))
	if err != nil {
		respondWithError(w, r, apperrors.FromGateway(r.Context(), err))
		return
	}
	writePassthrough(w, r, body)
}

func decodeMessage(err error) string {
	var maxErr *http.MaxBytesError
	if stderrors.As(err, &maxErr) {
		return "request body too large"
	}
	return "request body must be a JSON object with inventoryDate and records"
}

func writePassthrough(w http.ResponseWriter, r *http.Request, body json.RawMessage) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(body); err != nil {
		observability.Warn("Failed to write relay response",
			zap.String("path", r.URL.Path),
			zap.String("requestID", middleware.GetRequestID(r.Context())),
			zap.Error(err))
	}
}
