package server

import (
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	apperrors "github.com/owsrgate/owsrgate/internal/errors"
	"github.com/owsrgate/owsrgate/internal/observability"
)

var metricsProxyClient = &http.Client{
	Timeout: 5 * time.Second,
}

// hopHeaders are not copied from the exporter response.
var hopHeaders = map[string]struct{}{
	"Connection":          {},
	"Keep-Alive":          {},
	"Proxy-Authenticate":  {},
	"Proxy-Authorization": {},
	"Te":                  {},
	"Trailer":             {},
	"Transfer-Encoding":   {},
	"Upgrade":             {},
}

// newMetricsHandler proxies the Prometheus exporter so /metrics can be
// scraped on the main HTTP port.
func newMetricsHandler(fallbackPort int) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if observability.PrometheusExporter == nil {
			HandleError(w, r, apperrors.NewServiceUnavailableError("Metrics exporter not initialized"))
			return
		}

		metricsPort := observability.GetMetricsPort()
		if metricsPort == 0 {
			metricsPort = fallbackPort
		}
		if metricsPort == 0 {
			metricsPort = 9090
		}
		metricsURL := fmt.Sprintf("http://127.0.0.1:%d/metrics", metricsPort)

		req, err := http.NewRequestWithContext(r.Context(), http.MethodGet, metricsURL, nil)
		if err != nil {
			HandleError(w, r, apperrors.WrapInternal(r.Context(), err, "Unable to construct metrics request"))
			return
		}
		if accept := r.Header.Get("Accept"); accept != "" {
			req.Header.Set("Accept", accept)
		}

		resp, err := metricsProxyClient.Do(req)
		if err != nil {
			envelope := apperrors.NewServiceUnavailableError("Prometheus exporter unavailable")
			envelope, _ = envelope.WithContext(map[string]interface{}{
				"metrics_url":    metricsURL,
				"original_error": err.Error(),
			})
			HandleError(w, r, envelope)
			return
		}
		defer func() {
			if err := resp.Body.Close(); err != nil {
				observability.Warn("Failed to close metrics response body", zap.Error(err))
			}
		}()

		for key, values := range resp.Header {
			if _, hop := hopHeaders[http.CanonicalHeaderKey(key)]; hop {
				continue
			}
			for _, v := range values {
				w.Header().Add(key, v)
			}
		}
		if resp.Header.Get("Content-Type") == "" {
			w.Header().Set("Content-Type", "text/plain; version=0.0.4")
		}

		w.WriteHeader(resp.StatusCode)
		if _, err := io.Copy(w, resp.Body); err != nil {
			observability.Warn("Failed to write metrics response", zap.Error(err))
		}
	}
}
