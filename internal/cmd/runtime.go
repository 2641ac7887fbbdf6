package cmd

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/owsrgate/owsrgate/internal/admission"
	"github.com/owsrgate/owsrgate/internal/config"
	"github.com/owsrgate/owsrgate/internal/gateway"
	"github.com/owsrgate/owsrgate/internal/observability"
	"github.com/owsrgate/owsrgate/internal/output"
	"github.com/owsrgate/owsrgate/internal/server/handlers"
)

// relayRuntime wires admission controllers into a gateway. A nil controller
// means the operation is ungated.
type relayRuntime struct {
	tokenGate  *admission.Controller
	submitGate *admission.Controller
	gateway    *gateway.Gateway
}

func newRelayRuntime(cfg *config.Config) *relayRuntime {
	rt := &relayRuntime{}
	var opts []gateway.Option

	if cfg.Admission.TokenLimit > 0 {
		rt.tokenGate = admission.New(cfg.Admission.TokenLimit, cfg.Admission.Window,
			admission.WithName(gateway.OpTokenIssuance))
		opts = append(opts, gateway.WithTokenAdmission(rt.tokenGate))
	}
	if cfg.Admission.SubmissionLimit > 0 {
		rt.submitGate = admission.New(cfg.Admission.SubmissionLimit, cfg.Admission.Window,
			admission.WithName(gateway.OpInventorySubmission))
		opts = append(opts, gateway.WithSubmissionAdmission(rt.submitGate))
	}

	rt.gateway = gateway.New(gateway.Config{
		TokenURL:      cfg.Upstream.TokenURL,
		SubmissionURL: cfg.Upstream.SubmissionURL,
		ClientID:      cfg.Upstream.ClientID,
		ClientSecret:  cfg.Upstream.ClientSecret,
		Scope:         cfg.Upstream.Scope,
		Timeout:       cfg.Upstream.Timeout,
	}, opts...)

	return rt
}

// limitRows reports both operations in a fixed order.
func (rt *relayRuntime) limitRows() []output.LimitRow {
	return []output.LimitRow{
		limitRow(gateway.OpTokenIssuance, rt.tokenGate),
		limitRow(gateway.OpInventorySubmission, rt.submitGate),
	}
}

func limitRow(op string, c *admission.Controller) output.LimitRow {
	if c == nil {
		return output.LimitRow{Operation: op}
	}
	stats := c.Stats()
	return output.LimitRow{
		Operation: op,
		Gated:     true,
		Limit:     stats.Limit,
		Window:    stats.Window,
		InUse:     stats.InUse,
	}
}

// resize applies reloaded admission settings. Gating cannot be switched on
// or off without a restart because the gateway holds its controllers.
func (rt *relayRuntime) resize(cfg *config.Config) {
	apply := func(op string, c *admission.Controller, limit int) {
		switch {
		case c == nil && limit > 0:
			observability.Warn("Admission gating change requires restart",
				zap.String("operation", op), zap.Int("limit", limit))
		case c != nil && limit <= 0:
			observability.Warn("Admission gating change requires restart",
				zap.String("operation", op), zap.Int("limit", limit))
		case c != nil:
			c.Resize(limit, cfg.Admission.Window)
			observability.Info("Admission window resized",
				zap.String("operation", op),
				zap.Int("limit", limit),
				zap.Duration("window", cfg.Admission.Window))
		}
	}
	apply(gateway.OpTokenIssuance, rt.tokenGate, cfg.Admission.TokenLimit)
	apply(gateway.OpInventorySubmission, rt.submitGate, cfg.Admission.SubmissionLimit)
}

// registerHealthChecks adds the relay's readiness checks to hm.
func (rt *relayRuntime) registerHealthChecks(hm *handlers.HealthManager, cfg *config.Config) {
	hm.RegisterChecker("upstream_config", handlers.HealthCheckerFunc(func(context.Context) error {
		return cfg.Validate()
	}))
	for _, c := range []*admission.Controller{rt.tokenGate, rt.submitGate} {
		if c == nil {
			continue
		}
		hm.RegisterChecker("admission_"+c.Name(), admissionChecker{c})
	}
}

// admissionChecker reports degraded while the window is exhausted.
type admissionChecker struct {
	controller *admission.Controller
}

func (a admissionChecker) CheckHealth(context.Context) error {
	stats := a.controller.Stats()
	if stats.InUse >= stats.Limit {
		return fmt.Errorf("%s window exhausted (%d/%d): %w", stats.Name, stats.InUse, stats.Limit, handlers.ErrDegraded)
	}
	return nil
}
