// Package appid holds the static application identity used for help text,
// env var prefixes, config discovery and telemetry namespacing.
package appid

import "strings"

// Identity describes how the binary names itself to the outside world.
type Identity struct {
	BinaryName  string
	EnvPrefix   string
	ConfigName  string
	Description string
	Namespace   string
}

var current = Identity{
	BinaryName:  "owsrgate",
	EnvPrefix:   "OWSRGATE_",
	ConfigName:  "owsrgate",
	Description: "Rate-limited credential-forwarding relay for OWSR inventory submissions",
	Namespace:   "owsrgate",
}

// Get returns the application identity.
func Get() Identity {
	return current
}

// TelemetryNamespace returns the metrics namespace, falling back to the binary name.
func (i Identity) TelemetryNamespace() string {
	if strings.TrimSpace(i.Namespace) != "" {
		return i.Namespace
	}
	return i.BinaryName
}

// ViperEnvPrefix returns the env prefix without the trailing underscore,
// which is the form viper.SetEnvPrefix expects.
func (i Identity) ViperEnvPrefix() string {
	return strings.TrimSuffix(i.EnvPrefix, "_")
}
