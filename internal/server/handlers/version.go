package handlers

import (
	"encoding/json"
	"net/http"
	"runtime"

	"github.com/fulmenhq/gofulmen/crucible"

	"github.com/owsrgate/owsrgate/internal/appid"
)

// BuildInfo is injected from main through the cmd package.
type BuildInfo struct {
	Version   string
	Commit    string
	BuildDate string
}

// VersionResponse represents the version information response
type VersionResponse struct {
	App          AppInfo     `json:"app"`
	Dependencies DepInfo     `json:"dependencies"`
	Runtime      RuntimeInfo `json:"runtime"`
}

// AppInfo contains application version details
type AppInfo struct {
	Name      string `json:"name"`
	Version   string `json:"version"`
	Commit    string `json:"git_commit"`
	BuildDate string `json:"build_date"`
	GoVersion string `json:"go_version,omitempty"`
}

// DepInfo contains dependency version information
type DepInfo struct {
	Gofulmen string `json:"gofulmen"`
	Crucible string `json:"crucible"`
}

// RuntimeInfo contains runtime environment information
type RuntimeInfo struct {
	Platform      string `json:"platform"`
	NumCPU        int    `json:"num_cpu"`
	NumGoroutines int    `json:"num_goroutines"`
}

// NewVersionHandler serves identity, build and runtime details.
func NewVersionHandler(identity appid.Identity, build BuildInfo) http.HandlerFunc {
	if build.Version == "" {
		build.Version = "dev"
	}
	if build.Commit == "" {
		build.Commit = "unknown"
	}
	if build.BuildDate == "" {
		build.BuildDate = "unknown"
	}

	return func(w http.ResponseWriter, r *http.Request) {
		deps := crucible.GetVersion()

		response := VersionResponse{
			App: AppInfo{
				Name:      identity.BinaryName,
				Version:   build.Version,
				Commit:    build.Commit,
				BuildDate: build.BuildDate,
				GoVersion: runtime.Version(),
			},
			Dependencies: DepInfo{
				Gofulmen: deps.Gofulmen,
				Crucible: deps.Crucible,
			},
			Runtime: RuntimeInfo{
				Platform:      runtime.GOOS + "/" + runtime.GOARCH,
				NumCPU:        runtime.NumCPU(),
				NumGoroutines: runtime.NumGoroutine(),
			},
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(response)
	}
}
