package handler

import (
	"net/http"

	"github.com/sandeepkv93/session-token-authority/internal/health"
	"github.com/sandeepkv93/session-token-authority/internal/http/response"
)

type BuildInfo struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildDate string `json:"build_date"`
}

type SystemHandler struct {
	build     BuildInfo
	config    map[string]any
	readiness *health.ProbeRunner
}

// NewSystemHandler serves build, config and health endpoints. config must
// already be redacted.
func NewSystemHandler(build BuildInfo, config map[string]any, readiness *health.ProbeRunner) *SystemHandler {
	return &SystemHandler{build: build, config: config, readiness: readiness}
}

func (h *SystemHandler) Live(w http.ResponseWriter, r *http.Request) {
	response.JSON(w, r, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *SystemHandler) Ready(w http.ResponseWriter, r *http.Request) {
	if h.readiness == nil {
		response.JSON(w, r, http.StatusOK, map[string]any{"status": "ready", "checks": []any{}})
		return
	}
	report := h.readiness.Ready(r.Context())
	if report.Healthy {
		response.JSON(w, r, http.StatusOK, map[string]any{"status": "ready", "checks": report.Checks})
		return
	}
	response.Error(w, r, http.StatusServiceUnavailable, "DEPENDENCY_UNREADY", "dependencies are not ready", map[string]any{"checks": report.Checks})
}

func (h *SystemHandler) Version(w http.ResponseWriter, r *http.Request) {
	response.JSON(w, r, http.StatusOK, h.build)
}

func (h *SystemHandler) Config(w http.ResponseWriter, r *http.Request) {
	response.JSON(w, r, http.StatusOK, h.config)
}
