package handlers

import (
	"net/http"
	"sort"
	"time"

	domain "github.com/sahel-market/api/internal/domain"
	"github.com/sahel-market/api/internal/services"
)

// HealthHandlers serves the liveness and readiness probes. Healthz answers
// from process state alone; Readyz consults the system service's dependency
// checks.
type HealthHandlers struct {
	build  services.BuildInfo
	system services.SystemService
	clock  func() time.Time
}

// HealthOption customises the health handlers.
type HealthOption func(*HealthHandlers)

// WithHealthBuildInfo attaches build metadata to the liveness payload.
func WithHealthBuildInfo(build services.BuildInfo) HealthOption {
	return func(h *HealthHandlers) {
		h.build = build
	}
}

// WithHealthSystemService wires the dependency health source for readiness.
func WithHealthSystemService(system services.SystemService) HealthOption {
	return func(h *HealthHandlers) {
		h.system = system
	}
}

// WithHealthClock overrides the time source, for tests.
func WithHealthClock(clock func() time.Time) HealthOption {
	return func(h *HealthHandlers) {
		if clock != nil {
			h.clock = clock
		}
	}
}

// NewHealthHandlers builds the probe handlers.
func NewHealthHandlers(opts ...HealthOption) *HealthHandlers {
	h := &HealthHandlers{clock: time.Now}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h
}

// Healthz reports process liveness. It never touches downstream dependencies,
// so a wedged Firestore cannot make the scheduler restart healthy pods.
func (h *HealthHandlers) Healthz(w http.ResponseWriter, r *http.Request) {
	now := h.clock().UTC()
	payload := map[string]any{
		"status":    string(domain.HealthStatusOK),
		"timestamp": now.Format(time.RFC3339),
	}
	if h.build.Version != "" {
		payload["version"] = h.build.Version
	}
	if h.build.CommitSHA != "" {
		payload["commitSha"] = h.build.CommitSHA
	}
	if h.build.Environment != "" {
		payload["environment"] = h.build.Environment
	}
	if !h.build.StartedAt.IsZero() {
		payload["uptime"] = now.Sub(h.build.StartedAt).String()
	}
	writeJSONResponse(w, http.StatusOK, payload)
}

type healthCheckPayload struct {
	Status    string `json:"status"`
	Detail    string `json:"detail,omitempty"`
	Error     string `json:"error,omitempty"`
	LatencyMs int64  `json:"latencyMs,omitempty"`
	CheckedAt string `json:"checkedAt,omitempty"`
}

type readinessResponse struct {
	Status  string                        `json:"status"`
	Checks  map[string]healthCheckPayload `json:"checks"`
	Details []string                      `json:"details"`
}

// Readyz reports readiness based on dependency checks. Anything other than
// an ok status returns 503 so load balancers stop routing traffic here.
func (h *HealthHandlers) Readyz(w http.ResponseWriter, r *http.Request) {
	if h.system == nil {
		writeJSONResponse(w, http.StatusOK, readinessResponse{
			Status:  string(domain.HealthStatusOK),
			Checks:  map[string]healthCheckPayload{},
			Details: []string{},
		})
		return
	}

	report, err := h.system.Health(r.Context())
	if err != nil {
		writeJSONResponse(w, http.StatusServiceUnavailable, readinessResponse{
			Status:  string(domain.HealthStatusError),
			Checks:  map[string]healthCheckPayload{},
			Details: []string{"health: " + err.Error()},
		})
		return
	}

	checks := make(map[string]healthCheckPayload, len(report.Checks))
	details := make([]string, 0, len(report.Checks))
	for name, check := range report.Checks {
		payload := healthCheckPayload{
			Status: string(check.Status),
			Detail: check.Detail,
			Error:  check.Error,
		}
		if check.Latency > 0 {
			payload.LatencyMs = check.Latency.Milliseconds()
		}
		if !check.CheckedAt.IsZero() {
			payload.CheckedAt = formatTime(check.CheckedAt)
		}
		checks[name] = payload
		if check.Status != domain.HealthStatusOK && check.Status != "" {
			detail := check.Error
			if detail == "" {
				detail = check.Detail
			}
			if detail == "" {
				detail = string(check.Status)
			}
			details = append(details, name+": "+detail)
		}
	}
	sort.Strings(details)

	statusCode := http.StatusOK
	if report.Status != domain.HealthStatusOK {
		statusCode = http.StatusServiceUnavailable
	}
	writeJSONResponse(w, statusCode, readinessResponse{
		Status:  string(report.Status),
		Checks:  checks,
		Details: details,
	})
}
