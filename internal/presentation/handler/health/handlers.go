package health

import (
	"context"
	"net/http"
	"time"

	"github.com/hilthontt/stockchat/internal/infrastructure/json"
)

var startTime = time.Now()

const checkTimeout = 3 * time.Second

// Check reports whether one dependency is usable.
type Check struct {
	Name string
	Fn   func(ctx context.Context) error
}

type Handler struct {
	checks []Check
}

func NewHandler(checks ...Check) *Handler {
	return &Handler{checks: checks}
}

// GetHealth godoc
// @Summary      Liveness check
// @Description  Returns the process status, uptime and current timestamp
// @Tags         health
// @Produce      json
// @Success      200 {object} healthResponse "Service is alive"
// @Router       /health [get]
// @Router       /live [get]
func (h *Handler) GetHealth(w http.ResponseWriter, r *http.Request) {
	_ = json.Write(w, http.StatusOK, healthResponse{
		Status:    "ok",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Uptime:    time.Since(startTime).Round(time.Second).String(),
	})
}

// GetReady godoc
// @Summary      Readiness check
// @Description  Runs the dependency checks (broker, storage) and reports each result
// @Tags         health
// @Produce      json
// @Success      200 {object} healthResponse "All dependencies are reachable"
// @Failure      503 {object} healthResponse "At least one dependency failed"
// @Router       /ready [get]
func (h *Handler) GetReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), checkTimeout)
	defer cancel()

	resp := healthResponse{
		Status:    "ok",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Uptime:    time.Since(startTime).Round(time.Second).String(),
	}
	status := http.StatusOK

	if len(h.checks) > 0 {
		resp.Checks = make(map[string]string, len(h.checks))
	}
	for _, c := range h.checks {
		if err := c.Fn(ctx); err != nil {
			resp.Checks[c.Name] = err.Error()
			resp.Status = "unhealthy"
			status = http.StatusServiceUnavailable
			continue
		}
		resp.Checks[c.Name] = "ok"
	}

	_ = json.Write(w, status, resp)
}
