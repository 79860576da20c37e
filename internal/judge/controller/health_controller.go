package controller

import (
	"context"
	"net/http"
	"sort"
	"time"

	appErr "codejudge/pkg/errors"
	"codejudge/pkg/utils/response"

	"github.com/gin-gonic/gin"
)

const defaultReadyTimeout = 2 * time.Second

// Pinger is a backend that can report whether it is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthController serves liveness and readiness probes.
type HealthController struct {
	checks  map[string]Pinger
	timeout time.Duration
}

// NewHealthController creates a controller that pings every check on /readyz.
func NewHealthController(checks map[string]Pinger, timeout time.Duration) *HealthController {
	if timeout <= 0 {
		timeout = defaultReadyTimeout
	}
	return &HealthController{checks: checks, timeout: timeout}
}

// RegisterRoutes mounts /healthz and /readyz on r.
func (h *HealthController) RegisterRoutes(r gin.IRouter) {
	r.GET("/healthz", h.Live)
	r.GET("/readyz", h.Ready)
}

// Live always answers ok while the process serves HTTP.
func (h *HealthController) Live(c *gin.Context) {
	c.String(http.StatusOK, "ok")
}

// Ready pings every configured backend and fails with 503 naming the ones
// that did not answer.
func (h *HealthController) Ready(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), h.timeout)
	defer cancel()

	names := make([]string, 0, len(h.checks))
	for name := range h.checks {
		names = append(names, name)
	}
	sort.Strings(names)

	var failed []string
	for _, name := range names {
		if err := h.checks[name].Ping(ctx); err != nil {
			failed = append(failed, name)
		}
	}
	if len(failed) > 0 {
		response.Error(c, appErr.New(appErr.ServiceUnavailable).
			WithMessagef("backends unavailable: %v", failed).
			WithDetail("failed", failed))
		return
	}
	response.Success(c, gin.H{"checks": names})
}
