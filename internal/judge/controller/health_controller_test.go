package controller

import (
	"context"
	"errors"
	"net/http"
	"testing"

	appErr "codejudge/pkg/errors"

	"github.com/gin-gonic/gin"
)

type fakePinger struct {
	err error
}

func (f fakePinger) Ping(ctx context.Context) error { return f.err }

func newHealthRouter(checks map[string]Pinger) *gin.Engine {
	r := gin.New()
	NewHealthController(checks, 0).RegisterRoutes(r)
	return r
}

func TestReadyAllBackendsUp(t *testing.T) {
	t.Parallel()
	r := newHealthRouter(map[string]Pinger{"redis": fakePinger{}, "mysql": fakePinger{}})
	w, env := doRequest(t, r, http.MethodGet, "/readyz", "", nil)
	if w.Code != http.StatusOK || env.Code != appErr.Success {
		t.Fatalf("status = %d code = %v", w.Code, env.Code)
	}
}

func TestReadyReportsFailedBackend(t *testing.T) {
	t.Parallel()
	r := newHealthRouter(map[string]Pinger{
		"redis": fakePinger{err: errors.New("connection refused")},
		"mysql": fakePinger{},
	})
	w, env := doRequest(t, r, http.MethodGet, "/readyz", "", nil)
	if w.Code != http.StatusServiceUnavailable || env.Code != appErr.ServiceUnavailable {
		t.Fatalf("status = %d code = %v", w.Code, env.Code)
	}
	if env.Message != "backends unavailable: [redis]" {
		t.Fatalf("message = %q", env.Message)
	}
}

func TestReadyWithoutBackends(t *testing.T) {
	t.Parallel()
	w, _ := doRequest(t, newHealthRouter(nil), http.MethodGet, "/readyz", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
}
