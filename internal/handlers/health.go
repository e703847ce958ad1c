package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"
)

// Pinger is anything readiness can probe
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthHandler serves the liveness and readiness probes
type HealthHandler struct {
	checks map[string]Pinger
	log    *logrus.Entry
}

// NewHealthHandler probes every named dependency on /ready
func NewHealthHandler(checks map[string]Pinger, log *logrus.Entry) *HealthHandler {
	return &HealthHandler{checks: checks, log: log}
}

// Liveness never touches a dependency
func (hh *HealthHandler) Liveness(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (hh *HealthHandler) Readiness(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	for name, p := range hh.checks {
		if err := p.Ping(ctx); err != nil {
			requestLog(hh.log, r).WithError(err).WithField("dependency", name).Warn("readiness check failed")
			writeError(w, http.StatusServiceUnavailable, "not_ready", name+" unavailable")
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}
