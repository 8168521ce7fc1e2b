package observability

import (
	"context"
	"log/slog"
	"net/http"
	"sync"

	"github.com/go-chi/render"
	"golang.org/x/sync/errgroup"
)

// ReadinessReport is the body of the readiness probe.
type ReadinessReport struct {
	Status     string            `json:"status"`
	Components map[string]string `json:"components"`
}

func (s *Server) liveness(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// readiness runs every checker in parallel within the configured timeout and
// answers 503 if any of them fails.
func (s *Server) readiness(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), s.cfg.Timeout)
	defer cancel()

	report := ReadinessReport{Status: "up", Components: make(map[string]string, len(s.checkers))}
	var mu sync.Mutex

	// Checks never return errors to the group, so one failure does not cancel the rest.
	var g errgroup.Group
	for _, c := range s.checkers {
		g.Go(func() error {
			err := c.Check(ctx)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				s.logger.Warn("readiness check failed",
					slog.String("component", c.Name()),
					slog.String("error", err.Error()),
				)
				report.Components[c.Name()] = "down: " + err.Error()
				report.Status = "down"
				return nil
			}
			report.Components[c.Name()] = "up"
			return nil
		})
	}
	_ = g.Wait()

	if report.Status != "up" {
		render.Status(r, http.StatusServiceUnavailable)
	}
	render.JSON(w, r, report)
}
