package httpapi

import "net/http"

// handleHealth implements GET /health via the shared HealthChecker, which
// already emits {"status": "healthy", ...} and degrades to 503 when a
// registered check fails.
func (s *Service) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.Health.Handler()(w, r)
}
