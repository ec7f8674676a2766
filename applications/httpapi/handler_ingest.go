package httpapi

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/groundwire/orchestrator/domain/graphmodel"
	"github.com/groundwire/orchestrator/infrastructure/httputil"
	"github.com/groundwire/orchestrator/infrastructure/resilience"
	"github.com/groundwire/orchestrator/services/ingest"
)

type ingestRequest struct {
	Documents []ingest.Document `json:"documents"`
}

type ingestAcceptedResponse struct {
	JobID  string `json:"job_id"`
	Status string `json:"status"`
}

// handleIngest implements POST /ingest. The default path is asynchronous:
// it admits the request through the semaphore and ingest circuit breaker,
// starts the run in the background, and returns 202 immediately with a job
// id. ?sync=true waits for the run to finish, up to the configured timeout.
// Kafka is the primary ingestion path; this HTTP path is kept for manual
// and backfill use and is marked deprecated accordingly.
func (s *Service) handleIngest(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Deprecation", "true")
	w.Header().Set("Link", "</docs/ingest-via-kafka>; rel=\"deprecation\"")

	var req ingestRequest
	if !httputil.DecodeJSON(w, r, &req) {
		return
	}

	tenantID := httputil.QueryString(r, "tenant_id", "")
	if tenantID == "" {
		tenantID = r.Header.Get("X-Tenant-ID")
	}

	token, admitErr := s.admit(r.Context())
	if admitErr != nil {
		httputil.WriteErrorResponse(w, r, http.StatusTooManyRequests, "ADMISSION_SATURATED", "ingest admission capacity exceeded", nil)
		return
	}
	defer s.release(r.Context(), token)

	sync := httputil.QueryBool(r, "sync", false)

	run := func(ctx context.Context) (ingest.Result, error) {
		var result ingest.Result
		err := s.IngestGate.Execute(ctx, tenantID, func() error {
			var runErr error
			result, runErr = s.Ingest.Run(ctx, tenantID, req.Documents)
			return runErr
		})
		return result, err
	}

	if !sync {
		job := s.Jobs.Create()
		if s.Drainer != nil {
			s.Drainer.TryAdd(func(ctx context.Context) {
				result, err := run(ctx)
				s.Jobs.Complete(job.JobID, result, err)
			})
		} else {
			go func() {
				result, err := run(context.Background())
				s.Jobs.Complete(job.JobID, result, err)
			}()
		}
		httputil.WriteJSON(w, http.StatusAccepted, ingestAcceptedResponse{JobID: job.JobID, Status: string(graphmodel.JobPending)})
		return
	}

	timeout := s.IngestSyncTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	ctx, cancel := context.WithTimeout(r.Context(), timeout)
	defer cancel()

	resultCh := make(chan ingest.Result, 1)
	errCh := make(chan error, 1)
	go func() {
		result, err := run(ctx)
		if err != nil {
			errCh <- err
			return
		}
		resultCh <- result
	}()

	select {
	case <-ctx.Done():
		httputil.WriteErrorResponse(w, r, http.StatusGatewayTimeout, "INGEST_SYNC_TIMEOUT", "ingest did not complete before the configured timeout", nil)
	case err := <-errCh:
		if errors.Is(err, resilience.ErrCircuitOpen) {
			w.Header().Set("Retry-After", "30")
			httputil.WriteErrorResponse(w, r, http.StatusServiceUnavailable, "CIRCUIT_OPEN", "ingestion backend is circuit-broken", nil)
			return
		}
		httputil.WriteJSON(w, http.StatusOK, ingest.Result{Status: "failed", Errors: []string{err.Error()}})
	case result := <-resultCh:
		httputil.WriteJSON(w, http.StatusOK, result)
	}
}

// handleGetIngestJob implements GET /ingest/{job_id}.
func (s *Service) handleGetIngestJob(w http.ResponseWriter, r *http.Request) {
	jobID := mux.Vars(r)["job_id"]
	job, ok := s.Jobs.Get(jobID)
	if !ok {
		httputil.NotFound(w, "no such ingest job")
		return
	}
	httputil.WriteJSON(w, http.StatusOK, job)
}

func (s *Service) admit(ctx context.Context) (string, error) {
	if s.Admission == nil {
		return "", nil
	}
	return s.Admission.Acquire(ctx)
}

func (s *Service) release(ctx context.Context, token string) {
	if s.Admission == nil {
		return
	}
	_ = s.Admission.Release(ctx, token)
}

