package httpapi

import (
	"context"
	"errors"
	"net/http"

	"github.com/groundwire/orchestrator/domain/graphmodel"
	"github.com/groundwire/orchestrator/infrastructure/httputil"
	"github.com/groundwire/orchestrator/services/classifier"
	"github.com/groundwire/orchestrator/services/guardrails"
	"github.com/groundwire/orchestrator/services/llm"
	"github.com/groundwire/orchestrator/services/retrieval"
	"github.com/groundwire/orchestrator/services/tenancy"
)

// queryRequest is the POST /query body.
type queryRequest struct {
	Query      string `json:"query"`
	MaxResults int    `json:"max_results"`
}

// queryResponse is the external shape of a query answer.
type queryResponse struct {
	Answer           string                     `json:"answer"`
	Sources          []graphmodel.Candidate     `json:"sources"`
	Complexity       graphmodel.QueryComplexity `json:"complexity"`
	RetrievalPath    graphmodel.RetrievalPath   `json:"retrieval_path"`
	EvaluationScore  float64                    `json:"evaluation_score"`
	RetrievalQuality string                     `json:"retrieval_quality"`
}

func (s *Service) handleQuery(w http.ResponseWriter, r *http.Request) {
	var req queryRequest
	if !httputil.DecodeJSON(w, r, &req) {
		return
	}
	if req.Query == "" {
		httputil.BadRequest(w, "query must not be empty")
		return
	}
	if req.MaxResults == 0 {
		req.MaxResults = 10
	}
	if req.MaxResults < 1 || req.MaxResults > 100 {
		httputil.BadRequest(w, "max_results must be between 1 and 100")
		return
	}

	principal, err := s.resolvePrincipal(r.Header.Get("Authorization"))
	if err != nil {
		if errors.Is(err, tenancy.ErrSecretNotConfigured) {
			httputil.ServiceUnavailable(w, "authentication is not configured")
			return
		}
		httputil.Unauthorized(w, "invalid or missing bearer token")
		return
	}

	ctx := r.Context()
	tenantID := principal.TenantID
	complexity := classifier.Classify(req.Query)

	if guardResult, stripped := s.Guardrails.CheckContext(req.Query); guardResult.HardBlocked {
		httputil.BadRequest(w, "query rejected: possible prompt injection")
		return
	} else {
		req.Query = stripped
	}

	result, err := s.Retrieval.Query(ctx, principal, tenantID, req.Query)
	if err != nil {
		httputil.InternalError(w, "retrieval failed: "+err.Error())
		return
	}

	if len(result.Candidates) > req.MaxResults {
		result.Candidates = result.Candidates[:req.MaxResults]
	}

	answer := s.synthesizeAnswer(ctx, tenantID, req.Query, result)

	contextEntities := make([]string, 0, len(result.Candidates))
	for _, c := range result.Candidates {
		contextEntities = append(contextEntities, c.Name)
	}
	answerCheck := s.Guardrails.CheckAnswer(answer, contextEntities)

	score, quality := s.evaluate(result, answerCheck)

	httputil.WriteJSON(w, http.StatusOK, queryResponse{
		Answer:           answer,
		Sources:          result.Candidates,
		Complexity:       complexity,
		RetrievalPath:    result.Path,
		EvaluationScore:  score,
		RetrievalQuality: quality,
	})
}

// synthesizeAnswer asks the LLM fallback chain to summarize the retrieved
// candidates into a prose answer. FallbackChain.Invoke never errors; total
// provider failure degrades to llm.DegradedResponse.
func (s *Service) synthesizeAnswer(ctx context.Context, tenantID, query string, result retrieval.Result) string {
	if s.Providers == nil {
		return llm.DegradedResponse
	}
	graphContext := ""
	for _, c := range result.Candidates {
		name := c.Name
		if name == "" {
			name = c.ID
		}
		graphContext += "- " + name + "\n"
	}
	return s.Providers.Invoke(ctx, tenantID, []llm.Message{
		{Role: "system", Content: "Answer the question using only the supplied graph context."},
		{Role: "user", Content: "Graph context:\n" + graphContext + "\nQuestion: " + query},
	})
}

// evaluate scores the answer: a -1.0/"skipped" sentinel when evaluation is
// disabled, otherwise a score derived from the top candidate's retrieval
// confidence, halved when the answer guardrail raised any coherence
// violations, then bucketed into high/medium/low against
// LowRelevanceThreshold. UseLLMJudge is decoded from configuration and
// carried on Eval but not yet consulted here; see DESIGN.md.
func (s *Service) evaluate(result retrieval.Result, answerCheck guardrails.ChainResult) (float64, string) {
	if !s.Eval.Enabled {
		return -1.0, "skipped"
	}

	score := 0.0
	if len(result.Candidates) > 0 {
		score = result.Candidates[0].Score
		if score > 1 {
			score = 1
		}
	}
	if len(answerCheck.Violations) > 0 {
		score *= 0.5
	}

	switch {
	case score >= 0.7:
		return score, "high"
	case score >= s.Eval.LowRelevanceThreshold:
		return score, "medium"
	default:
		return score, "low"
	}
}
