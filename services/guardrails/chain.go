package guardrails

import "context"

// ChainResult is the aggregate outcome of running a generated query (and,
// once synthesized, its answer) through every configured guardrail.
type ChainResult struct {
	Violations  []Violation
	Injection   *InjectionResult
	HardBlocked bool
}

// GuardrailChain composes the Cypher-time and response-time guardrails into
// a single entry point, routing rejected queries to an ASTDeadLetterQueue
// instead of dropping them silently.
type GuardrailChain struct {
	schema      *CypherSchemaValidator
	complexity  *CypherComplexityGuard
	coherence   *ResponseCoherenceChecker
	injection   *PromptInjectionClassifier
	dlq         *ASTDeadLetterQueue
	hardBlock   bool
	requiredACL []string
}

// ChainOption configures a GuardrailChain.
type ChainOption func(*GuardrailChain)

// WithHardBlock makes CheckContext report HardBlocked=true for a chunk
// with a flagged prompt-injection score; the default is strip-and-continue.
func WithHardBlock(v bool) ChainOption {
	return func(c *GuardrailChain) { c.hardBlock = v }
}

// WithRequiredACLFields overrides the fields ValidateCallSubqueryACL checks for.
func WithRequiredACLFields(fields ...string) ChainOption {
	return func(c *GuardrailChain) { c.requiredACL = fields }
}

// NewGuardrailChain builds a chain over the given ontology and DLQ.
func NewGuardrailChain(ontology Ontology, dlq *ASTDeadLetterQueue, opts ...ChainOption) *GuardrailChain {
	c := &GuardrailChain{
		schema:     NewCypherSchemaValidator(ontology),
		complexity: NewCypherComplexityGuard(0, 0),
		coherence:  NewResponseCoherenceChecker(),
		injection:  NewPromptInjectionClassifier(),
		dlq:        dlq,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// CheckQuery runs schema, complexity, and CALL-subquery ACL isolation
// checks against a generated Cypher query. Any violation routes the query
// to the dead-letter queue for audit and returns it in the result.
func (c *GuardrailChain) CheckQuery(ctx context.Context, tenantID, query string) ChainResult {
	var violations []Violation
	violations = append(violations, c.schema.Validate(query)...)
	violations = append(violations, c.complexity.Validate(query)...)

	if err := ValidateCallSubqueryACL(query, c.requiredACL...); err != nil {
		violations = append(violations, Violation{
			Guardrail: "CallSubqueryACL",
			Detail:    err.Error(),
			Severity:  "error",
		})
	}

	if len(violations) > 0 && c.dlq != nil {
		reasons := ""
		for i, v := range violations {
			if i > 0 {
				reasons += "; "
			}
			reasons += v.Detail
		}
		c.dlq.Enqueue(ctx, RejectedQuery{TenantID: tenantID, Query: query, Reason: reasons})
	}

	return ChainResult{Violations: violations}
}

// CheckContext screens one chunk of retrieved context for prompt injection.
// In hard-block mode a flagged chunk yields HardBlocked=true and the caller
// must reject the request; otherwise the caller substitutes the stripped
// text returned as the second result.
func (c *GuardrailChain) CheckContext(text string) (ChainResult, string) {
	result := c.injection.Classify(text)
	stripped := text
	if result.IsFlagged {
		stripped = c.injection.StripFlaggedContent(text, result)
	}
	return ChainResult{Injection: &result, HardBlocked: c.hardBlock && result.IsFlagged}, stripped
}

// CheckAnswer runs the response coherence checker over a synthesized answer.
func (c *GuardrailChain) CheckAnswer(answer string, contextEntities []string) ChainResult {
	return ChainResult{Violations: c.coherence.Validate(answer, contextEntities)}
}
