// Package llm implements the provider fallback chain and its per-provider
// circuit breakers. Prompt-injection screening of retrieved context lives in
// services/guardrails, not here.
package llm

import (
	"context"
	"errors"

	"github.com/groundwire/orchestrator/services/breaker"
)

// Message is a single chat turn sent to a provider.
type Message struct {
	Role    string
	Content string
}

// ErrLLM is the domain error a Provider returns on failure, which the
// FallbackChain treats as a signal to try the next provider rather than
// propagating immediately.
var ErrLLM = errors.New("llm: provider call failed")

// Provider invokes a chat-completion call over a fixed message list.
type Provider interface {
	Name() string
	InvokeMessages(ctx context.Context, messages []Message) (string, error)
}

// DegradedResponse is returned when every provider in the chain fails.
const DegradedResponse = "The answer service is temporarily unavailable. Please try again shortly."

// ProviderWithCircuitBreaker wraps a Provider with a per-provider breaker
// key (via a shared breaker.Registry) so a failing provider is skipped
// without retrying it on every request while it's down.
type ProviderWithCircuitBreaker struct {
	inner    Provider
	registry *breaker.Registry
}

// NewProviderWithCircuitBreaker wraps provider with breaker protection.
func NewProviderWithCircuitBreaker(provider Provider, registry *breaker.Registry) *ProviderWithCircuitBreaker {
	return &ProviderWithCircuitBreaker{inner: provider, registry: registry}
}

// Name passes through to the wrapped provider.
func (p *ProviderWithCircuitBreaker) Name() string { return p.inner.Name() }

// InvokeMessages runs the call through this provider's breaker.
func (p *ProviderWithCircuitBreaker) InvokeMessages(ctx context.Context, messages []Message) (string, error) {
	var result string
	err := p.registry.Execute(ctx, "provider:"+p.inner.Name(), func() error {
		out, err := p.inner.InvokeMessages(ctx, messages)
		if err != nil {
			return err
		}
		result = out
		return nil
	})
	return result, err
}

// FallbackChain tries each provider in order; the first success
// short-circuits the rest. Every provider call additionally runs through a
// GlobalProviderBreaker (a global plus a per-tenant breaker), so a systemic
// outage (e.g. upstream API-wide incident) trips regardless of any
// individual provider's state.
type FallbackChain struct {
	providers []Provider
	global    *breaker.GlobalProviderBreaker
}

// NewFallbackChain builds a chain over providers, tried in the given order.
func NewFallbackChain(providers []Provider, global *breaker.GlobalProviderBreaker) *FallbackChain {
	return &FallbackChain{providers: providers, global: global}
}

// Invoke tries each provider under tenantID's scope, returning the first
// success. If every provider fails (including via an open breaker), it
// returns DegradedResponse rather than an error — synthesis must never
// raise on total LLM failure.
func (c *FallbackChain) Invoke(ctx context.Context, tenantID string, messages []Message) string {
	for _, provider := range c.providers {
		var out string
		err := c.global.Execute(ctx, tenantID, func() error {
			result, err := provider.InvokeMessages(ctx, messages)
			if err != nil {
				return err
			}
			out = result
			return nil
		})
		if err == nil {
			return out
		}
	}
	return DegradedResponse
}
