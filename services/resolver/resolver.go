// Package resolver assigns stable, composite graph identities to extracted
// entities. It deliberately performs no fuzzy or Levenshtein-based
// matching: two distinct names in the same namespace are always distinct
// entities (fuzzy matching on infrastructure names is a source of silent
// cross-entity aliasing, not a convenience).
package resolver

import (
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/groundwire/orchestrator/domain/graphmodel"
)

// DefaultMaxKnownEntities bounds the known-entity LRU regardless of corpus
// size.
const DefaultMaxKnownEntities = 50_000

// Resolver maps extracted (repository, namespace, name) triples to a
// canonical scoped entity ID, resolving through an alias registry first.
type Resolver struct {
	mu      sync.RWMutex
	aliases map[string]string // alias -> canonical name, scoped within a namespace via compound key
	known   *lru.Cache[string, graphmodel.NodeKind]
}

// New builds a resolver with an LRU-bounded known-entity set.
func New(maxKnown int) *Resolver {
	if maxKnown <= 0 {
		maxKnown = DefaultMaxKnownEntities
	}
	known, _ := lru.New[string, graphmodel.NodeKind](maxKnown)
	return &Resolver{aliases: make(map[string]string), known: known}
}

func aliasKey(namespace, alias string) string {
	return namespace + "::" + alias
}

// RegisterAlias records that alias resolves to canonicalName within namespace.
func (r *Resolver) RegisterAlias(namespace, alias, canonicalName string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.aliases[aliasKey(namespace, alias)] = canonicalName
}

// Resolve computes the canonical ScopedEntityID for an extracted reference,
// substituting any registered alias for name before scoping it. The same
// (repository, namespace, name) always yields the same ID; no similarity
// scoring is performed.
func (r *Resolver) Resolve(kind graphmodel.NodeKind, repository, namespace, name string) string {
	r.mu.RLock()
	canonical, aliased := r.aliases[aliasKey(namespace, name)]
	r.mu.RUnlock()
	if aliased {
		name = canonical
	}

	id := graphmodel.ScopedEntityID(repository, namespace, name)
	r.known.Add(id, kind)
	return id
}

// IsKnown reports whether id has been seen by this resolver (subject to LRU
// eviction — a false negative after eviction is expected and safe since
// re-ingestion simply treats the entity as new again).
func (r *Resolver) IsKnown(id string) bool {
	_, ok := r.known.Get(id)
	return ok
}

// KnownCount returns the current size of the bounded known-entity set.
func (r *Resolver) KnownCount() int {
	return r.known.Len()
}
