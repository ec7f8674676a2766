package cypher

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHashTemplate_WhitespaceRobust(t *testing.T) {
	cat := NewCatalog()
	for _, name := range []string{"blast_radius", "service_neighbors", "cross_team_dependencies"} {
		tpl, ok := cat.Lookup(name)
		require.True(t, ok, name)

		assert.True(t, cat.hashes[HashTemplate(tpl.Cypher)])
		assert.True(t, cat.hashes[HashTemplate(tpl.Cypher+"  ")], "whitespace-robust hash should still match")
	}
}

func TestCatalog_IsAllowed_RejectsUnknownCypher(t *testing.T) {
	cat := NewCatalog()
	assert.False(t, cat.IsAllowed(`MATCH (n) DETACH DELETE n`))
}

func TestCatalog_Match_ExtractsEntity(t *testing.T) {
	cat := NewCatalog()
	name, bindings, ok := cat.Match("what is the blast radius of payment-service")
	require.True(t, ok)
	assert.Equal(t, "blast_radius", name)
	assert.Equal(t, "payment-service", bindings["entity"])
}

func TestCatalog_Match_RefusesWhenEntityMissing(t *testing.T) {
	cat := NewCatalog()
	_, _, ok := cat.Match("most critical dependencies")
	// This template requires no entity group, so it should still match.
	assert.True(t, ok)

	_, _, ok = cat.Match("blast radius of ")
	assert.False(t, ok, "intent matched but entity missing must refuse rather than execute empty")
}
