package cypher

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateReadOnly_RejectsWriteKeywords(t *testing.T) {
	cases := []string{
		"MATCH (n) SET n.x = 1 RETURN n",
		"CREATE (n:Service) RETURN n",
		"MATCH (n) DETACH DELETE n",
		"MATCH (n) REMOVE n.x RETURN n",
		"MERGE (n:Service {name: 'x'}) RETURN n",
	}
	for _, q := range cases {
		err := ValidateReadOnly(q)
		assert.Error(t, err, "expected rejection for %q", q)
	}
}

func TestValidateReadOnly_CommentAndStringDefeat(t *testing.T) {
	// A write keyword hidden in a comment or string literal must not trigger
	// rejection; only real write tokens count.
	q := `MATCH (n:Service) WHERE n.desc = "MERGE this" // DELETE is just a word here
RETURN n`
	require.NoError(t, ValidateReadOnly(q))
}

func TestValidateReadOnly_AllowsPlainReads(t *testing.T) {
	q := "MATCH (n:Service {tenant_id: $tenant_id}) RETURN n LIMIT 10"
	assert.NoError(t, ValidateReadOnly(q))
}

func TestValidateReadOnly_RejectsLoadCSV(t *testing.T) {
	err := ValidateReadOnly(`LOAD CSV FROM "file:///x.csv" AS row RETURN row`)
	assert.Error(t, err)
}

func TestValidateReadOnly_RejectsUnknownProcedure(t *testing.T) {
	err := ValidateReadOnly(`CALL custom.dangerous.proc() YIELD value RETURN value`)
	assert.Error(t, err)
}

func TestValidateReadOnly_AllowsAllowlistedProcedure(t *testing.T) {
	err := ValidateReadOnly(`CALL db.labels() YIELD label RETURN label`)
	assert.NoError(t, err)
}

func TestValidateReadOnly_RejectsCartesianProduct(t *testing.T) {
	err := ValidateReadOnly(`MATCH (a:Service), (b:Service) RETURN a, b`)
	assert.Error(t, err)
}

func TestValidateReadOnly_AllowsConnectedPattern(t *testing.T) {
	err := ValidateReadOnly(`MATCH (a:Service)-[:CALLS]->(b:Service) RETURN a, b`)
	assert.NoError(t, err)
}

func TestValidateReadOnly_RejectsBraceSubqueryWrite(t *testing.T) {
	q := `MATCH (n:Service) CALL { WITH n CREATE (x:Service) RETURN x } RETURN n`
	err := ValidateReadOnly(q)
	assert.Error(t, err)
}

func TestValidateReadOnly_AllowsReadOnlyBraceSubquery(t *testing.T) {
	q := `MATCH (n:Service) CALL { WITH n MATCH (n)-[:CALLS]->(m) RETURN count(m) AS c } RETURN n, c`
	assert.NoError(t, ValidateReadOnly(q))
}
