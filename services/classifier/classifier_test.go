package classifier

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/groundwire/orchestrator/domain/graphmodel"
)

func TestClassify_PrecedenceOrder(t *testing.T) {
	cases := []struct {
		query string
		want  graphmodel.QueryComplexity
	}{
		{"how many services depend on payments", graphmodel.ComplexityAggregate},
		{"what is the blast radius of payments-service", graphmodel.ComplexityMultiHop},
		{"which services does payments-service call", graphmodel.ComplexitySingleHop},
		{"what does payments-service do", graphmodel.ComplexityEntityLookup},
		{"most critical transitive count of failures", graphmodel.ComplexityAggregate},
		{"show the transitive dependency chain", graphmodel.ComplexityMultiHop},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, Classify(tc.query), tc.query)
	}
}

func TestRoute_FixedRouteTable(t *testing.T) {
	cases := []struct {
		complexity graphmodel.QueryComplexity
		path       graphmodel.RetrievalPath
	}{
		{graphmodel.ComplexityEntityLookup, graphmodel.PathVector},
		{graphmodel.ComplexitySingleHop, graphmodel.PathSingleHop},
		{graphmodel.ComplexityMultiHop, graphmodel.PathTraversal},
		{graphmodel.ComplexityAggregate, graphmodel.PathHybrid},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.path, graphmodel.RouteFor(tc.complexity))
	}
}
