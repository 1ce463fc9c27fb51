package ecokernel

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInterventionsMatchPriorityOrder(t *testing.T) {
	infos := Interventions()
	require.Len(t, infos, len(InterventionPriority))
	for i, kind := range InterventionPriority {
		assert.Equal(t, kind, infos[i].Kind)
		assert.NotEmpty(t, infos[i].Summary)
		assert.NotEmpty(t, infos[i].Applicable)
	}

	// Callers get a copy, not the catalog itself.
	infos[0].Summary = "scribbled"
	assert.NotEqual(t, "scribbled", Interventions()[0].Summary)
}

func TestDescribeIntervention(t *testing.T) {
	info, ok := DescribeIntervention(InterventionNicheDivergence)
	require.True(t, ok)
	assert.Equal(t, InterventionNicheDivergence, info.Kind)
	assert.Equal(t, "always", info.Applicable)

	_, ok = DescribeIntervention(InterventionKind("teleport"))
	assert.False(t, ok)
}
