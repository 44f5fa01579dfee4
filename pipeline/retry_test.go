package pipeline

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"tryonapi/models"
)

func TestEscalateIsImmutable(t *testing.T) {
	base := NewRetryContext(3)

	next := base.Escalate([]FailureKind{FailureTopology, FailureFaceDrift})

	assert.Equal(t, 0, base.Attempt)
	assert.Equal(t, 1.0, base.Multipliers.Topology)
	assert.Equal(t, models.EnforcementNormal, base.Enforcement)
	assert.Empty(t, base.PriorFailures)

	assert.Equal(t, 1, next.Attempt)
	assert.NotEqual(t, base.Multipliers, next.Multipliers)
}

func TestEscalateMultipliersMonotonic(t *testing.T) {
	ctx := NewRetryContext(5)

	ctx = ctx.Escalate([]FailureKind{FailureGarmentColor})
	assert.Equal(t, 1.5, ctx.Multipliers.Garment)
	assert.Equal(t, 1.0, ctx.Multipliers.Topology)

	ctx = ctx.Escalate([]FailureKind{FailureGarmentColor, FailureTopology})
	assert.InDelta(t, 1.5*1.5*1.5, ctx.Multipliers.Garment, 1e-9)
	assert.Equal(t, 2.0, ctx.Multipliers.Topology)
}

func TestEscalateTopologyClimbsEnforcementLadder(t *testing.T) {
	ctx := NewRetryContext(5)

	ctx = ctx.Escalate([]FailureKind{FailureTopology})
	assert.Equal(t, models.EnforcementStrict, ctx.Enforcement)
	assert.InDelta(t, -0.1, float64(ctx.TemperatureDelta), 1e-6)

	ctx = ctx.Escalate([]FailureKind{FailureTopology})
	assert.Equal(t, models.EnforcementAbsolute, ctx.Enforcement)

	// the ladder tops out at absolute
	ctx = ctx.Escalate([]FailureKind{FailureTopology})
	assert.Equal(t, models.EnforcementAbsolute, ctx.Enforcement)
}

func TestEscalateFaceDriftLocksDownRendering(t *testing.T) {
	ctx := NewRetryContext(3).Escalate([]FailureKind{FailureFaceDrift})

	assert.Equal(t, 1.5, ctx.Multipliers.Face)
	assert.Equal(t, 1.5, ctx.Multipliers.Body)
	assert.InDelta(t, -0.15, float64(ctx.TemperatureDelta), 1e-6)
	assert.True(t, ctx.DisableCreative)
}

func TestEscalateSceneForcesLightingInheritance(t *testing.T) {
	ctx := NewRetryContext(3).Escalate([]FailureKind{FailureScene})

	assert.True(t, ctx.InheritLightingOnly)
	assert.Equal(t, 1.5, ctx.Multipliers.Scene)
}

func TestRetryExhaustion(t *testing.T) {
	ctx := NewRetryContext(3)
	assert.False(t, ctx.Exhausted())

	ctx = ctx.Escalate([]FailureKind{FailurePose})
	assert.False(t, ctx.Exhausted())

	ctx = ctx.Escalate([]FailureKind{FailurePose})
	assert.True(t, ctx.Exhausted())
}

func TestHadFailureTracksHistory(t *testing.T) {
	ctx := NewRetryContext(3).Escalate([]FailureKind{FailureScene})
	ctx = ctx.Escalate([]FailureKind{FailurePose})

	assert.True(t, ctx.HadFailure(FailureScene))
	assert.True(t, ctx.HadFailure(FailurePose))
	assert.False(t, ctx.HadFailure(FailureTopology))
}
