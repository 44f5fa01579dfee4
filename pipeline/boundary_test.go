package pipeline

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"tryonapi/models"
)

func TestEvaluateBoundaryTopConvertedToDress(t *testing.T) {
	// hip at 0.48, tolerance 0.08: anything past 0.56 is a violation and past
	// the conversion overflow it is a full dress conversion
	m := BoundaryMeasurement{Found: true, BottomEdge: 0.62, LowerCoverage: 0.5}

	check := EvaluateBoundary(m, models.TopologyTopOnly, 0.48, DefaultThresholds())

	assert.False(t, check.Valid)
	assert.Equal(t, models.ViolationDressConverted, check.Violation)
	assert.Equal(t, 10, check.Severity)
	assert.Equal(t, 0.62, check.MeasuredBottom)
	assert.InDelta(t, 0.56, check.HemThreshold, 0.0001)
	assert.True(t, check.ShouldRetry)
}

func TestEvaluateBoundaryTopSlightOverflow(t *testing.T) {
	m := BoundaryMeasurement{Found: true, BottomEdge: 0.59, LowerCoverage: 0.5}

	check := EvaluateBoundary(m, models.TopologyTopOnly, 0.48, DefaultThresholds())

	assert.False(t, check.Valid)
	assert.Equal(t, models.ViolationTopExtendsBelowHip, check.Violation)
	assert.GreaterOrEqual(t, check.Severity, 3)
	assert.LessOrEqual(t, check.Severity, 6)
	assert.True(t, check.ShouldRetry)
}

func TestEvaluateBoundaryTopMissingPants(t *testing.T) {
	m := BoundaryMeasurement{Found: true, BottomEdge: 0.52, LowerCoverage: 0.1}

	check := EvaluateBoundary(m, models.TopologyTopOnly, 0.48, DefaultThresholds())

	assert.False(t, check.Valid)
	assert.Equal(t, models.ViolationMissingPants, check.Violation)
	assert.Equal(t, 9, check.Severity)
	assert.True(t, check.ShouldRetry)
}

func TestEvaluateBoundaryTopValid(t *testing.T) {
	m := BoundaryMeasurement{Found: true, BottomEdge: 0.52, LowerCoverage: 0.6}

	check := EvaluateBoundary(m, models.TopologyTopOnly, 0.48, DefaultThresholds())

	assert.True(t, check.Valid)
	assert.Empty(t, check.Violation)
}

func TestEvaluateBoundaryDressShortened(t *testing.T) {
	m := BoundaryMeasurement{Found: true, BottomEdge: 0.52, LowerCoverage: 0.6}

	check := EvaluateBoundary(m, models.TopologyDress, 0.48, DefaultThresholds())

	assert.False(t, check.Valid)
	assert.Equal(t, models.ViolationDressConverted, check.Violation)
	assert.Equal(t, 7, check.Severity)
	// for a dress the threshold is the minimum required hem extension
	assert.InDelta(t, 0.48+DefaultThresholds().DressMinExtension, check.HemThreshold, 0.0001)
}

func TestEvaluateBoundaryDressValid(t *testing.T) {
	m := BoundaryMeasurement{Found: true, BottomEdge: 0.85, LowerCoverage: 0.9}

	check := EvaluateBoundary(m, models.TopologyDress, 0.48, DefaultThresholds())

	assert.True(t, check.Valid)
}

func TestEvaluateBoundaryNoSilhouette(t *testing.T) {
	check := EvaluateBoundary(BoundaryMeasurement{}, models.TopologyTopOnly, 0.48, DefaultThresholds())

	assert.False(t, check.Valid)
	assert.Equal(t, models.ViolationSilhouetteHallucination, check.Violation)
	assert.Equal(t, 8, check.Severity)
	assert.True(t, check.ShouldRetry)
}

func TestEvaluateBoundaryTwoPieceSkipped(t *testing.T) {
	m := BoundaryMeasurement{Found: true, BottomEdge: 0.9, LowerCoverage: 0.0}

	check := EvaluateBoundary(m, models.TopologyTwoPiece, 0.48, DefaultThresholds())

	assert.True(t, check.Valid)
}

func TestValidateBoundaryUndecodableImage(t *testing.T) {
	check := ValidateBoundary([]byte("broken"), models.TopologyTopOnly, 0.48, DefaultThresholds())

	assert.False(t, check.Valid)
	assert.Equal(t, models.ViolationSilhouetteHallucination, check.Violation)
}
