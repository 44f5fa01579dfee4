package pipeline

import (
	"fmt"
	"math"

	"tryonapi/models"
)

// BoundaryMeasurement is the re-measured garment extent of a generated image.
type BoundaryMeasurement struct {
	Found      bool
	BottomEdge float64
	// fraction of rows below the hip region that show non-background content
	LowerCoverage float64
}

// MeasureBoundary runs the same coverage measurement the topology classifier
// uses, plus a lower-body content scan for the pants check.
func MeasureBoundary(imageBytes []byte, hipLine float64, t ClassifierThresholds) BoundaryMeasurement {
	grid, err := decodeLumGrid(imageBytes, t.GridSize)
	if err != nil {
		fmt.Printf("[Boundary] decode failed on generated image: %v\n", err)
		return BoundaryMeasurement{}
	}
	profile := measureCoverage(grid, t)
	if !profile.found {
		return BoundaryMeasurement{}
	}

	background := grid.backgroundLevel()
	lowerStart := int(clampFloat(hipLine+t.HipTolerance, 0, 0.92) * float64(grid.size))
	lowerEnd := int(0.92 * float64(grid.size))
	covered, total := 0, 0
	for y := lowerStart; y < lowerEnd && y < grid.size; y++ {
		if grid.rowDeviation(y, background) > t.RowDelta {
			covered++
		}
		total++
	}
	lower := 0.0
	if total > 0 {
		lower = float64(covered) / float64(total)
	}
	return BoundaryMeasurement{Found: true, BottomEdge: profile.bottomEdge, LowerCoverage: lower}
}

// EvaluateBoundary classifies a measured generated image against the expected
// topology. TOP_ONLY garments are validated for maximum extension past the hip
// line; DRESS topology is validated for minimum extension instead.
func EvaluateBoundary(m BoundaryMeasurement, topology models.Topology, hipLine float64, t ClassifierThresholds) models.BoundaryCheck {
	if !m.Found {
		return models.BoundaryCheck{
			Valid:       false,
			Violation:   models.ViolationSilhouetteHallucination,
			Severity:    8,
			ShouldRetry: true,
		}
	}

	switch topology {
	case models.TopologyDress:
		minAllowed := hipLine + t.DressMinExtension
		if m.BottomEdge < minAllowed {
			return models.BoundaryCheck{
				Valid:          false,
				Violation:      models.ViolationDressConverted,
				Severity:       7,
				MeasuredBottom: m.BottomEdge,
				HemThreshold:   minAllowed,
				ShouldRetry:    true,
			}
		}
		return models.BoundaryCheck{Valid: true, MeasuredBottom: m.BottomEdge, HemThreshold: minAllowed}

	case models.TopologyTopOnly:
		maxAllowed := hipLine + t.HipTolerance
		overflow := m.BottomEdge - maxAllowed
		if overflow > t.DressConversionOverflow {
			// the top grew into a dress
			return models.BoundaryCheck{
				Valid:          false,
				Violation:      models.ViolationDressConverted,
				Severity:       10,
				MeasuredBottom: m.BottomEdge,
				HemThreshold:   maxAllowed,
				ShouldRetry:    true,
			}
		}
		if overflow > 0 {
			severity := clampInt(3+int(math.Round(overflow*60)), 3, 6)
			return models.BoundaryCheck{
				Valid:          false,
				Violation:      models.ViolationTopExtendsBelowHip,
				Severity:       severity,
				MeasuredBottom: m.BottomEdge,
				HemThreshold:   maxAllowed,
				ShouldRetry:    true,
			}
		}
		if m.LowerCoverage < t.PantsCoverageFloor {
			return models.BoundaryCheck{
				Valid:          false,
				Violation:      models.ViolationMissingPants,
				Severity:       9,
				MeasuredBottom: m.BottomEdge,
				HemThreshold:   maxAllowed,
				ShouldRetry:    true,
			}
		}
		return models.BoundaryCheck{Valid: true, MeasuredBottom: m.BottomEdge, HemThreshold: maxAllowed}

	default:
		// two piece boundaries are not re-validated
		return models.BoundaryCheck{Valid: true, MeasuredBottom: m.BottomEdge}
	}
}

// ValidateBoundary is the byte-level entry: measure then evaluate.
func ValidateBoundary(imageBytes []byte, topology models.Topology, hipLine float64, t ClassifierThresholds) models.BoundaryCheck {
	return EvaluateBoundary(MeasureBoundary(imageBytes, hipLine, t), topology, hipLine, t)
}
