package pipeline

import (
	"fmt"
	"math"

	"tryonapi/models"
)

// coverageProfile is the measured garment extent on a downsampled image.
type coverageProfile struct {
	topEdge    float64
	bottomEdge float64
	coverage   float64
	// background-like row runs strictly inside the garment span
	midGapRows int
	found      bool
}

func measureCoverage(grid *lumGrid, t ClassifierThresholds) coverageProfile {
	background := grid.backgroundLevel()

	first, last := -1, -1
	for y := 0; y < grid.size; y++ {
		if grid.rowDeviation(y, background) > t.RowDelta {
			if first == -1 {
				first = y
			}
			last = y
		}
	}
	if first == -1 {
		return coverageProfile{}
	}

	top := float64(first) / float64(grid.size)
	bottom := float64(last+1) / float64(grid.size)

	// gap signature: consecutive background-like rows in the middle third of
	// the garment span, the classic top/bottom separation of a two piece shot
	span := last - first
	midStart := first + span*35/100
	midEnd := first + span*65/100
	gap, longest := 0, 0
	for y := midStart; y <= midEnd && y < grid.size; y++ {
		if grid.rowDeviation(y, background) <= t.RowDelta {
			gap++
			if gap > longest {
				longest = gap
			}
		} else {
			gap = 0
		}
	}

	return coverageProfile{
		topEdge:    top,
		bottomEdge: bottom,
		coverage:   bottom - top,
		midGapRows: longest,
		found:      true,
	}
}

// thresholdConfidence maps distance from the deciding threshold to 50-95.
func thresholdConfidence(distance float64) int {
	return clampInt(50+int(math.Round(distance*200)), 50, 95)
}

// neutralTopology is the degraded result when the image cannot be analyzed.
// Ambiguity always resolves to TOP_ONLY so bottom-wear is rendered explicitly.
func neutralTopology(reason string) models.TopologyResult {
	return models.TopologyResult{
		Topology:      models.TopologyTopOnly,
		Coverage:      0,
		BottomEdge:    0,
		Confidence:    20,
		Method:        reason,
		RequiresPants: true,
	}
}

// ClassifyTopology measures garment coverage on the image and applies the
// ordered decision rule. Pure and deterministic: same bytes, same thresholds,
// same answer. The result is authoritative over any model opinion downstream.
func ClassifyTopology(imageBytes []byte, hipLine float64, t ClassifierThresholds) models.TopologyResult {
	grid, err := decodeLumGrid(imageBytes, t.GridSize)
	if err != nil {
		fmt.Printf("[Topology] decode failed, degrading to neutral default: %v\n", err)
		return neutralTopology("decode_fallback")
	}
	profile := measureCoverage(grid, t)
	if !profile.found {
		return neutralTopology("no_garment_rows")
	}

	// (a) separation gap in the mid region
	if profile.midGapRows >= t.TwoPieceGapRows {
		return models.TopologyResult{
			Topology:      models.TopologyTwoPiece,
			Coverage:      profile.coverage,
			BottomEdge:    profile.bottomEdge,
			Confidence:    thresholdConfidence(float64(profile.midGapRows-t.TwoPieceGapRows+1) / float64(t.GridSize) * 4),
			Method:        "gap_signature",
			RequiresPants: false,
		}
	}

	// (b) low coverage
	if profile.coverage < t.TopOnlyCoverage {
		return models.TopologyResult{
			Topology:      models.TopologyTopOnly,
			Coverage:      profile.coverage,
			BottomEdge:    profile.bottomEdge,
			Confidence:    thresholdConfidence(t.TopOnlyCoverage - profile.coverage),
			Method:        "low_coverage",
			RequiresPants: true,
		}
	}

	// (c) high coverage
	if profile.coverage > t.DressCoverage {
		return models.TopologyResult{
			Topology:      models.TopologyDress,
			Coverage:      profile.coverage,
			BottomEdge:    profile.bottomEdge,
			Confidence:    thresholdConfidence(profile.coverage - t.DressCoverage),
			Method:        "high_coverage",
			RequiresPants: false,
		}
	}

	// (d) bottom edge above the hip line
	if hipLine > 0 && profile.bottomEdge < hipLine+t.HipTolerance {
		return models.TopologyResult{
			Topology:      models.TopologyTopOnly,
			Coverage:      profile.coverage,
			BottomEdge:    profile.bottomEdge,
			Confidence:    thresholdConfidence(hipLine + t.HipTolerance - profile.bottomEdge),
			Method:        "above_hip",
			RequiresPants: true,
		}
	}

	// (e) ambiguous coverage: never assume a dress
	return models.TopologyResult{
		Topology:      models.TopologyTopOnly,
		Coverage:      profile.coverage,
		BottomEdge:    profile.bottomEdge,
		Confidence:    50,
		Method:        "ambiguous_default",
		RequiresPants: true,
	}
}
