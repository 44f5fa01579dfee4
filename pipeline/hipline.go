package pipeline

import (
	"fmt"
	"math"

	"tryonapi/models"
)

// DetectHipLine estimates the hip boundary on a person image. The edge scan
// looks for the strongest horizontal transition inside the likely-hip band;
// when that is too weak to trust, the anatomical ratio of the detected body
// silhouette is used instead. Pure and deterministic.
func DetectHipLine(imageBytes []byte, t ClassifierThresholds) models.HipLineResult {
	grid, err := decodeLumGrid(imageBytes, t.GridSize)
	if err != nil {
		fmt.Printf("[HipLine] decode failed, using anatomical midpoint: %v\n", err)
		return models.HipLineResult{Fraction: t.HipRatio, Confidence: 20, Method: "anatomical_ratio"}
	}

	background := grid.backgroundLevel()
	bodyTop, bodyBottom := -1, -1
	for y := 0; y < grid.size; y++ {
		if grid.rowDeviation(y, background) > t.RowDelta {
			if bodyTop == -1 {
				bodyTop = y
			}
			bodyBottom = y
		}
	}
	if bodyTop == -1 {
		return models.HipLineResult{Fraction: t.HipRatio, Confidence: 20, Method: "anatomical_ratio"}
	}

	bodyHeight := bodyBottom - bodyTop + 1

	// edge strength scan inside the torso band, peak lookup inside the
	// narrower likely-hip sub band
	torsoStart := bodyTop + int(float64(bodyHeight)*t.TorsoBandTop)
	torsoEnd := bodyTop + int(float64(bodyHeight)*t.TorsoBandBottom)
	hipStart := bodyTop + int(float64(bodyHeight)*t.HipBandTop)
	hipEnd := bodyTop + int(float64(bodyHeight)*t.HipBandBottom)

	var totalStrength float64
	var bandRows int
	for y := torsoStart; y <= torsoEnd && y < grid.size; y++ {
		totalStrength += grid.rowEdgeStrength(y)
		bandRows++
	}

	peakRow, peakStrength := -1, 0.0
	for y := hipStart; y <= hipEnd && y < grid.size; y++ {
		if s := grid.rowEdgeStrength(y); s > peakStrength {
			peakStrength = s
			peakRow = y
		}
	}

	if peakRow != -1 && bandRows > 0 && totalStrength > 0 {
		meanStrength := totalStrength / float64(bandRows)
		// confidence grows with how much the peak stands out of the band
		ratio := peakStrength / (meanStrength + 1e-9)
		confidence := clampInt(int(math.Round(ratio*30)), 0, 95)
		if confidence >= t.HipEdgeConfidenceFloor {
			return models.HipLineResult{
				Fraction:   clampFloat(float64(peakRow)/float64(grid.size), t.HipClampLow, t.HipClampHigh),
				Confidence: confidence,
				Method:     "edge_scan",
			}
		}
	}

	// fallback: fixed anatomical ratio of the visible body
	fraction := (float64(bodyTop) + float64(bodyHeight)*t.HipRatio) / float64(grid.size)
	return models.HipLineResult{
		Fraction:   clampFloat(fraction, t.HipClampLow, t.HipClampHigh),
		Confidence: 45,
		Method:     "anatomical_ratio",
	}
}
