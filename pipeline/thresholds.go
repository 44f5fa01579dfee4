package pipeline

// ClassifierThresholds are the tunables of the deterministic classifiers.
// Defaults come from manual calibration on catalog photos; they are injectable
// so tests and future calibration runs can override them without recompiling.
type ClassifierThresholds struct {
	// analysis grid size, images are downsampled to GridSize x GridSize
	GridSize int

	// per-row luminance delta (0-255) against background to count as garment
	RowDelta float64

	// coverage below this is TOP_ONLY, above DressCoverage is DRESS
	TopOnlyCoverage float64
	DressCoverage   float64

	// minimum consecutive background-like rows in the mid region for TWO_PIECE
	TwoPieceGapRows int

	// bottom edge may sit this far below the hip line before it is a violation
	HipTolerance float64
	// overflow beyond the hip tolerance at which a top counts as converted to a dress
	DressConversionOverflow float64
	// a dress hemline must reach at least this far below the hip line
	DressMinExtension float64
	// fraction of lower-body rows that must show garment when pants are required
	PantsCoverageFloor float64

	// hip line search bands, fractions of detected body height
	TorsoBandTop    float64
	TorsoBandBottom float64
	HipBandTop      float64
	HipBandBottom   float64
	// anatomical fallback ratio and clamp range
	HipRatio     float64
	HipClampLow  float64
	HipClampHigh float64
	// minimum confidence for the edge scan before falling back to the ratio
	HipEdgeConfidenceFloor int
}

func DefaultThresholds() ClassifierThresholds {
	return ClassifierThresholds{
		GridSize:                64,
		RowDelta:                18,
		TopOnlyCoverage:         0.55,
		DressCoverage:           0.80,
		TwoPieceGapRows:         3,
		HipTolerance:            0.08,
		DressConversionOverflow: 0.05,
		DressMinExtension:       0.10,
		PantsCoverageFloor:      0.30,
		TorsoBandTop:            0.30,
		TorsoBandBottom:         0.75,
		HipBandTop:              0.40,
		HipBandBottom:           0.62,
		HipRatio:                0.52,
		HipClampLow:             0.40,
		HipClampHigh:            0.65,
		HipEdgeConfidenceFloor:  55,
	}
}
