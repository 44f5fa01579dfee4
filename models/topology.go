package models

// Topology is the structural category of a garment: whether bottom-wear must be
// rendered separately. Measured from pixels, never taken from the generation model.
type Topology string

const (
	TopologyTopOnly  Topology = "TOP_ONLY"
	TopologyDress    Topology = "DRESS"
	TopologyTwoPiece Topology = "TWO_PIECE"
)

// TopologyResult is the deterministic classifier's verdict on a garment image.
type TopologyResult struct {
	Topology Topology `json:"topology"`
	// fraction of the image height covered by the garment
	Coverage float64 `json:"coverage"`
	// bottom garment edge as a fraction from the top of the image
	BottomEdge float64 `json:"bottom_edge"`
	// 0-100, derived from distance to the deciding threshold
	Confidence int `json:"confidence"`
	// which branch of the decision rule fired
	Method        string `json:"method"`
	RequiresPants bool   `json:"requires_pants"`
}

// HipLineResult estimates the horizontal hip boundary on a person image.
type HipLineResult struct {
	// 0-1 from the top of the image
	Fraction   float64 `json:"fraction"`
	Confidence int     `json:"confidence"`
	Method     string  `json:"method"` // edge_scan, anatomical_ratio
}

type BoundaryViolationKind string

const (
	ViolationTopExtendsBelowHip      BoundaryViolationKind = "TOP_EXTENDS_BELOW_HIP"
	ViolationDressConverted          BoundaryViolationKind = "DRESS_CONVERTED"
	ViolationMissingPants            BoundaryViolationKind = "MISSING_PANTS"
	ViolationSilhouetteHallucination BoundaryViolationKind = "SILHOUETTE_HALLUCINATION"
)

// BoundaryCheck re-measures the generated image against the expected topology.
type BoundaryCheck struct {
	Valid          bool                  `json:"valid"`
	Violation      BoundaryViolationKind `json:"violation,omitempty"`
	Severity       int                   `json:"severity"` // 1-10
	MeasuredBottom float64               `json:"measured_bottom"`
	// hem edge the topology imposes: an upper bound for TOP_ONLY, a lower
	// bound for DRESS
	HemThreshold float64 `json:"hem_threshold"`
	ShouldRetry  bool    `json:"should_retry"`
}
