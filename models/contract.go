package models

// SubjectSource distinguishes a real uploaded person from a synthetic model.
// Real persons lock the pose: the contract may never allow pose changes for them.
type SubjectSource string

const (
	SubjectReal      SubjectSource = "real_person"
	SubjectSynthetic SubjectSource = "synthetic"
)

// EnforcementLevel is the topology enforcement ladder, escalated on violations.
type EnforcementLevel int

const (
	EnforcementNormal EnforcementLevel = iota
	EnforcementStrict
	EnforcementAbsolute
)

func (l EnforcementLevel) String() string {
	switch l {
	case EnforcementStrict:
		return "strict"
	case EnforcementAbsolute:
		return "absolute"
	default:
		return "normal"
	}
}

type SubjectDescriptor struct {
	Type   string        `json:"type"` // person, mannequin
	Source SubjectSource `json:"source"`
	Gender string        `json:"gender"`
}

type ProductDescriptor struct {
	Category GarmentCategory   `json:"category"`
	Topology Topology          `json:"topology"`
	Hemline  HemlinePosition   `json:"hemline"`
	Pattern  PatternDescriptor `json:"pattern"`
	// required fraction of the frame the product must occupy, 0-1
	VisibilityScore float64 `json:"visibility_score"`
}

type PoseDescriptor struct {
	Class string `json:"class"`
	// false whenever subject source is a real person, no exceptions
	AllowedChanges bool `json:"allowed_changes"`
}

type EnvironmentDescriptor struct {
	Scene    string `json:"scene"`
	Mood     string `json:"mood"`
	Platform string `json:"platform"`           // target publishing platform
	Audience string `json:"audience,omitempty"` // who the shot is styled for
}

type LightingDescriptor struct {
	Direction string `json:"direction"`
	Style     string `json:"style"`
	// when true the renderer must keep the reference image lighting untouched
	InheritOnly bool `json:"inherit_only"`
}

type CameraDescriptor struct {
	Angle       string `json:"angle"`
	Framing     string `json:"framing"` // full_body, three_quarter, waist_up
	AspectRatio string `json:"aspect_ratio"`
}

// RenderingDirectives carry the retry-derived generation parameter adjustments.
type RenderingDirectives struct {
	Temperature         float32          `json:"temperature"`
	TopologyEnforcement EnforcementLevel `json:"topology_enforcement"`
	CreativeRealism     bool             `json:"creative_realism"`
}

// ConstraintProfile is the compiled contract consumed by the generation model.
// It is rebuilt from scratch on every attempt; never mutated in place.
type ConstraintProfile struct {
	AdType      string                `json:"ad_type"`
	Subject     SubjectDescriptor     `json:"subject"`
	Product     ProductDescriptor     `json:"product"`
	Pose        PoseDescriptor        `json:"pose"`
	Environment EnvironmentDescriptor `json:"environment"`
	Lighting    LightingDescriptor    `json:"lighting"`
	Camera      CameraDescriptor      `json:"camera"`

	NegativeConstraints []string `json:"negative_constraints"`
	TexturePriority     []string `json:"texture_priority"`

	Confidence int `json:"confidence"` // 0-100

	Rendering RenderingDirectives `json:"rendering"`
}
