package pipeline

import (
	"fmt"

	"tryonapi/models"
)

// CompileInput gathers everything the constraint compiler needs for one attempt.
type CompileInput struct {
	PresetID        string
	Facts           models.ExtractedUserFacts
	Garment         models.GarmentClassification
	Topology        models.TopologyResult
	SubjectSource   models.SubjectSource
	SubjectType     string // person, mannequin
	TargetPlatform  string
	TargetAudience  string
	Mood            string
	VisibilityBias  float64 // caller-requested product dominance override, 0 keeps preset
	RequireFallback bool    // when true, low confidence compiles a safe profile instead of failing
	Retry           RetryContext
}

const safeConfidenceFloor = 60

// Compile builds the ConstraintProfile for one generation attempt. The profile
// is derived fresh every time from the inputs plus the retry context; nothing
// here mutates shared state.
func Compile(in CompileInput) (models.ConstraintProfile, error) {
	preset, err := LookupPreset(in.PresetID)
	if err != nil {
		return models.ConstraintProfile{}, err
	}
	if in.SubjectSource != models.SubjectReal && in.SubjectSource != models.SubjectSynthetic {
		return models.ConstraintProfile{}, &ConstraintValidationError{Reason: fmt.Sprintf("unknown subject source %q", in.SubjectSource)}
	}

	confidence := combinedConfidence(in)
	if confidence < safeConfidenceFloor && !in.RequireFallback {
		return models.ConstraintProfile{}, &ConstraintValidationError{
			Reason: fmt.Sprintf("combined confidence %d below floor %d", confidence, safeConfidenceFloor),
		}
	}

	subjectType := in.SubjectType
	if subjectType == "" {
		subjectType = "person"
	}

	visibility := preset.ProductDominanceMin
	if in.VisibilityBias > 0 {
		visibility = in.VisibilityBias
	}
	visibility = clampFloat(visibility, 0, 1)

	mood := preset.Mood
	if in.Mood != "" {
		mood = in.Mood
	}

	profile := models.ConstraintProfile{
		AdType: preset.ID,
		Subject: models.SubjectDescriptor{
			Type:   subjectType,
			Source: in.SubjectSource,
			Gender: in.Facts.Gender,
		},
		Product: models.ProductDescriptor{
			Category:        in.Garment.Category,
			Topology:        in.Topology.Topology,
			Hemline:         in.Garment.Hemline,
			Pattern:         in.Garment.Pattern,
			VisibilityScore: visibility,
		},
		Pose: models.PoseDescriptor{
			Class: in.Facts.Pose,
			// real persons never permit pose changes, regardless of preset,
			// retry pressure, or caller options
			AllowedChanges: in.SubjectSource != models.SubjectReal,
		},
		Environment: models.EnvironmentDescriptor{
			Scene:    preset.Scene,
			Mood:     mood,
			Platform: in.TargetPlatform,
			Audience: in.TargetAudience,
		},
		Lighting: models.LightingDescriptor{
			Direction:   preset.LightingDirection,
			Style:       preset.LightingStyle,
			InheritOnly: in.Retry.InheritLightingOnly,
		},
		Camera: models.CameraDescriptor{
			Angle:       preset.CameraAngle,
			Framing:     preset.Framing,
			AspectRatio: preset.AspectRatio,
		},
		Confidence: confidence,
		Rendering: models.RenderingDirectives{
			Temperature:         compiledTemperature(preset, in.Retry),
			TopologyEnforcement: in.Retry.Enforcement,
			CreativeRealism:     !in.Retry.DisableCreative && in.Retry.Enforcement == models.EnforcementNormal,
		},
	}

	if confidence < safeConfidenceFloor {
		applySafeRendering(&profile)
	}

	profile.NegativeConstraints = negativeConstraints(preset, in)
	profile.TexturePriority = texturePriority(in)
	return profile, nil
}

// combinedConfidence is the weakest-link of the upstream extractors.
func combinedConfidence(in CompileInput) int {
	c := in.Facts.ExtractionConfidence
	if in.Garment.Confidence < c {
		c = in.Garment.Confidence
	}
	if in.Topology.Confidence < c {
		c = in.Topology.Confidence
	}
	return clampInt(c, 0, 100)
}

func compiledTemperature(preset Preset, retry RetryContext) float32 {
	t := preset.BaseTemperature + retry.TemperatureDelta
	if t < 0.1 {
		t = 0.1
	}
	if t > 1.2 {
		t = 1.2
	}
	return t
}

// applySafeRendering degrades an under-confident profile to conservative
// choices instead of failing the attempt outright.
func applySafeRendering(p *models.ConstraintProfile) {
	p.Rendering.CreativeRealism = false
	if p.Rendering.Temperature > 0.6 {
		p.Rendering.Temperature = 0.6
	}
	p.Lighting.InheritOnly = true
	p.Camera.Angle = "eye level"
}

func negativeConstraints(preset Preset, in CompileInput) []string {
	out := append([]string{}, preset.ForbiddenElements...)
	out = append(out,
		"no garment substitution",
		"no invented logos or prints",
	)
	if in.SubjectSource == models.SubjectReal {
		out = append(out, "do not alter facial features", "do not change body proportions")
	}
	if in.Topology.RequiresPants {
		out = append(out, "lower body must wear visible pants or trousers")
	}
	switch in.Topology.Topology {
	case models.TopologyTopOnly:
		out = append(out, "garment hem must not extend below the hip line", "do not render the top as a dress")
	case models.TopologyDress:
		out = append(out, "do not shorten the dress into a top")
	case models.TopologyTwoPiece:
		out = append(out, "render both pieces, never merge them into one garment")
	}

	m := in.Retry.Multipliers
	if m.Topology > 1.0 {
		out = append(out, "ABSOLUTE: preserve the measured garment length exactly")
	}
	if m.Face > 1.0 {
		out = append(out, "ABSOLUTE: the face must be pixel-faithful to the reference")
	}
	if m.Garment > 1.0 {
		out = append(out, "STRICT: garment color, pattern and cut must match the reference")
	}
	if in.Retry.Enforcement >= models.EnforcementStrict {
		out = append(out, "reject any creative reinterpretation of the garment")
	}
	if in.Retry.Enforcement == models.EnforcementAbsolute {
		out = append(out, "copy the garment silhouette verbatim from the reference image")
	}
	if len(out) == 0 {
		out = []string{"no garment substitution"}
	}
	return out
}

func texturePriority(in CompileInput) []string {
	var out []string
	if in.Garment.Pattern.Type != "" && in.Garment.Pattern.Type != "solid" {
		out = append(out, fmt.Sprintf("%s pattern at %s scale", in.Garment.Pattern.Type, in.Garment.Pattern.Scale))
	}
	for _, c := range in.Garment.Pattern.Colors {
		out = append(out, fmt.Sprintf("exact %s color reproduction", c))
	}
	if in.Garment.Fabric.Material != "" {
		out = append(out, fmt.Sprintf("%s fabric drape and sheen", in.Garment.Fabric.Material))
	}
	if len(out) == 0 {
		out = []string{"faithful fabric texture reproduction"}
	}
	return out
}
