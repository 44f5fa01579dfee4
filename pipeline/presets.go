package pipeline

import "fmt"

// Preset is a fixed rule bundle for one ad style. Presets deliberately bias
// toward assertive photographic choices; a "neutral" preset does not exist.
type Preset struct {
	ID                string
	LightingDirection string
	LightingStyle     string
	CameraAngle       string
	Framing           string
	AspectRatio       string
	Scene             string
	Mood              string
	// minimum fraction of the frame the product must occupy
	ProductDominanceMin float64
	ForbiddenElements   []string
	BaseTemperature     float32
}

var presets = map[string]Preset{
	"festive_ethnic": {
		ID:                  "festive_ethnic",
		LightingDirection:   "warm key from camera left",
		LightingStyle:       "golden hour glow, deep contrast",
		CameraAngle:         "slight low angle",
		Framing:             "full_body",
		AspectRatio:         "9:16",
		Scene:               "decorated courtyard with marigold accents",
		Mood:                "celebratory",
		ProductDominanceMin: 0.55,
		ForbiddenElements:   []string{"text overlays", "other people", "western storefronts"},
		BaseTemperature:     0.9,
	},
	"studio_catalog": {
		ID:                  "studio_catalog",
		LightingDirection:   "45 degree softbox key, rim from behind",
		LightingStyle:       "crisp commercial studio",
		CameraAngle:         "eye level",
		Framing:             "full_body",
		AspectRatio:         "3:4",
		Scene:               "seamless light gray cyclorama",
		Mood:                "clean",
		ProductDominanceMin: 0.65,
		ForbiddenElements:   []string{"props", "shadows across the garment", "background gradients"},
		BaseTemperature:     0.7,
	},
	"street_editorial": {
		ID:                  "street_editorial",
		LightingDirection:   "hard directional sun, high noon",
		LightingStyle:       "high contrast editorial",
		CameraAngle:         "three quarter low",
		Framing:             "three_quarter",
		AspectRatio:         "4:5",
		Scene:               "old city lane, textured walls",
		Mood:                "bold",
		ProductDominanceMin: 0.5,
		ForbiddenElements:   []string{"vehicles", "crowds", "signage with readable text"},
		BaseTemperature:     1.0,
	},
	"minimal_luxe": {
		ID:                  "minimal_luxe",
		LightingDirection:   "single window light from the right",
		LightingStyle:       "soft falloff, muted tones",
		CameraAngle:         "eye level, slight tilt",
		Framing:             "full_body",
		AspectRatio:         "9:16",
		Scene:               "warm plaster interior, single arch",
		Mood:                "understated premium",
		ProductDominanceMin: 0.6,
		ForbiddenElements:   []string{"clutter", "saturated colors", "patterned backdrops"},
		BaseTemperature:     0.8,
	},
}

// ConstraintValidationError marks a caller/config mistake in constraint
// compilation. Fatal: the orchestrator never retries these.
type ConstraintValidationError struct {
	Reason string
}

func (e *ConstraintValidationError) Error() string {
	return fmt.Sprintf("constraint validation failed: %s", e.Reason)
}

// LookupPreset resolves a preset id, failing with ConstraintValidationError on
// unknown ids.
func LookupPreset(id string) (Preset, error) {
	preset, ok := presets[id]
	if !ok {
		return Preset{}, &ConstraintValidationError{Reason: fmt.Sprintf("unknown preset %q", id)}
	}
	return preset, nil
}

// PresetIDs lists the known preset ids, for validation messages.
func PresetIDs() []string {
	ids := make([]string, 0, len(presets))
	for id := range presets {
		ids = append(ids, id)
	}
	return ids
}

// ValidPreset reports whether id names a known preset.
func ValidPreset(id string) bool {
	_, ok := presets[id]
	return ok
}
