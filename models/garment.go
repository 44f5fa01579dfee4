package models

import (
	"strings"

	"github.com/lib/pq"
)

// GarmentCategory is the closed set of garment types the pipeline understands.
// Values coming back from the vision model are mapped through ScanGarmentCategory
// so an unexpected label degrades to CategoryUnknown instead of leaking a raw string.
type GarmentCategory string

const (
	CategoryShirt      GarmentCategory = "SHIRT"
	CategoryTShirt     GarmentCategory = "TSHIRT"
	CategoryShortKurta GarmentCategory = "SHORT_KURTA"
	CategoryLongKurta  GarmentCategory = "LONG_KURTA"
	CategoryDress      GarmentCategory = "DRESS"
	CategoryTwoPiece   GarmentCategory = "TWO_PIECE"
	CategoryUnknown    GarmentCategory = "UNKNOWN"
)

func ScanGarmentCategory(value string) GarmentCategory {
	switch GarmentCategory(strings.ToUpper(strings.TrimSpace(value))) {
	case CategoryShirt:
		return CategoryShirt
	case CategoryTShirt:
		return CategoryTShirt
	case CategoryShortKurta:
		return CategoryShortKurta
	case CategoryLongKurta:
		return CategoryLongKurta
	case CategoryDress:
		return CategoryDress
	case CategoryTwoPiece:
		return CategoryTwoPiece
	default:
		return CategoryUnknown
	}
}

type HemlinePosition string

const (
	HemlineWaist    HemlinePosition = "WAIST"
	HemlineHip      HemlinePosition = "HIP"
	HemlineMidThigh HemlinePosition = "MID_THIGH"
	HemlineKnee     HemlinePosition = "KNEE"
	HemlineMidCalf  HemlinePosition = "MID_CALF"
	HemlineAnkle    HemlinePosition = "ANKLE"
	HemlineUnknown  HemlinePosition = "UNKNOWN"
)

func ScanHemlinePosition(value string) HemlinePosition {
	switch HemlinePosition(strings.ToUpper(strings.TrimSpace(value))) {
	case HemlineWaist:
		return HemlineWaist
	case HemlineHip:
		return HemlineHip
	case HemlineMidThigh:
		return HemlineMidThigh
	case HemlineKnee:
		return HemlineKnee
	case HemlineMidCalf:
		return HemlineMidCalf
	case HemlineAnkle:
		return HemlineAnkle
	default:
		return HemlineUnknown
	}
}

type PatternDescriptor struct {
	Type    string   `json:"type"` // solid, striped, floral, geometric, printed
	Colors  []string `json:"colors"`
	Scale   string   `json:"scale"`   // small, medium, large
	Density string   `json:"density"` // sparse, medium, dense
}

type FabricDescriptor struct {
	Material string `json:"material"` // cotton, silk, denim...
	Finish   string `json:"finish"`   // matte, glossy, textured
}

// GarmentClassification is the vision model's read of a garment image.
// Topology is measured separately by the deterministic classifier and is
// authoritative over whatever the model claims here.
type GarmentClassification struct {
	Category   GarmentCategory   `json:"category"`
	Hemline    HemlinePosition   `json:"hemline"`
	Pattern    PatternDescriptor `json:"pattern"`
	Fabric     FabricDescriptor  `json:"fabric"`
	Confidence int               `json:"confidence"` // 0-100
}

// Garment is a stored garment/product reference image.
type Garment struct {
	JsonModel
	Name                string      `json:"name"`
	Description         *string     `gorm:"type:text" json:"description"`
	Owner               UserAccount `json:"-"`
	OwnerID             uint        `json:"-"`
	Status              string      `json:"status"`            // temporary, in_closet
	ImageStatus         string      `json:"image_status"`      // draft, uploaded
	ProcessingStatus    string      `json:"processing_status"` // idle, classifying, completed, failed
	ProcessRetryTimes   int         `json:"process_retry_times"`
	ProcessErrorMessage *string     `json:"process_error_message"`
	ImageKey            *string     `json:"image_key"`

	// filled by the vision classification task
	ClassificationJSON *string        `gorm:"type:text" json:"-"`
	Category           *string        `json:"category"`
	Hemline            *string        `json:"hemline"`
	PatternColors      pq.StringArray `gorm:"type:text[]" json:"pattern_colors"`
}
