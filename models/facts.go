package models

// ExtractedUserFacts are the vision model's structured attributes of the person
// image. Extracted once per distinct content hash, cached afterwards.
type ExtractedUserFacts struct {
	FaceShape   string   `json:"face_shape"` // oval, round, square, heart
	SkinTone    string   `json:"skin_tone"`
	BodyType    string   `json:"body_type"` // slim, athletic, average, plus
	Pose        string   `json:"pose"`      // standing, seated, three_quarter
	Gender      string   `json:"gender"`
	Accessories []string `json:"accessories"`
	// 0-100; lowered when fields had to be defaulted
	ExtractionConfidence int `json:"extraction_confidence"`
}

// DefaultUserFacts is the fallback when extraction times out or the response
// cannot be parsed. The request continues with reduced confidence.
func DefaultUserFacts() ExtractedUserFacts {
	return ExtractedUserFacts{
		FaceShape:            "oval",
		SkinTone:             "medium",
		BodyType:             "average",
		Pose:                 "standing",
		Gender:               "unspecified",
		Accessories:          []string{},
		ExtractionConfidence: 30,
	}
}
