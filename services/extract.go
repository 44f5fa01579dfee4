package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"image"
	"image/png"
	"time"

	"github.com/getsentry/sentry-go"
	"google.golang.org/genai"

	"tryonapi/models"
)

const extractionTimeout = 60 * time.Second

// GeminiVisionService answers the structured extraction calls of the pipeline:
// person facts and garment classification. Both degrade to low-confidence
// defaults instead of failing the whole try-on when the model misbehaves.
type GeminiVisionService struct {
	AnalysisModel LLMModelName
}

func NewGeminiVisionService() *GeminiVisionService {
	return &GeminiVisionService{AnalysisModel: Flash25}
}

type extractedFactsPayload struct {
	FaceShape   string   `json:"face_shape"`
	SkinTone    string   `json:"skin_tone"`
	BodyType    string   `json:"body_type"`
	Pose        string   `json:"pose"`
	Gender      string   `json:"gender"`
	Accessories []string `json:"accessories"`
	Confidence  int      `json:"confidence"`
}

type garmentPayload struct {
	Category   string   `json:"category"`
	Hemline    string   `json:"hemline"`
	Pattern    string   `json:"pattern"`
	Colors     []string `json:"colors"`
	Scale      string   `json:"scale"`
	Density    string   `json:"density"`
	Material   string   `json:"material"`
	Finish     string   `json:"finish"`
	Confidence int      `json:"confidence"`
}

func (g *GeminiVisionService) ExtractUserFacts(ctx context.Context, personImage []byte) (models.ExtractedUserFacts, []byte, error) {
	ctx, cancel := context.WithTimeout(ctx, extractionTimeout)
	defer cancel()

	faceCrop := cropFaceRegion(personImage)

	client, err := newGenaiClient(ctx)
	if err != nil {
		fmt.Println("Error creating genai client for extraction:", err)
		sentry.CaptureException(fmt.Errorf("error creating genai client for extraction: %w", err))
		return models.DefaultUserFacts(), faceCrop, nil
	}

	parts := []*genai.Part{
		inlineImagePart(personImage),
		{Text: "Describe the person in the image using the response schema. Be factual, never guess occluded attributes; lower the confidence instead."},
	}

	result, err := client.Models.GenerateContent(ctx, g.AnalysisModel.String(), []*genai.Content{{Parts: parts}}, &genai.GenerateContentConfig{
		ResponseMIMEType: "application/json",
		CandidateCount:   1,
		MaxOutputTokens:  2000,
		Temperature:      floatPointer(0.2),
		SystemInstruction: &genai.Content{
			Parts: []*genai.Part{
				{Text: `You describe people in photos for a virtual try-on system. Report face shape (oval, round, square, heart), skin tone, body type (slim, athletic, average, plus), pose (standing, seated, three_quarter), perceived gender and visible accessories. Confidence is 0-100 and reflects how clearly the person is visible.`},
			},
		},
		ResponseSchema: &genai.Schema{
			Type: "object",
			Properties: map[string]*genai.Schema{
				"face_shape":  {Type: "string"},
				"skin_tone":   {Type: "string"},
				"body_type":   {Type: "string"},
				"pose":        {Type: "string"},
				"gender":      {Type: "string"},
				"accessories": {Type: "array", Items: &genai.Schema{Type: "string"}},
				"confidence":  {Type: "integer"},
			},
			Required: []string{"face_shape", "skin_tone", "body_type", "pose", "gender", "confidence"},
		},
	})
	if err != nil {
		fmt.Println("Error in GenerateContent for user facts:", err)
		sentry.CaptureException(fmt.Errorf("user facts extraction failed: %w", err))
		return models.DefaultUserFacts(), faceCrop, nil
	}
	logTokenUsage(result)

	llmResponseText, err := GetFirstCandidateTextWithThoughts(result)
	if err != nil {
		fmt.Println("Error getting extraction text: ", err)
		return models.DefaultUserFacts(), faceCrop, nil
	}

	var payload extractedFactsPayload
	if err := json.Unmarshal([]byte(cleanAIResponseText(llmResponseText.Text)), &payload); err != nil {
		fmt.Println("Error parsing extraction JSON:", err)
		sentry.CaptureException(fmt.Errorf("user facts JSON parse failed: %w", err))
		return models.DefaultUserFacts(), faceCrop, nil
	}

	facts := models.ExtractedUserFacts{
		FaceShape:            payload.FaceShape,
		SkinTone:             payload.SkinTone,
		BodyType:             payload.BodyType,
		Pose:                 payload.Pose,
		Gender:               payload.Gender,
		Accessories:          payload.Accessories,
		ExtractionConfidence: payload.Confidence,
	}
	fillFactDefaults(&facts)
	return facts, faceCrop, nil
}

// fillFactDefaults substitutes missing fields and docks confidence for each one.
func fillFactDefaults(facts *models.ExtractedUserFacts) {
	defaults := models.DefaultUserFacts()
	docked := 0
	if facts.FaceShape == "" {
		facts.FaceShape = defaults.FaceShape
		docked++
	}
	if facts.SkinTone == "" {
		facts.SkinTone = defaults.SkinTone
		docked++
	}
	if facts.BodyType == "" {
		facts.BodyType = defaults.BodyType
		docked++
	}
	if facts.Pose == "" {
		facts.Pose = defaults.Pose
		docked++
	}
	if facts.Gender == "" {
		facts.Gender = defaults.Gender
		docked++
	}
	if facts.Accessories == nil {
		facts.Accessories = []string{}
	}
	facts.ExtractionConfidence -= docked * 10
	if facts.ExtractionConfidence < 0 {
		facts.ExtractionConfidence = 0
	}
	if facts.ExtractionConfidence > 100 {
		facts.ExtractionConfidence = 100
	}
}

func (g *GeminiVisionService) ClassifyGarment(ctx context.Context, garmentImage []byte) (models.GarmentClassification, error) {
	ctx, cancel := context.WithTimeout(ctx, extractionTimeout)
	defer cancel()

	client, err := newGenaiClient(ctx)
	if err != nil {
		fmt.Println("Error creating genai client for garment classification:", err)
		sentry.CaptureException(fmt.Errorf("error creating genai client for garment classification: %w", err))
		return unknownGarment(), nil
	}

	parts := []*genai.Part{
		inlineImagePart(garmentImage),
		{Text: "Classify the garment in the image using the response schema."},
	}

	result, err := client.Models.GenerateContent(ctx, g.AnalysisModel.String(), []*genai.Content{{Parts: parts}}, &genai.GenerateContentConfig{
		ResponseMIMEType: "application/json",
		CandidateCount:   1,
		MaxOutputTokens:  2000,
		Temperature:      floatPointer(0.2),
		SystemInstruction: &genai.Content{
			Parts: []*genai.Part{
				{Text: `You classify single garment product photos. Category is one of SHIRT, TSHIRT, SHORT_KURTA, LONG_KURTA, DRESS, TWO_PIECE. Hemline is one of WAIST, HIP, MID_THIGH, KNEE, MID_CALF, ANKLE. Pattern is solid, striped, floral, geometric or printed, with its dominant colors, scale (small, medium, large) and density (sparse, medium, dense). Material is the visible fabric, finish is matte, glossy or textured. Confidence is 0-100.`},
			},
		},
		ResponseSchema: &genai.Schema{
			Type: "object",
			Properties: map[string]*genai.Schema{
				"category":   {Type: "string"},
				"hemline":    {Type: "string"},
				"pattern":    {Type: "string"},
				"colors":     {Type: "array", Items: &genai.Schema{Type: "string"}},
				"scale":      {Type: "string"},
				"density":    {Type: "string"},
				"material":   {Type: "string"},
				"finish":     {Type: "string"},
				"confidence": {Type: "integer"},
			},
			Required: []string{"category", "hemline", "pattern", "confidence"},
		},
	})
	if err != nil {
		fmt.Println("Error in GenerateContent for garment classification:", err)
		sentry.CaptureException(fmt.Errorf("garment classification failed: %w", err))
		return unknownGarment(), nil
	}
	logTokenUsage(result)

	llmResponseText, err := GetFirstCandidateTextWithThoughts(result)
	if err != nil {
		fmt.Println("Error getting garment classification text: ", err)
		return unknownGarment(), nil
	}

	var payload garmentPayload
	if err := json.Unmarshal([]byte(cleanAIResponseText(llmResponseText.Text)), &payload); err != nil {
		fmt.Println("Error parsing garment classification JSON:", err)
		sentry.CaptureException(fmt.Errorf("garment classification JSON parse failed: %w", err))
		return unknownGarment(), nil
	}

	classification := models.GarmentClassification{
		Category: models.ScanGarmentCategory(payload.Category),
		Hemline:  models.ScanHemlinePosition(payload.Hemline),
		Pattern: models.PatternDescriptor{
			Type:    payload.Pattern,
			Colors:  payload.Colors,
			Scale:   payload.Scale,
			Density: payload.Density,
		},
		Fabric: models.FabricDescriptor{
			Material: payload.Material,
			Finish:   payload.Finish,
		},
		Confidence: payload.Confidence,
	}
	if classification.Category == models.CategoryUnknown && classification.Confidence > 40 {
		// the model was sure about a label outside the closed set
		classification.Confidence = 40
	}
	return classification, nil
}

func unknownGarment() models.GarmentClassification {
	return models.GarmentClassification{
		Category:   models.CategoryUnknown,
		Hemline:    models.HemlineUnknown,
		Pattern:    models.PatternDescriptor{Type: "solid"},
		Confidence: 30,
	}
}

// cropFaceRegion cuts out the likely face area, the central upper part of a
// portrait shot. Used as the reference for the identity guardrail. Falls back
// to the full image when decoding fails.
func cropFaceRegion(personImage []byte) []byte {
	img, _, err := image.Decode(bytes.NewReader(personImage))
	if err != nil {
		return personImage
	}
	bounds := img.Bounds()
	width := bounds.Dx()
	height := bounds.Dy()
	crop := image.Rect(
		bounds.Min.X+width/4,
		bounds.Min.Y,
		bounds.Min.X+width*3/4,
		bounds.Min.Y+height/3,
	)

	type subImager interface {
		SubImage(r image.Rectangle) image.Image
	}
	si, ok := img.(subImager)
	if !ok {
		return personImage
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, si.SubImage(crop)); err != nil {
		return personImage
	}
	return buf.Bytes()
}
