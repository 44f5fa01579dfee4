package services

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/getsentry/sentry-go"
	"google.golang.org/genai"

	"tryonapi/models"
	"tryonapi/pipeline"
)

const judgeTimeout = 45 * time.Second

// GeminiSimilarityService is the guardrail judge: it scores a generated image
// against the person and garment references. Judge failures are returned as
// errors, the orchestrator fails the attempt rather than accepting unverified
// output.
type GeminiSimilarityService struct {
	JudgeModel LLMModelName
}

func NewGeminiSimilarityService() *GeminiSimilarityService {
	return &GeminiSimilarityService{JudgeModel: Flash25}
}

type identityJudgePayload struct {
	Similarity   int  `json:"similarity"`
	SamePerson   bool `json:"same_person"`
	FaceModified bool `json:"face_modified"`
}

type garmentJudgePayload struct {
	Score    int      `json:"score"`
	Matches  bool     `json:"matches"`
	Failures []string `json:"failures"`
	Notes    []string `json:"notes"`
}

func (g *GeminiSimilarityService) CompareIdentity(ctx context.Context, reference []byte, candidate []byte) (pipeline.IdentityVerdict, error) {
	ctx, cancel := context.WithTimeout(ctx, judgeTimeout)
	defer cancel()

	client, err := newGenaiClient(ctx)
	if err != nil {
		return pipeline.IdentityVerdict{}, fmt.Errorf("genai client: %w", err)
	}

	parts := []*genai.Part{
		inlineImagePart(reference),
		inlineImagePart(candidate),
		{Text: "Compare the person in the first image with the person in the second image using the response schema."},
	}

	result, err := client.Models.GenerateContent(ctx, g.JudgeModel.String(), []*genai.Content{{Parts: parts}}, &genai.GenerateContentConfig{
		ResponseMIMEType: "application/json",
		CandidateCount:   1,
		MaxOutputTokens:  1000,
		Temperature:      floatPointer(0.1),
		SystemInstruction: &genai.Content{
			Parts: []*genai.Part{
				{Text: `You are a strict identity verification judge. Similarity is 0-100: 100 means the exact same face, below 50 means a different person. face_modified is true when facial features were altered, beautified, reshaped or replaced, even subtly. Judge only the face and head, ignore clothing and background.`},
			},
		},
		ResponseSchema: &genai.Schema{
			Type: "object",
			Properties: map[string]*genai.Schema{
				"similarity":    {Type: "integer"},
				"same_person":   {Type: "boolean"},
				"face_modified": {Type: "boolean"},
			},
			Required: []string{"similarity", "same_person", "face_modified"},
		},
	})
	if err != nil {
		sentry.CaptureException(fmt.Errorf("identity judge call failed: %w", err))
		return pipeline.IdentityVerdict{}, fmt.Errorf("identity judge: %w", err)
	}
	logTokenUsage(result)

	text, err := GetFirstCandidateTextWithThoughts(result)
	if err != nil {
		return pipeline.IdentityVerdict{}, fmt.Errorf("identity judge response: %w", err)
	}

	var payload identityJudgePayload
	if err := json.Unmarshal([]byte(cleanAIResponseText(text.Text)), &payload); err != nil {
		return pipeline.IdentityVerdict{}, fmt.Errorf("identity judge JSON: %w", err)
	}

	return pipeline.IdentityVerdict{
		Similarity:   payload.Similarity,
		SamePerson:   payload.SamePerson,
		FaceModified: payload.FaceModified,
	}, nil
}

func (g *GeminiSimilarityService) CompareGarment(ctx context.Context, reference []byte, candidate []byte, expected models.GarmentClassification) (pipeline.GarmentVerdict, error) {
	ctx, cancel := context.WithTimeout(ctx, judgeTimeout)
	defer cancel()

	client, err := newGenaiClient(ctx)
	if err != nil {
		return pipeline.GarmentVerdict{}, fmt.Errorf("genai client: %w", err)
	}

	expectedJSON, _ := json.Marshal(expected)
	parts := []*genai.Part{
		inlineImagePart(reference),
		inlineImagePart(candidate),
		{Text: "The first image is the garment reference. Check whether the person in the second image wears that exact garment. Expected classification:\n" + string(expectedJSON)},
	}

	result, err := client.Models.GenerateContent(ctx, g.JudgeModel.String(), []*genai.Content{{Parts: parts}}, &genai.GenerateContentConfig{
		ResponseMIMEType: "application/json",
		CandidateCount:   1,
		MaxOutputTokens:  2000,
		Temperature:      floatPointer(0.1),
		SystemInstruction: &genai.Content{
			Parts: []*genai.Part{
				{Text: `You are a strict garment fidelity judge for try-on renders. Score 0-100 how faithfully the worn garment matches the reference: type, length, color, pattern, fabric. For every deviation add a failure tag from this closed set: garment_type, garment_length, garment_pattern, garment_color, pose, scene, lighting. Notes hold one short sentence per failure.`},
			},
		},
		ResponseSchema: &genai.Schema{
			Type: "object",
			Properties: map[string]*genai.Schema{
				"score":    {Type: "integer"},
				"matches":  {Type: "boolean"},
				"failures": {Type: "array", Items: &genai.Schema{Type: "string"}},
				"notes":    {Type: "array", Items: &genai.Schema{Type: "string"}},
			},
			Required: []string{"score", "matches"},
		},
	})
	if err != nil {
		sentry.CaptureException(fmt.Errorf("garment judge call failed: %w", err))
		return pipeline.GarmentVerdict{}, fmt.Errorf("garment judge: %w", err)
	}
	logTokenUsage(result)

	text, err := GetFirstCandidateTextWithThoughts(result)
	if err != nil {
		return pipeline.GarmentVerdict{}, fmt.Errorf("garment judge response: %w", err)
	}

	var payload garmentJudgePayload
	if err := json.Unmarshal([]byte(cleanAIResponseText(text.Text)), &payload); err != nil {
		return pipeline.GarmentVerdict{}, fmt.Errorf("garment judge JSON: %w", err)
	}

	return pipeline.GarmentVerdict{
		Score:    payload.Score,
		Matches:  payload.Matches,
		Failures: scanFailureKinds(payload.Failures),
		Notes:    payload.Notes,
	}, nil
}

// scanFailureKinds maps judge labels onto the closed failure set, dropping
// anything it does not recognize.
func scanFailureKinds(labels []string) []pipeline.FailureKind {
	known := map[string]pipeline.FailureKind{
		"garment_type":    pipeline.FailureGarmentType,
		"garment_length":  pipeline.FailureGarmentLength,
		"garment_pattern": pipeline.FailureGarmentPattern,
		"garment_color":   pipeline.FailureGarmentColor,
		"pose":            pipeline.FailurePose,
		"scene":           pipeline.FailureScene,
		"lighting":        pipeline.FailureLighting,
	}
	var out []pipeline.FailureKind
	for _, label := range labels {
		if kind, ok := known[label]; ok {
			out = append(out, kind)
		} else {
			fmt.Printf("[GarmentJudge] dropping unknown failure label %q\n", label)
		}
	}
	return out
}
