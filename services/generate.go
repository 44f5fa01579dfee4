package services

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/getsentry/sentry-go"
	"google.golang.org/genai"

	"tryonapi/models"
	"tryonapi/pipeline"
)

// GenerationError marks a transport or model failure during rendering. These
// are infrastructure failures, not guardrail rejections, and get their own
// retry bookkeeping at the task layer.
type GenerationError struct {
	Reason string
}

func (e *GenerationError) Error() string {
	return fmt.Sprintf("generation failed: %s", e.Reason)
}

// GeminiGenerationService renders composite try-on images from a compiled
// constraint profile plus the two reference images.
type GeminiGenerationService struct {
	StandardModel LLMModelName
	HighModel     LLMModelName
}

func NewGeminiGenerationService() *GeminiGenerationService {
	return &GeminiGenerationService{
		StandardModel: Flash25Image,
		HighModel:     Pro25Image,
	}
}

// pickModel resolves the tier: premium accounts and explicit high tier
// requests get the stronger image model.
func (g *GeminiGenerationService) pickModel(req pipeline.GenerationRequest) LLMModelName {
	if req.Premium || req.QualityTier == "high" {
		return g.HighModel
	}
	return g.StandardModel
}

func (g *GeminiGenerationService) GenerateComposite(ctx context.Context, req pipeline.GenerationRequest) (pipeline.GenerationOutput, error) {
	client, err := newGenaiClient(ctx)
	if err != nil {
		return pipeline.GenerationOutput{}, &GenerationError{Reason: fmt.Sprintf("genai client: %v", err)}
	}

	modelName := g.pickModel(req)
	profileJSON, err := json.Marshal(req.Profile)
	if err != nil {
		return pipeline.GenerationOutput{}, &GenerationError{Reason: fmt.Sprintf("profile marshal: %v", err)}
	}

	parts := []*genai.Part{
		inlineImagePart(req.PersonImage),
		inlineImagePart(req.GarmentImage),
		{Text: "Render the person from the first image wearing the garment from the second image. Follow this contract exactly:\n" + string(profileJSON)},
	}

	result, err := client.Models.GenerateContent(ctx, modelName.String(), []*genai.Content{{Parts: parts}}, &genai.GenerateContentConfig{
		CandidateCount:  1,
		MaxOutputTokens: 50000,
		Temperature:     floatPointer(req.Profile.Rendering.Temperature),
		SystemInstruction: &genai.Content{
			Parts: []*genai.Part{
				{Text: compositionInstruction(req.Profile)},
			},
		},
	})
	if err != nil {
		fmt.Println("Error in GenerateContent:", err)
		return pipeline.GenerationOutput{}, &GenerationError{Reason: err.Error()}
	}

	inputTokenCount, thoughtsTokenCount, outputTokenCount, _ := logTokenUsage(result)

	if result.PromptFeedback != nil {
		fmt.Println(result.PromptFeedback.BlockReason)
		fmt.Println(result.PromptFeedback.BlockReasonMessage)
		fmt.Println(result.PromptFeedback.SafetyRatings)
		sentry.CaptureMessage(fmt.Sprintf("try-on generation blocked: %s", result.PromptFeedback.BlockReasonMessage))
		return pipeline.GenerationOutput{}, &GenerationError{Reason: fmt.Sprintf("content violation: %s", result.PromptFeedback.BlockReasonMessage)}
	}

	images, err := GetAllInlineImages(result)
	if err != nil {
		fmt.Println("Error getting generated image: ", err)
		return pipeline.GenerationOutput{}, &GenerationError{Reason: err.Error()}
	}
	if len(images) == 0 {
		return pipeline.GenerationOutput{}, &GenerationError{Reason: "model returned no image"}
	}

	return pipeline.GenerationOutput{
		Image:            images[0],
		ModelName:        modelName.String(),
		PromptTokens:     inputTokenCount,
		CompletionTokens: outputTokenCount + thoughtsTokenCount,
	}, nil
}

// compositionInstruction flattens the profile into imperative prose. The JSON
// contract rides along in the prompt; the instruction spells out the rules the
// model must never trade away.
func compositionInstruction(profile models.ConstraintProfile) string {
	var b strings.Builder
	b.WriteString("You are a commercial fashion photographer compositor. ")
	b.WriteString("Dress the subject in the provided garment without changing the garment's cut, color, pattern or length. ")

	if !profile.Pose.AllowedChanges {
		b.WriteString("The subject is a real person: keep the face, body proportions and pose pixel-faithful to the first image. ")
	}
	if profile.Lighting.InheritOnly {
		b.WriteString("Keep the lighting of the first image untouched. ")
	} else {
		b.WriteString(fmt.Sprintf("Lighting: %s, %s. ", profile.Lighting.Direction, profile.Lighting.Style))
	}
	b.WriteString(fmt.Sprintf("Scene: %s, mood %s. Camera: %s, %s framing, aspect ratio %s. ",
		profile.Environment.Scene, profile.Environment.Mood, profile.Camera.Angle, profile.Camera.Framing, profile.Camera.AspectRatio))
	if profile.Environment.Audience != "" {
		b.WriteString(fmt.Sprintf("Style the shot to appeal to %s. ", profile.Environment.Audience))
	}
	b.WriteString(fmt.Sprintf("The garment must occupy at least %.0f%% of the frame. ", profile.Product.VisibilityScore*100))

	switch profile.Rendering.TopologyEnforcement {
	case models.EnforcementStrict:
		b.WriteString("STRICT topology: the garment hem position is non-negotiable, reproduce the measured length exactly. ")
	case models.EnforcementAbsolute:
		b.WriteString("ABSOLUTE topology: copy the garment silhouette and hem position verbatim from the reference image, do not reinterpret anything. ")
	}
	if profile.Product.Topology == models.TopologyTopOnly {
		b.WriteString("The garment is a top, not a dress. Render visible bottom-wear on the lower body. ")
	}

	if len(profile.NegativeConstraints) > 0 {
		b.WriteString("Never include: ")
		b.WriteString(strings.Join(profile.NegativeConstraints, "; "))
		b.WriteString(". ")
	}
	if len(profile.TexturePriority) > 0 {
		b.WriteString("Prioritize: ")
		b.WriteString(strings.Join(profile.TexturePriority, "; "))
		b.WriteString(".")
	}
	return b.String()
}
