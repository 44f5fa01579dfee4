package pipeline

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"

	"tryonapi/models"
)

type extractorStub struct {
	mu           sync.Mutex
	factCalls    int
	garmentCalls int
}

func (e *extractorStub) ExtractUserFacts(ctx context.Context, personImage []byte) (models.ExtractedUserFacts, []byte, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.factCalls++
	return models.ExtractedUserFacts{
		FaceShape:            "oval",
		SkinTone:             "medium",
		BodyType:             "average",
		Pose:                 "standing front",
		Gender:               "female",
		ExtractionConfidence: 90,
	}, []byte("face-crop"), nil
}

func (e *extractorStub) ClassifyGarment(ctx context.Context, garmentImage []byte) (models.GarmentClassification, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.garmentCalls++
	return models.GarmentClassification{
		Category:   models.CategoryTwoPiece,
		Hemline:    models.HemlineKnee,
		Pattern:    models.PatternDescriptor{Type: "solid", Colors: []string{"teal"}},
		Fabric:     models.FabricDescriptor{Material: "silk"},
		Confidence: 85,
	}, nil
}

type generatorStub struct {
	mu       sync.Mutex
	requests []GenerationRequest
	onCall   func(attempt int)
}

func (g *generatorStub) GenerateComposite(ctx context.Context, req GenerationRequest) (GenerationOutput, error) {
	g.mu.Lock()
	attempt := len(g.requests)
	g.requests = append(g.requests, req)
	g.mu.Unlock()
	if g.onCall != nil {
		g.onCall(attempt)
	}
	return GenerationOutput{
		Image:            []byte(fmt.Sprintf("render-%d", attempt)),
		ModelName:        "render-model",
		PromptTokens:     100,
		CompletionTokens: 20,
	}, nil
}

type seqJudge struct {
	mu           sync.Mutex
	identities   []IdentityVerdict
	garments     []GarmentVerdict
	identityRefs [][]byte
	iCall        int
	gCall        int
}

func (j *seqJudge) CompareIdentity(ctx context.Context, reference []byte, candidate []byte) (IdentityVerdict, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.identityRefs = append(j.identityRefs, reference)
	v := j.identities[j.iCall]
	if j.iCall < len(j.identities)-1 {
		j.iCall++
	}
	return v, nil
}

func (j *seqJudge) CompareGarment(ctx context.Context, reference []byte, candidate []byte, expected models.GarmentClassification) (GarmentVerdict, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	v := j.garments[j.gCall]
	if j.gCall < len(j.garments)-1 {
		j.gCall++
	}
	return v, nil
}

func baseRequest(t *testing.T) Request {
	return Request{
		UserID:         7,
		PersonImage:    garmentImage(t, [2]float64{0.1, 0.9}),
		GarmentImage:   garmentImage(t, [2]float64{0.1, 0.4}, [2]float64{0.55, 0.85}),
		PresetID:       "festive_ethnic",
		SubjectSource:  models.SubjectReal,
		TargetPlatform: "instagram",
		MaxAttempts:    3,
	}
}

func TestOrchestratorAcceptsFirstAttempt(t *testing.T) {
	extractor := &extractorStub{}
	generator := &generatorStub{}
	judge := &seqJudge{
		identities: []IdentityVerdict{{Similarity: 90, SamePerson: true}},
		garments:   []GarmentVerdict{{Score: 88, Matches: true}},
	}
	o := NewOrchestrator(extractor, generator, judge, NewIdentityCache())

	res, err := o.Run(context.Background(), baseRequest(t))

	assert.NoError(t, err)
	assert.Equal(t, StatusAccepted, res.Status)
	assert.Len(t, res.Attempts, 1)
	assert.Equal(t, []byte("render-0"), res.Image)
	assert.Equal(t, models.TopologyTwoPiece, res.Topology.Topology)
	assert.False(t, res.CacheHit)
	assert.False(t, res.Profile.Pose.AllowedChanges)
	assert.Equal(t, int32(100), res.PromptTokens)
}

func TestOrchestratorJudgesIdentityAgainstFaceCrop(t *testing.T) {
	extractor := &extractorStub{}
	generator := &generatorStub{}
	judge := &seqJudge{
		identities: []IdentityVerdict{{Similarity: 90, SamePerson: true}},
		garments:   []GarmentVerdict{{Score: 88, Matches: true}},
	}
	cache := NewIdentityCache()
	o := NewOrchestrator(extractor, generator, judge, cache)

	_, err := o.Run(context.Background(), baseRequest(t))
	assert.NoError(t, err)

	// second run hits the identity cache, the stored crop must still be used
	_, err = o.Run(context.Background(), baseRequest(t))
	assert.NoError(t, err)

	assert.Len(t, judge.identityRefs, 2)
	assert.Equal(t, []byte("face-crop"), judge.identityRefs[0])
	assert.Equal(t, []byte("face-crop"), judge.identityRefs[1])
}

func TestOrchestratorReusesCachedIdentity(t *testing.T) {
	extractor := &extractorStub{}
	generator := &generatorStub{}
	judge := &seqJudge{
		identities: []IdentityVerdict{{Similarity: 90, SamePerson: true}},
		garments:   []GarmentVerdict{{Score: 88, Matches: true}},
	}
	cache := NewIdentityCache()
	o := NewOrchestrator(extractor, generator, judge, cache)

	_, err := o.Run(context.Background(), baseRequest(t))
	assert.NoError(t, err)

	res, err := o.Run(context.Background(), baseRequest(t))
	assert.NoError(t, err)
	assert.True(t, res.CacheHit)
	assert.Equal(t, 1, extractor.factCalls)
	assert.Equal(t, 2, extractor.garmentCalls)
}

func TestOrchestratorFatalIdentityAbortsWithoutRetry(t *testing.T) {
	extractor := &extractorStub{}
	generator := &generatorStub{}
	judge := &seqJudge{
		identities: []IdentityVerdict{{Similarity: 40, SamePerson: false}},
		garments:   []GarmentVerdict{{Score: 90, Matches: true}},
	}
	o := NewOrchestrator(extractor, generator, judge, NewIdentityCache())

	res, err := o.Run(context.Background(), baseRequest(t))

	assert.NoError(t, err)
	assert.Equal(t, StatusAborted, res.Status)
	assert.Contains(t, res.AbortReason, "identity_loss")
	assert.Len(t, res.Attempts, 1)
	assert.Len(t, generator.requests, 1)
	assert.Nil(t, res.Image)
	assert.Contains(t, res.UnresolvedIssues, string(FailureFaceDrift))
}

func TestOrchestratorExhaustsRetriesAndKeepsBestAttempt(t *testing.T) {
	extractor := &extractorStub{}
	generator := &generatorStub{}
	judge := &seqJudge{
		identities: []IdentityVerdict{
			{Similarity: 80, SamePerson: true},
			{Similarity: 85, SamePerson: true},
			{Similarity: 75, SamePerson: true},
		},
		garments: []GarmentVerdict{
			{Score: 40, Matches: false, Failures: []FailureKind{FailureGarmentColor}},
			{Score: 45, Matches: false, Failures: []FailureKind{FailureGarmentColor}},
			{Score: 50, Matches: false, Failures: []FailureKind{FailureGarmentColor}},
		},
	}
	o := NewOrchestrator(extractor, generator, judge, NewIdentityCache())

	res, err := o.Run(context.Background(), baseRequest(t))

	assert.NoError(t, err)
	assert.Equal(t, StatusExhausted, res.Status)
	assert.Len(t, res.Attempts, 3)
	assert.Equal(t, []byte("render-1"), res.Image)
	assert.Contains(t, res.UnresolvedIssues, string(FailureGarmentColor))

	// escalation tightened the second attempt's contract
	assert.Len(t, generator.requests, 3)
	first := generator.requests[0].Profile
	second := generator.requests[1].Profile
	assert.NotContains(t, first.NegativeConstraints, "STRICT: garment color, pattern and cut must match the reference")
	assert.Contains(t, second.NegativeConstraints, "STRICT: garment color, pattern and cut must match the reference")
}

func TestOrchestratorUnknownPresetFails(t *testing.T) {
	o := NewOrchestrator(&extractorStub{}, &generatorStub{}, &seqJudge{
		identities: []IdentityVerdict{{Similarity: 90, SamePerson: true}},
		garments:   []GarmentVerdict{{Score: 90, Matches: true}},
	}, NewIdentityCache())
	req := baseRequest(t)
	req.PresetID = "nonexistent"

	_, err := o.Run(context.Background(), req)

	var verr *ConstraintValidationError
	assert.ErrorAs(t, err, &verr)
}

func TestOrchestratorHonorsCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	generator := &generatorStub{onCall: func(attempt int) { cancel() }}
	o := NewOrchestrator(&extractorStub{}, generator, &seqJudge{
		identities: []IdentityVerdict{{Similarity: 90, SamePerson: true}},
		garments:   []GarmentVerdict{{Score: 90, Matches: true}},
	}, NewIdentityCache())

	res, err := o.Run(ctx, baseRequest(t))

	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, res.Attempts)
}
