package pipeline

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"tryonapi/models"
)

type judgeStub struct {
	identity    IdentityVerdict
	identityErr error
	garment     GarmentVerdict
	garmentErr  error
}

func (j judgeStub) CompareIdentity(ctx context.Context, reference []byte, candidate []byte) (IdentityVerdict, error) {
	return j.identity, j.identityErr
}

func (j judgeStub) CompareGarment(ctx context.Context, reference []byte, candidate []byte, expected models.GarmentClassification) (GarmentVerdict, error) {
	return j.garment, j.garmentErr
}

func twoPieceInput() GuardrailInput {
	return GuardrailInput{
		PersonReference:  []byte("person"),
		GarmentReference: []byte("garment"),
		Candidate:        []byte("candidate"),
		Topology:         models.TopologyResult{Topology: models.TopologyTwoPiece},
		SubjectSource:    models.SubjectReal,
	}
}

func TestGuardrailsAccept(t *testing.T) {
	judge := judgeStub{
		identity: IdentityVerdict{Similarity: 88, SamePerson: true},
		garment:  GarmentVerdict{Score: 85, Matches: true},
	}

	eval, err := EvaluateGuardrails(context.Background(), judge, twoPieceInput(), DefaultThresholds())

	assert.NoError(t, err)
	assert.True(t, eval.Accepted)
	assert.False(t, eval.Fatal)
	assert.Empty(t, eval.Failures)
	assert.Equal(t, 88, eval.IdentityScore)
}

func TestGuardrailsIdentityBelowFloorIsFatal(t *testing.T) {
	judge := judgeStub{
		identity: IdentityVerdict{Similarity: 40, SamePerson: false},
		garment:  GarmentVerdict{Score: 90, Matches: true},
	}

	eval, err := EvaluateGuardrails(context.Background(), judge, twoPieceInput(), DefaultThresholds())

	assert.NoError(t, err)
	assert.False(t, eval.Accepted)
	assert.True(t, eval.Fatal)
	assert.False(t, eval.ShouldRetry)
	assert.Equal(t, 10, eval.Severity)
	assert.Contains(t, eval.Failures, FailureFaceDrift)
	assert.Contains(t, eval.AbortReason, "identity_loss")
}

func TestGuardrailsFaceModifiedIsFatal(t *testing.T) {
	judge := judgeStub{
		identity: IdentityVerdict{Similarity: 82, SamePerson: true, FaceModified: true},
		garment:  GarmentVerdict{Score: 90, Matches: true},
	}

	eval, err := EvaluateGuardrails(context.Background(), judge, twoPieceInput(), DefaultThresholds())

	assert.NoError(t, err)
	assert.True(t, eval.Fatal)
	assert.False(t, eval.ShouldRetry)
}

func TestGuardrailsMarginalIdentityIsRetryable(t *testing.T) {
	judge := judgeStub{
		identity: IdentityVerdict{Similarity: 62, SamePerson: true},
		garment:  GarmentVerdict{Score: 90, Matches: true},
	}

	eval, err := EvaluateGuardrails(context.Background(), judge, twoPieceInput(), DefaultThresholds())

	assert.NoError(t, err)
	assert.False(t, eval.Accepted)
	assert.False(t, eval.Fatal)
	assert.True(t, eval.ShouldRetry)
	assert.Contains(t, eval.Failures, FailureFaceDrift)
}

func TestGuardrailsSyntheticSubjectSkipsIdentity(t *testing.T) {
	judge := judgeStub{
		identity: IdentityVerdict{Similarity: 10, FaceModified: true},
		garment:  GarmentVerdict{Score: 90, Matches: true},
	}
	in := twoPieceInput()
	in.SubjectSource = models.SubjectSynthetic

	eval, err := EvaluateGuardrails(context.Background(), judge, in, DefaultThresholds())

	assert.NoError(t, err)
	assert.True(t, eval.Accepted)
}

func TestGuardrailsGarmentMismatchIsRetryable(t *testing.T) {
	judge := judgeStub{
		identity: IdentityVerdict{Similarity: 90, SamePerson: true},
		garment:  GarmentVerdict{Score: 50, Matches: false, Failures: []FailureKind{FailureGarmentColor, FailureGarmentPattern}},
	}

	eval, err := EvaluateGuardrails(context.Background(), judge, twoPieceInput(), DefaultThresholds())

	assert.NoError(t, err)
	assert.False(t, eval.Accepted)
	assert.False(t, eval.Fatal)
	assert.True(t, eval.ShouldRetry)
	assert.Contains(t, eval.Failures, FailureGarmentColor)
	assert.Contains(t, eval.Failures, FailureGarmentPattern)
}

func TestGuardrailsBoundaryRecheckOnTopOnly(t *testing.T) {
	judge := judgeStub{
		identity: IdentityVerdict{Similarity: 90, SamePerson: true},
		garment:  GarmentVerdict{Score: 90, Matches: true},
	}
	in := twoPieceInput()
	in.Topology = models.TopologyResult{Topology: models.TopologyTopOnly, RequiresPants: true}
	in.HipLine = models.HipLineResult{Fraction: 0.5}
	// candidate bytes do not decode, so the re-check reports a hallucination

	eval, err := EvaluateGuardrails(context.Background(), judge, in, DefaultThresholds())

	assert.NoError(t, err)
	assert.False(t, eval.Accepted)
	assert.True(t, eval.ShouldRetry)
	assert.Contains(t, eval.Failures, FailureTopology)
	assert.NotNil(t, eval.Boundary)
	assert.Equal(t, models.ViolationSilhouetteHallucination, eval.Boundary.Violation)
	assert.Equal(t, 8, eval.Severity)
}

func TestGuardrailsJudgeErrorPropagates(t *testing.T) {
	judge := judgeStub{
		identityErr: errors.New("judge unavailable"),
		garment:     GarmentVerdict{Score: 90, Matches: true},
	}

	_, err := EvaluateGuardrails(context.Background(), judge, twoPieceInput(), DefaultThresholds())

	assert.Error(t, err)
	assert.Contains(t, err.Error(), "identity comparison")
}
