package pipeline

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"tryonapi/models"
)

// IdentityVerdict is the similarity judge's answer on face preservation.
type IdentityVerdict struct {
	Similarity   int  `json:"similarity"` // 0-100
	SamePerson   bool `json:"same_person"`
	FaceModified bool `json:"face_modified"`
}

// GarmentVerdict is the similarity judge's answer on garment fidelity.
type GarmentVerdict struct {
	Score    int           `json:"score"` // 0-100
	Matches  bool          `json:"matches"`
	Failures []FailureKind `json:"failures"`
	Notes    []string      `json:"notes"`
}

// SimilarityJudgeProvider scores a generated image against its references.
type SimilarityJudgeProvider interface {
	CompareIdentity(ctx context.Context, reference []byte, candidate []byte) (IdentityVerdict, error)
	CompareGarment(ctx context.Context, reference []byte, candidate []byte, expected models.GarmentClassification) (GarmentVerdict, error)
}

const (
	identityAbortFloor  = 50
	identityAcceptFloor = 70
	garmentAcceptFloor  = 70
)

// GuardrailEvaluation is the validator's verdict on one generated image.
type GuardrailEvaluation struct {
	Accepted      bool
	Fatal         bool
	AbortReason   string
	Failures      []FailureKind
	IdentityScore int
	GarmentScore  int
	Severity      int
	ShouldRetry   bool
	Boundary      *models.BoundaryCheck
}

// GuardrailInput carries the references and expectations for one evaluation.
type GuardrailInput struct {
	PersonReference  []byte
	GarmentReference []byte
	Candidate        []byte
	Garment          models.GarmentClassification
	Topology         models.TopologyResult
	HipLine          models.HipLineResult
	SubjectSource    models.SubjectSource
}

// EvaluateGuardrails runs identity and garment similarity in parallel, then the
// deterministic boundary re-check on the candidate. Identity below the abort
// floor, or any face modification on a real person, is fatal: such failures can
// never be retried away because the generator has already lost the subject.
func EvaluateGuardrails(ctx context.Context, judge SimilarityJudgeProvider, in GuardrailInput, t ClassifierThresholds) (GuardrailEvaluation, error) {
	var identity IdentityVerdict
	var garment GarmentVerdict

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		v, err := judge.CompareIdentity(gctx, in.PersonReference, in.Candidate)
		if err != nil {
			return fmt.Errorf("identity comparison: %w", err)
		}
		identity = v
		return nil
	})
	g.Go(func() error {
		v, err := judge.CompareGarment(gctx, in.GarmentReference, in.Candidate, in.Garment)
		if err != nil {
			return fmt.Errorf("garment comparison: %w", err)
		}
		garment = v
		return nil
	})
	if err := g.Wait(); err != nil {
		return GuardrailEvaluation{}, err
	}

	eval := GuardrailEvaluation{
		IdentityScore: identity.Similarity,
		GarmentScore:  garment.Score,
	}

	if in.SubjectSource == models.SubjectReal {
		if identity.Similarity < identityAbortFloor || identity.FaceModified || !identity.SamePerson {
			eval.Fatal = true
			eval.ShouldRetry = false
			eval.Severity = 10
			eval.Failures = append(eval.Failures, FailureFaceDrift)
			eval.AbortReason = fmt.Sprintf("identity_loss: similarity %d, face_modified %t", identity.Similarity, identity.FaceModified)
			return eval, nil
		}
		if identity.Similarity < identityAcceptFloor {
			eval.Failures = append(eval.Failures, FailureFaceDrift)
			if eval.Severity < 6 {
				eval.Severity = 6
			}
		}
	}

	if !garment.Matches || garment.Score < garmentAcceptFloor {
		if len(garment.Failures) > 0 {
			eval.Failures = append(eval.Failures, garment.Failures...)
		} else {
			eval.Failures = append(eval.Failures, FailureGarmentType)
		}
		if eval.Severity < 5 {
			eval.Severity = 5
		}
	}

	// boundary re-check only applies where hem placement can go wrong
	if in.Topology.Topology == models.TopologyTopOnly || in.Topology.Topology == models.TopologyDress {
		check := ValidateBoundary(in.Candidate, in.Topology.Topology, in.HipLine.Fraction, t)
		eval.Boundary = &check
		if !check.Valid {
			eval.Failures = append(eval.Failures, FailureTopology)
			if check.Severity > eval.Severity {
				eval.Severity = check.Severity
			}
		}
	}

	if len(eval.Failures) == 0 {
		eval.Accepted = true
		return eval, nil
	}
	eval.ShouldRetry = true
	return eval, nil
}
