package pipeline

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"tryonapi/models"
)

// VisionExtractorProvider pulls structured facts out of the input images.
type VisionExtractorProvider interface {
	ExtractUserFacts(ctx context.Context, personImage []byte) (models.ExtractedUserFacts, []byte, error)
	ClassifyGarment(ctx context.Context, garmentImage []byte) (models.GarmentClassification, error)
}

// GenerationRequest is one composite render call.
type GenerationRequest struct {
	Profile      models.ConstraintProfile
	PersonImage  []byte
	GarmentImage []byte
	Premium      bool
	QualityTier  string
}

// GenerationOutput is the rendered image plus accounting.
type GenerationOutput struct {
	Image            []byte
	ModelName        string
	PromptTokens     int32
	CompletionTokens int32
}

// GenerationProvider renders the composite try-on image.
type GenerationProvider interface {
	GenerateComposite(ctx context.Context, req GenerationRequest) (GenerationOutput, error)
}

// Request is one full try-on job.
type Request struct {
	UserID         uint
	PersonImage    []byte
	GarmentImage   []byte
	PresetID       string
	SubjectSource  models.SubjectSource
	TargetPlatform string
	TargetAudience string
	Mood           string
	VisibilityBias float64
	Premium        bool
	QualityTier    string
	MaxAttempts    int
}

// AttemptRecord is the audit entry for one generation attempt.
type AttemptRecord struct {
	Index      int
	Profile    models.ConstraintProfile
	Evaluation GuardrailEvaluation
	Image      []byte
	ModelName  string
	Tokens     int32
}

const (
	StatusAccepted  = "accepted"
	StatusAborted   = "aborted"
	StatusExhausted = "exhausted_retries"
)

// Result is the orchestrator's final verdict.
type Result struct {
	Status           string
	AbortReason      string
	Image            []byte
	Profile          models.ConstraintProfile
	Attempts         []AttemptRecord
	UnresolvedIssues []string
	CacheHit         bool
	Facts            models.ExtractedUserFacts
	Garment          models.GarmentClassification
	Topology         models.TopologyResult
	HipLine          models.HipLineResult
	PromptTokens     int32
	CompletionTokens int32
}

// Orchestrator drives the generate-validate-escalate loop for try-on jobs.
type Orchestrator struct {
	Extractor  VisionExtractorProvider
	Generator  GenerationProvider
	Judge      SimilarityJudgeProvider
	Cache      *IdentityCache
	Thresholds ClassifierThresholds
}

func NewOrchestrator(extractor VisionExtractorProvider, generator GenerationProvider, judge SimilarityJudgeProvider, cache *IdentityCache) *Orchestrator {
	return &Orchestrator{
		Extractor:  extractor,
		Generator:  generator,
		Judge:      judge,
		Cache:      cache,
		Thresholds: DefaultThresholds(),
	}
}

// Run executes the full pipeline: extraction, deterministic classification,
// then up to MaxAttempts generate/validate cycles with escalating constraints.
// Cancellation is honored at every suspension point; a canceled run returns the
// context error without recording a partial attempt.
func (o *Orchestrator) Run(ctx context.Context, req Request) (Result, error) {
	var res Result

	contentHash := ContentHash(req.PersonImage)
	// the cropped face region is the identity reference for the guardrail; the
	// full person image is only the fallback when extraction yields no crop
	identityReference := req.PersonImage
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		payload, hit, err := o.Cache.GetOrCreate(gctx, req.UserID, contentHash, func(ctx context.Context) (IdentityPayload, error) {
			facts, faceCrop, err := o.Extractor.ExtractUserFacts(ctx, req.PersonImage)
			if err != nil {
				return IdentityPayload{}, err
			}
			return IdentityPayload{Facts: facts, FaceCrop: faceCrop}, nil
		})
		if err != nil {
			return fmt.Errorf("user fact extraction: %w", err)
		}
		res.Facts = payload.Facts
		res.CacheHit = hit
		if len(payload.FaceCrop) > 0 {
			identityReference = payload.FaceCrop
		}
		return nil
	})
	g.Go(func() error {
		garment, err := o.Extractor.ClassifyGarment(gctx, req.GarmentImage)
		if err != nil {
			return fmt.Errorf("garment classification: %w", err)
		}
		res.Garment = garment
		return nil
	})
	if err := g.Wait(); err != nil {
		return Result{}, err
	}

	// deterministic classifiers run after extraction, they are pure pixel math
	res.HipLine = DetectHipLine(req.PersonImage, o.Thresholds)
	res.Topology = ClassifyTopology(req.GarmentImage, res.HipLine.Fraction, o.Thresholds)
	fmt.Printf("[TryOnPipeline: user %v] topology=%s coverage=%.2f hip=%.2f method=%s cacheHit=%t\n",
		req.UserID, res.Topology.Topology, res.Topology.Coverage, res.HipLine.Fraction, res.Topology.Method, res.CacheHit)

	retry := NewRetryContext(req.MaxAttempts)
	subjectSource := req.SubjectSource
	if subjectSource == "" {
		subjectSource = models.SubjectReal
	}

	for {
		if err := ctx.Err(); err != nil {
			return Result{}, err
		}

		profile, err := Compile(CompileInput{
			PresetID:        req.PresetID,
			Facts:           res.Facts,
			Garment:         res.Garment,
			Topology:        res.Topology,
			SubjectSource:   subjectSource,
			TargetPlatform:  req.TargetPlatform,
			TargetAudience:  req.TargetAudience,
			Mood:            req.Mood,
			VisibilityBias:  req.VisibilityBias,
			RequireFallback: true,
			Retry:           retry,
		})
		if err != nil {
			return Result{}, err
		}
		res.Profile = profile

		output, err := o.Generator.GenerateComposite(ctx, GenerationRequest{
			Profile:      profile,
			PersonImage:  req.PersonImage,
			GarmentImage: req.GarmentImage,
			Premium:      req.Premium,
			QualityTier:  req.QualityTier,
		})
		if err != nil {
			return Result{}, fmt.Errorf("generation attempt %d: %w", retry.Attempt, err)
		}
		res.PromptTokens += output.PromptTokens
		res.CompletionTokens += output.CompletionTokens

		if err := ctx.Err(); err != nil {
			return Result{}, err
		}

		eval, err := EvaluateGuardrails(ctx, o.Judge, GuardrailInput{
			PersonReference:  identityReference,
			GarmentReference: req.GarmentImage,
			Candidate:        output.Image,
			Garment:          res.Garment,
			Topology:         res.Topology,
			HipLine:          res.HipLine,
			SubjectSource:    subjectSource,
		}, o.Thresholds)
		if err != nil {
			return Result{}, fmt.Errorf("guardrail evaluation attempt %d: %w", retry.Attempt, err)
		}

		res.Attempts = append(res.Attempts, AttemptRecord{
			Index:      retry.Attempt,
			Profile:    profile,
			Evaluation: eval,
			Image:      output.Image,
			ModelName:  output.ModelName,
			Tokens:     output.PromptTokens + output.CompletionTokens,
		})

		if eval.Accepted {
			res.Status = StatusAccepted
			res.Image = output.Image
			fmt.Printf("[TryOnPipeline: user %v] accepted on attempt %d identity=%d garment=%d\n",
				req.UserID, retry.Attempt, eval.IdentityScore, eval.GarmentScore)
			return res, nil
		}
		if eval.Fatal {
			res.Status = StatusAborted
			res.AbortReason = eval.AbortReason
			res.UnresolvedIssues = failureStrings(eval.Failures)
			fmt.Printf("[TryOnPipeline: user %v] fatal abort on attempt %d: %s\n", req.UserID, retry.Attempt, eval.AbortReason)
			return res, nil
		}
		if retry.Exhausted() {
			best := bestAttempt(res.Attempts)
			res.Status = StatusExhausted
			res.Image = best.Image
			res.Profile = best.Profile
			res.UnresolvedIssues = failureStrings(best.Evaluation.Failures)
			fmt.Printf("[TryOnPipeline: user %v] retries exhausted after %d attempts, best attempt %d\n",
				req.UserID, len(res.Attempts), best.Index)
			return res, nil
		}

		fmt.Printf("[TryOnPipeline: user %v] attempt %d rejected (%v), escalating\n", req.UserID, retry.Attempt, eval.Failures)
		retry = retry.Escalate(eval.Failures)
	}
}

// bestAttempt picks the least-bad rejected attempt: highest identity score,
// then lowest severity.
func bestAttempt(attempts []AttemptRecord) AttemptRecord {
	best := attempts[0]
	for _, a := range attempts[1:] {
		if a.Evaluation.IdentityScore > best.Evaluation.IdentityScore {
			best = a
			continue
		}
		if a.Evaluation.IdentityScore == best.Evaluation.IdentityScore && a.Evaluation.Severity < best.Evaluation.Severity {
			best = a
		}
	}
	return best
}

func failureStrings(failures []FailureKind) []string {
	out := make([]string, 0, len(failures))
	for _, f := range failures {
		out = append(out, string(f))
	}
	return out
}
