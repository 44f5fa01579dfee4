package pipeline

import "tryonapi/models"

// FailureKind classifies one guardrail finding from a generated image.
type FailureKind string

const (
	FailureGarmentType    FailureKind = "garment_type"
	FailureGarmentLength  FailureKind = "garment_length"
	FailureGarmentPattern FailureKind = "garment_pattern"
	FailureGarmentColor   FailureKind = "garment_color"
	FailurePose           FailureKind = "pose"
	FailureScene          FailureKind = "scene"
	FailureLighting       FailureKind = "lighting"
	FailureFaceDrift      FailureKind = "face_drift"
	FailureTopology       FailureKind = "topology"
)

// ConstraintMultipliers weight how hard the compiler pushes each constraint
// family. All start at 1.0 and only ever grow across retries.
type ConstraintMultipliers struct {
	Face     float64
	Body     float64
	Garment  float64
	Pose     float64
	Scene    float64
	Topology float64
}

func baseMultipliers() ConstraintMultipliers {
	return ConstraintMultipliers{Face: 1.0, Body: 1.0, Garment: 1.0, Pose: 1.0, Scene: 1.0, Topology: 1.0}
}

const (
	escalationFactor         = 1.5
	topologyEscalationFactor = 2.0
	DefaultMaxAttempts       = 3
)

// RetryContext carries escalation state between generation attempts. Values are
// immutable; Escalate returns a new context and never mutates the receiver.
type RetryContext struct {
	Attempt             int
	MaxAttempts         int
	Multipliers         ConstraintMultipliers
	Enforcement         models.EnforcementLevel
	TemperatureDelta    float32
	InheritLightingOnly bool
	DisableCreative     bool
	PriorFailures       []FailureKind
}

// NewRetryContext builds the attempt-zero context.
func NewRetryContext(maxAttempts int) RetryContext {
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	return RetryContext{
		Attempt:     0,
		MaxAttempts: maxAttempts,
		Multipliers: baseMultipliers(),
		Enforcement: models.EnforcementNormal,
	}
}

// Exhausted reports whether another attempt is still allowed.
func (r RetryContext) Exhausted() bool {
	return r.Attempt >= r.MaxAttempts-1
}

// Escalate folds a failed attempt's findings into a stronger context for the
// next attempt. Each failure kind boosts its constraint family; topology
// failures escalate hardest and also bump the enforcement ladder.
func (r RetryContext) Escalate(failures []FailureKind) RetryContext {
	next := r
	next.Attempt = r.Attempt + 1
	if next.Attempt > r.MaxAttempts {
		next.Attempt = r.MaxAttempts
	}
	next.PriorFailures = append(append([]FailureKind{}, r.PriorFailures...), failures...)

	m := r.Multipliers
	for _, f := range failures {
		switch f {
		case FailureGarmentType, FailureGarmentLength, FailureGarmentPattern, FailureGarmentColor:
			m.Garment *= escalationFactor
		case FailurePose:
			m.Pose *= escalationFactor
		case FailureScene:
			m.Scene *= escalationFactor
			next.InheritLightingOnly = true
		case FailureLighting:
			m.Scene *= escalationFactor
			next.InheritLightingOnly = true
		case FailureFaceDrift:
			m.Face *= escalationFactor
			m.Body *= escalationFactor
			next.TemperatureDelta -= 0.15
			next.DisableCreative = true
		case FailureTopology:
			m.Topology *= topologyEscalationFactor
			m.Garment *= escalationFactor
			next.TemperatureDelta -= 0.1
			if next.Enforcement < models.EnforcementAbsolute {
				next.Enforcement++
			}
		}
	}
	next.Multipliers = m
	return next
}

// HadFailure reports whether kind appeared in any prior attempt.
func (r RetryContext) HadFailure(kind FailureKind) bool {
	for _, f := range r.PriorFailures {
		if f == kind {
			return true
		}
	}
	return false
}
