package models

import "github.com/lib/pq"

// Terminal statuses of a try-on generation request.
const (
	TryOnStatusPending          = "pending"
	TryOnStatusGenerating       = "generating"
	TryOnStatusAccepted         = "accepted"
	TryOnStatusAborted          = "aborted"
	TryOnStatusExhaustedRetries = "exhausted_retries"
	TryOnStatusFailed           = "failed"
)

type TryOnGeneration struct {
	JsonModel
	UserAccountID uint        `json:"-"`
	UserAccount   UserAccount `json:"user_account"`

	GarmentID *uint    `json:"garment_id"`
	Garment   *Garment `json:"garment"`

	// person identity reference at the point of generation
	PersonImageKey  string `json:"person_image_key"`
	GarmentImageKey string `json:"garment_image_key"`

	Preset string `json:"preset"`
	// optional caller constraints
	TargetPlatform *string  `json:"target_platform"`
	Mood           *string  `json:"mood"`
	TargetAudience *string  `json:"target_audience"`
	SubjectSource  *string  `json:"subject_source"` // real_person, synthetic
	VisibilityBias *float64 `json:"visibility_bias"`
	QualityTier    *string  `json:"quality_tier"` // standard, high

	Status      string  `json:"status"`
	AbortReason *string `json:"abort_reason"`
	// open issues left after exhausting retries
	UnresolvedIssues pq.StringArray `gorm:"type:text[]" json:"unresolved_issues"`

	ResultImageKey   *string `json:"result_image_key"`
	FinalProfileJSON *string `gorm:"type:text" json:"-"`
	AttemptsUsed     int     `json:"attempts_used"`

	Attempts []GenerationAttempt `gorm:"foreignKey:TryOnGenerationID" json:"attempts"`

	Duration               *float64 `json:"duration"` // seconds
	LLMModel               *string  `json:"llm_model"`
	LLMInputTokenCount     *int32   `json:"llm_input_token_count"`
	LLMOutputTokenCount    *int32   `json:"llm_output_token_count"`
	LLMTotalTokenCount     *int32   `json:"llm_total_token_count"`
	GenerationRetryTimes   int      `json:"generation_retry_times"`
	GenerationErrorMessage *string  `json:"generation_error_message"`
	AlertWhenProcessed     bool     `json:"alert_when_processed"`
}

// GenerationAttempt is one generate+validate round. Immutable once recorded;
// the ordered rows per try-on are the audit trail returned to the caller.
type GenerationAttempt struct {
	JsonModel
	TryOnGenerationID uint `json:"-"`
	AttemptIndex      int  `json:"attempt_index"` // 0-based

	ProfileJSON    string  `gorm:"type:text" json:"profile_json"`
	OutputImageKey *string `json:"output_image_key"`

	Accepted      bool           `json:"accepted"`
	FailureKinds  pq.StringArray `gorm:"type:text[]" json:"failure_kinds"`
	IdentityScore *float64       `json:"identity_score"`
	GarmentScore  *float64       `json:"garment_score"`
	Severity      int            `json:"severity"`
	ShouldRetry   bool           `json:"should_retry"`
}
