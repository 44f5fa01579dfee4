package tasks

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"tryonapi/models"
	"tryonapi/pipeline"
	"tryonapi/services"
	"tryonapi/telegram"

	firebase "firebase.google.com/go/v4"
	"github.com/getsentry/sentry-go"
	"github.com/hibiken/asynq"
	"gorm.io/gorm"
)

const (
	TypeTryOnGeneration     = "generate:tryon"
	TypeGarmentClassify     = "generate:classify_garment"
	generationTimeout       = 8 * time.Minute
	classificationTimeout   = 2 * time.Minute
	maxGenerationRetryTimes = 3
	maxClassifyRetryTimes   = 3
)

type TryOnGenerationPayload struct {
	UserID  uint
	TryOnID uint
}

type GarmentClassifyPayload struct {
	GarmentID uint
}

func NewTryOnGenerationTask(userID uint, tryOnID uint) (*asynq.Task, error) {
	payload, err := json.Marshal(TryOnGenerationPayload{UserID: userID, TryOnID: tryOnID})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TypeTryOnGeneration, payload), nil
}

func NewGarmentClassifyTask(garmentID uint) (*asynq.Task, error) {
	payload, err := json.Marshal(GarmentClassifyPayload{GarmentID: garmentID})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TypeGarmentClassify, payload), nil
}

func getImageBytes(ctx context.Context, awsService services.AWSServiceProvider, bucketName string, fileKey string) ([]byte, error) {
	url, err := awsService.GetPresignedR2FileReadURL(ctx, bucketName, fileKey)
	if err != nil {
		return nil, fmt.Errorf("failed to presign read for %s: %v", fileKey, err)
	}
	data, err := services.ReadFileFromUrl(url)
	if err != nil {
		return nil, fmt.Errorf("failed to download %s: %v", fileKey, err)
	}
	return data, nil
}

func saveTryOnFail(db *gorm.DB, tryOn models.TryOnGeneration, msg string, shouldRetry bool) error {
	tryOn.GenerationRetryTimes = tryOn.GenerationRetryTimes + 1
	tryOn.GenerationErrorMessage = &msg
	if !shouldRetry || tryOn.GenerationRetryTimes >= maxGenerationRetryTimes {

		tryOn.Status = models.TryOnStatusFailed
	}
	tx := db.Omit("alert_when_processed").Save(&tryOn)
	if tx.Error != nil {
		sentry.CaptureException(fmt.Errorf("[Fail TryOn %v] Error on saving try-on for failed status", tryOn.ID))
		return tx.Error
	}
	return nil
}

// HandleTryOnGenerationTask runs the full generate-validate-escalate pipeline
// for one queued try-on and persists the outcome with its attempt audit trail.
func HandleTryOnGenerationTask(
	ctx context.Context,
	t *asynq.Task,
	db *gorm.DB,
	orchestrator *pipeline.Orchestrator,
	awsService services.AWSServiceProvider,
	fbApp *firebase.App,
) error {
	if os.Getenv("GOOGLE_API_KEY") == "" {
		sentry.CaptureException(fmt.Errorf("[Queue] GOOGLE_API_KEY is not set, cannot process try-on"))
		return fmt.Errorf("GOOGLE_API_KEY is not set")
	}
	var payload TryOnGenerationPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		sentry.CaptureException(err)
		return fmt.Errorf("failed to unmarshal try-on payload: %v", err)
	}
	fmt.Printf("[TryOn %v: user %v] Picked up generation task\n", payload.TryOnID, payload.UserID)

	var tryOn models.TryOnGeneration
	result := db.Preload("UserAccount").Where("id = ?", payload.TryOnID).Take(&tryOn)
	if result.Error != nil {
		sentry.CaptureException(fmt.Errorf("[TryOn %v] Not found for generation: %v", payload.TryOnID, result.Error))
		return result.Error
	}
	if tryOn.Status == models.TryOnStatusAccepted {
		fmt.Printf("[TryOn %v] Already accepted, skipping\n", tryOn.ID)
		return nil
	}
	user := tryOn.UserAccount

	tryOn.Status = models.TryOnStatusGenerating
	if err := db.Omit("alert_when_processed").Save(&tryOn).Error; err != nil {
		sentry.CaptureException(err)
		return err
	}

	bucketName := services.GetEnv("R2_BUCKET_NAME", "")
	personImage, err := getImageBytes(ctx, awsService, bucketName, tryOn.PersonImageKey)
	if err != nil {
		sentry.CaptureException(fmt.Errorf("[TryOn %v] %v", tryOn.ID, err))
		saveTryOnFail(db, tryOn, "Could not read your avatar image, please upload it again", true)
		return err
	}
	garmentImage, err := getImageBytes(ctx, awsService, bucketName, tryOn.GarmentImageKey)
	if err != nil {
		sentry.CaptureException(fmt.Errorf("[TryOn %v] %v", tryOn.ID, err))
		saveTryOnFail(db, tryOn, "Could not read the garment image, please upload it again", true)
		return err
	}

	subjectSource := models.SubjectReal
	if tryOn.SubjectSource != nil && *tryOn.SubjectSource == string(models.SubjectSynthetic) {
		subjectSource = models.SubjectSynthetic
	}
	visibilityBias := 0.7
	if tryOn.VisibilityBias != nil {
		visibilityBias = *tryOn.VisibilityBias
	}
	targetPlatform := ""
	if tryOn.TargetPlatform != nil {
		targetPlatform = *tryOn.TargetPlatform
	}
	targetAudience := ""
	if tryOn.TargetAudience != nil {
		targetAudience = *tryOn.TargetAudience
	}
	mood := ""
	if tryOn.Mood != nil {
		mood = *tryOn.Mood
	}
	qualityTier := "standard"
	if tryOn.QualityTier != nil {
		qualityTier = *tryOn.QualityTier
	}
	premium := user.Subscription.Premium()
	if user.EnforcedModelTier != nil {
		// account-level pin wins over both subscription and request tier
		if *user.EnforcedModelTier >= 2 {
			qualityTier = "high"
			premium = true
		} else {
			qualityTier = "standard"
			premium = false
		}
	}

	req := pipeline.Request{
		UserID:         user.ID,
		PersonImage:    personImage,
		GarmentImage:   garmentImage,
		PresetID:       tryOn.Preset,
		SubjectSource:  subjectSource,
		TargetPlatform: targetPlatform,
		TargetAudience: targetAudience,
		Mood:           mood,
		VisibilityBias: visibilityBias,
		Premium:        premium,
		QualityTier:    qualityTier,
	}

	runCtx, cancel := context.WithTimeout(ctx, generationTimeout)
	defer cancel()
	started := time.Now()
	runResult, err := orchestrator.Run(runCtx, req)
	duration := time.Since(started).Seconds()
	if err != nil {
		var constraintErr *pipeline.ConstraintValidationError
		if errors.As(err, &constraintErr) {
			// Invalid or unbuildable constraints never recover on retry.
			sentry.CaptureException(fmt.Errorf("[TryOn %v] Constraint validation failed: %v", tryOn.ID, err))
			saveTryOnFail(db, tryOn, constraintErr.Reason, false)
			return nil
		}
		var genErr *services.GenerationError
		if errors.As(err, &genErr) {
			sentry.CaptureException(fmt.Errorf("[TryOn %v] Generation refused: %v", tryOn.ID, err))
			saveTryOnFail(db, tryOn, "The image could not be generated for this input, please try different photos", false)
			return nil
		}
		sentry.CaptureException(fmt.Errorf("[TryOn %v] Pipeline error: %v", tryOn.ID, err))
		saveTryOnFail(db, tryOn, "Generation failed, we will retry shortly", true)
		return err
	}

	// Persist the attempt audit trail before touching the parent row.
	for _, attempt := range runResult.Attempts {
		profileJSON, _ := json.Marshal(attempt.Profile)
		failureKinds := make([]string, 0, len(attempt.Evaluation.Failures))
		for _, kind := range attempt.Evaluation.Failures {
			failureKinds = append(failureKinds, string(kind))
		}
		attemptRow := models.GenerationAttempt{
			TryOnGenerationID: tryOn.ID,
			AttemptIndex:      attempt.Index,
			ProfileJSON:       string(profileJSON),
			Accepted:          attempt.Evaluation.Accepted,
			FailureKinds:      failureKinds,
			IdentityScore:     services.Float64Pointer(float64(attempt.Evaluation.IdentityScore)),
			GarmentScore:      services.Float64Pointer(float64(attempt.Evaluation.GarmentScore)),
			Severity:          attempt.Evaluation.Severity,
			ShouldRetry:       attempt.Evaluation.ShouldRetry,
		}
		if err := db.Create(&attemptRow).Error; err != nil {
			sentry.CaptureException(fmt.Errorf("[TryOn %v] Failed to save attempt %v: %v", tryOn.ID, attempt.Index, err))
		}
	}

	if len(runResult.Image) > 0 {
		resultKey := fmt.Sprintf("results/%v/%v-%v.png", user.ID, tryOn.ID, time.Now().Unix())
		uploadUrl, presignErr := awsService.PresignLink(ctx, bucketName, resultKey)
		if presignErr != nil {
			sentry.CaptureException(fmt.Errorf("[TryOn %v] Failed to presign result upload: %v", tryOn.ID, presignErr))
			saveTryOnFail(db, tryOn, "Could not store the generated image, we will retry shortly", true)
			return presignErr
		}
		_, statusCode, uploadErr := awsService.UploadToPresignedURL(ctx, bucketName, uploadUrl, runResult.Image)
		if uploadErr != nil || statusCode >= 300 {
			sentry.CaptureException(fmt.Errorf("[TryOn %v] Failed to upload result, status %v: %v", tryOn.ID, statusCode, uploadErr))
			saveTryOnFail(db, tryOn, "Could not store the generated image, we will retry shortly", true)
			return fmt.Errorf("result upload failed with status %v", statusCode)
		}
		tryOn.ResultImageKey = &resultKey
	}

	finalProfileJSON, _ := json.Marshal(runResult.Profile)
	tryOn.Status = runResult.Status
	tryOn.AttemptsUsed = len(runResult.Attempts)
	tryOn.UnresolvedIssues = runResult.UnresolvedIssues
	tryOn.FinalProfileJSON = services.StrPointer(string(finalProfileJSON))
	tryOn.Duration = services.Float64Pointer(duration)
	tryOn.LLMInputTokenCount = services.Int32Pointer(runResult.PromptTokens)
	tryOn.LLMOutputTokenCount = services.Int32Pointer(runResult.CompletionTokens)
	tryOn.LLMTotalTokenCount = services.Int32Pointer(runResult.PromptTokens + runResult.CompletionTokens)
	if len(runResult.Attempts) > 0 {
		tryOn.LLMModel = services.StrPointer(runResult.Attempts[len(runResult.Attempts)-1].ModelName)
	}
	if runResult.Status == models.TryOnStatusAborted {
		tryOn.AbortReason = services.StrPointer(runResult.AbortReason)
	}

	if err := db.Omit("alert_when_processed").Save(&tryOn).Error; err != nil {
		sentry.CaptureException(fmt.Errorf("[TryOn %v] Failed to save generation outcome: %v", tryOn.ID, err))
		return err
	}
	fmt.Printf("[TryOn %v: user %v] Finished with status %s after %v attempts in %.1fs\n",
		tryOn.ID, user.ID, tryOn.Status, tryOn.AttemptsUsed, duration)

	if runResult.Status == models.TryOnStatusAborted {
		telegram.NotifyAdmins(fmt.Sprintf(
			"Try-on %v aborted for user %v: %s", tryOn.ID, user.ID, runResult.AbortReason,
		))
	}

	if tryOn.AlertWhenProcessed {
		title := "Your try-on is ready!"
		message := "Open the app to see your new look."
		if runResult.Status != models.TryOnStatusAccepted {
			title = "Your try-on needs another photo"
			message = "We could not generate a faithful result, please try a different photo."
		}
		services.SendNotification(fbApp, db, user.ID, title, message, map[string]string{
			"try_on_id": fmt.Sprintf("%d", tryOn.ID),
			"type":      "try_on_processed",
			"status":    tryOn.Status,
		})
	}

	return nil
}

// ScheduledStaleSweepTask fails try-ons stuck in generating, usually after a
// worker crash mid-pipeline, and pings the owner so they can retry.
func ScheduledStaleSweepTask(ctx context.Context, t *asynq.Task, db *gorm.DB, fbApp *firebase.App) error {

	fmt.Printf("[Stale Sweep] Looking for stuck generations\n")

	cutoff := time.Now().Add(-1 * time.Hour)
	var stuck []models.TryOnGeneration
	result := db.Where("status = ? AND updated_at < ?", models.TryOnStatusGenerating, cutoff).Find(&stuck)
	if result.Error != nil {
		sentry.CaptureException(fmt.Errorf("[Stale Sweep] Error fetching stuck try-ons: %v", result.Error))
		return result.Error
	}

	fmt.Printf("[Stale Sweep] Found %d stuck try-ons\n", len(stuck))
	for _, tryOn := range stuck {
		tryOn.Status = models.TryOnStatusFailed
		tryOn.GenerationErrorMessage = services.StrPointer("Generation timed out, please try again")
		if err := db.Omit("alert_when_processed").Save(&tryOn).Error; err != nil {
			sentry.CaptureException(fmt.Errorf("[Stale Sweep] Failed to fail try-on %v: %v", tryOn.ID, err))
			continue
		}
		fmt.Printf("[Stale Sweep] Failed stuck try-on %v of user %v\n", tryOn.ID, tryOn.UserAccountID)
		if tryOn.AlertWhenProcessed {
			services.SendNotification(fbApp, db, tryOn.UserAccountID,
				"Your try-on needs a retry",
				"Generation took too long, please start it again.",
				map[string]string{"try_on_id": fmt.Sprintf("%d", tryOn.ID), "type": "try_on_stale"})
		}
		time.Sleep(1 * time.Second) // To avoid hitting rate limits
	}

	return nil
}

func saveGarmentClassifyFail(db *gorm.DB, garment models.Garment, msg string, shouldRetry bool) error {
	garment.ProcessRetryTimes = garment.ProcessRetryTimes + 1
	garment.ProcessErrorMessage = &msg
	if !shouldRetry || garment.ProcessRetryTimes >= maxClassifyRetryTimes {

		garment.ProcessingStatus = "failed"
	}
	tx := db.Save(&garment)
	if tx.Error != nil {
		sentry.CaptureException(fmt.Errorf("[Fail Garment %v] Error on saving garment for failed status", garment.ID))
		return tx.Error
	}
	return nil
}

// HandleGarmentClassifyTask runs the vision classifier over a stored garment
// image and persists category, hemline and pattern colors on the row.
func HandleGarmentClassifyTask(
	ctx context.Context,
	t *asynq.Task,
	db *gorm.DB,
	extractor pipeline.VisionExtractorProvider,
	awsService services.AWSServiceProvider,
) error {
	if os.Getenv("GOOGLE_API_KEY") == "" {
		sentry.CaptureException(fmt.Errorf("[Queue] GOOGLE_API_KEY is not set, cannot classify garment"))
		return fmt.Errorf("GOOGLE_API_KEY is not set")
	}
	var payload GarmentClassifyPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		sentry.CaptureException(err)
		return fmt.Errorf("failed to unmarshal garment payload: %v", err)
	}
	fmt.Printf("[Garment %v] Picked up classification task\n", payload.GarmentID)

	var garment models.Garment
	result := db.Where("id = ?", payload.GarmentID).Take(&garment)
	if result.Error != nil {
		sentry.CaptureException(fmt.Errorf("[Garment %v] Not found for classification: %v", payload.GarmentID, result.Error))
		return result.Error
	}
	if garment.ImageKey == nil || *garment.ImageKey == "" {
		saveGarmentClassifyFail(db, garment, "Garment image was not uploaded", false)
		return nil
	}

	garment.ProcessingStatus = "classifying"
	if err := db.Save(&garment).Error; err != nil {
		sentry.CaptureException(err)
		return err
	}

	bucketName := services.GetEnv("R2_BUCKET_NAME", "")
	garmentImage, err := getImageBytes(ctx, awsService, bucketName, *garment.ImageKey)
	if err != nil {
		sentry.CaptureException(fmt.Errorf("[Garment %v] %v", garment.ID, err))
		saveGarmentClassifyFail(db, garment, "Could not read the garment image", true)
		return err
	}

	classifyCtx, cancel := context.WithTimeout(ctx, classificationTimeout)
	defer cancel()
	classification, err := extractor.ClassifyGarment(classifyCtx, garmentImage)
	if err != nil {
		sentry.CaptureException(fmt.Errorf("[Garment %v] Classification failed: %v", garment.ID, err))
		saveGarmentClassifyFail(db, garment, "Classification failed, we will retry shortly", true)
		return err
	}

	classificationJSON, _ := json.Marshal(classification)
	garment.ClassificationJSON = services.StrPointer(string(classificationJSON))
	garment.Category = services.StrPointer(string(classification.Category))
	garment.Hemline = services.StrPointer(string(classification.Hemline))
	garment.PatternColors = classification.Pattern.Colors
	garment.ProcessingStatus = "completed"
	garment.ImageStatus = "uploaded"
	if err := db.Save(&garment).Error; err != nil {
		sentry.CaptureException(fmt.Errorf("[Garment %v] Failed to save classification: %v", garment.ID, err))
		return err
	}
	fmt.Printf("[Garment %v] Classified as %s (%s), confidence %v\n",
		garment.ID, classification.Category, classification.Hemline, classification.Confidence)
	return nil
}
