package controllers

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"tryonapi/models"
	"tryonapi/services"
	"tryonapi/tasks"

	firebase "firebase.google.com/go/v4"
	"github.com/getsentry/sentry-go"
	"github.com/hibiken/asynq"
	"github.com/labstack/echo/v4"
	"gorm.io/gorm"
)

const freePlanTotalTryOnLimit = 3

// Request structs for validation
type CreateTryOnIn struct {
	GarmentID       *uint   `json:"garment_id"`
	GarmentFileName *string `json:"garment_file_name" validate:"omitempty,max=200"`

	Preset         string   `json:"preset" validate:"required,preset"`
	TargetPlatform *string  `json:"target_platform" validate:"omitempty,oneof=instagram myntra amazon website"`
	TargetAudience *string  `json:"target_audience" validate:"omitempty,max=100"`
	Mood           *string  `json:"mood" validate:"omitempty,max=100"`
	VisibilityBias *float64 `json:"visibility_bias" validate:"omitempty,gte=0,lte=1"`
	QualityTier    *string  `json:"quality_tier" validate:"omitempty,oneof=standard high"`
	SubjectSource  *string  `json:"subject_source" validate:"omitempty,oneof=real_person synthetic"`

	AlertWhenProcessed *bool `json:"alert_when_processed"`
}

// Response structs
type AttemptResponse struct {
	AttemptIndex  int      `json:"attempt_index"`
	Accepted      bool     `json:"accepted"`
	FailureKinds  []string `json:"failure_kinds"`
	IdentityScore *float64 `json:"identity_score"`
	GarmentScore  *float64 `json:"garment_score"`
	Severity      int      `json:"severity"`
}

type TryOnResponse struct {
	ID               uint              `json:"id"`
	Status           string            `json:"status"`
	Preset           string            `json:"preset"`
	AbortReason      *string           `json:"abort_reason,omitempty"`
	UnresolvedIssues []string          `json:"unresolved_issues"`
	ResultImageUri   *string           `json:"result_image_uri,omitempty"`
	AttemptsUsed     int               `json:"attempts_used"`
	Attempts         []AttemptResponse `json:"attempts,omitempty"`
	CreatedAt        string            `json:"created_at"`
	UpdatedAt        string            `json:"updated_at"`
}

type TryOnCreatedResponse struct {
	TryOnID uint   `json:"try_on_id"`
	Status  string `json:"status"`
}

type TryOnListResponse struct {
	TryOns []TryOnResponse `json:"try_ons"`
}

type TryOnController struct {
	AWSService  services.AWSServiceProvider
	FirebaseApp *firebase.App
	URLCache    services.URLCacheServiceProvider
}

func (controller *TryOnController) TryOnRoutes(g *echo.Group) {
	g.POST("/upload_url", controller.CreateUploadUrl)
	g.POST("/create", controller.CreateTryOn)
	g.GET("/list", controller.ListTryOns)
	g.GET("/:tryOnId", controller.GetTryOn)
}

// CreateUploadUrl presigns a direct R2 upload for a person or garment image.
// The person role also pins the key as the user's identity reference.
func (controller *TryOnController) CreateUploadUrl(c echo.Context) error {
	var req models.UploadUrlRequestIn
	if err := c.Bind(&req); err != nil {
		fmt.Println(err)
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid request body"})
	}
	if err := c.Validate(req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": err.Error()})
	}
	user, ok := c.Get("currentUser").(models.UserAccount)
	if !ok {
		return c.JSON(http.StatusUnauthorized, map[string]string{"error": "Unauthorized"})
	}
	db, ok := c.Get("__db").(*gorm.DB)
	if !ok {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "Database connection error"})
	}
	if !services.IsAllowedImageName(req.FileName) {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Only image files are supported"})
	}

	var fileKey string
	if req.Role == "person" {
		fileKey = fmt.Sprintf("person/%v/%s", user.ID, req.FileName)
	} else {
		fileKey = fmt.Sprintf("garments/%v/%s", user.ID, req.FileName)
	}
	bucketName := services.GetEnv("R2_BUCKET_NAME", "")
	uploadUrl, presignErr := controller.AWSService.PresignLink(context.Background(), bucketName, fileKey)
	if presignErr != nil {
		log.Printf("Unable to presign upload for %s!, %s", fileKey, presignErr)
		sentry.CaptureException(presignErr)
		return c.JSON(http.StatusInternalServerError, echo.Map{
			"message": "Error while preparing upload, please try again",
		})
	}

	if req.Role == "person" {
		user.PersonImageKey = &fileKey
		user.FullBodyAvatarSet = true
		if err := db.Save(&user).Error; err != nil {
			sentry.CaptureException(err)
			return c.JSON(http.StatusInternalServerError, map[string]string{"error": "Failed to save identity reference"})
		}
	}

	return c.JSON(http.StatusCreated, models.UploadUrlRequestOut{
		FileKey:   fileKey,
		UploadUrl: uploadUrl,
	})
}

func (controller *TryOnController) CreateTryOn(c echo.Context) error {
	var req CreateTryOnIn
	if err := c.Bind(&req); err != nil {
		fmt.Println(err)
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid request body"})
	}

	// Validate request
	if err := c.Validate(req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": err.Error()})
	}

	// Get user and db from context
	user, ok := c.Get("currentUser").(models.UserAccount)
	if !ok {
		return c.JSON(http.StatusUnauthorized, map[string]string{"error": "Unauthorized"})
	}
	db, ok := c.Get("__db").(*gorm.DB)
	if !ok {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "Database connection error"})
	}
	if user.PersonImageKey == nil || *user.PersonImageKey == "" {
		return c.JSON(http.StatusForbidden, map[string]string{"error": "You have to set your avatar first before generating try-on"})
	}
	asynqClient, ok := c.Get("__asynqclient").(*asynq.Client)
	if !ok {
		return c.JSON(http.StatusInternalServerError, map[string]string{"message": "Service is not available, please try again a bit later"})
	}

	if string(user.Subscription) == "free" {
		var totalTryOnCount int64
		if err := db.Model(&models.TryOnGeneration{}).Where("user_account_id = ?", user.ID).Count(&totalTryOnCount).Error; err != nil {
			return c.JSON(http.StatusInternalServerError, map[string]string{"error": "Failed to get try-on data"})
		}
		fmt.Printf("[User %v] Free plan, try-on count: %v", user.ID, totalTryOnCount)
		if totalTryOnCount >= freePlanTotalTryOnLimit {
			return c.JSON(http.StatusForbidden, map[string]string{"error": fmt.Sprintf("You have reached the free limit of total %v generations, please subscribe", freePlanTotalTryOnLimit)})
		}
	}

	if user.EnforcedDailyTryOnLimit != nil {
		// get daily try-on count of user
		var dailyTryOnCount int64
		today := time.Now().UTC().Format("2006-01-02")
		if err := db.Model(&models.TryOnGeneration{}).Where("user_account_id = ? AND DATE(created_at) = ?", user.ID, today).Count(&dailyTryOnCount).Error; err != nil {
			return c.JSON(http.StatusInternalServerError, map[string]string{"error": "Failed to get try-on data"})
		}
		fmt.Printf("[User %v] Enforced daily limit, try-on count: %v", user.ID, dailyTryOnCount)
		if dailyTryOnCount >= int64(*user.EnforcedDailyTryOnLimit) {
			return c.JSON(http.StatusForbidden, map[string]string{"error": fmt.Sprintf("You have reached the limit of %v daily generations. Please wait for the next day.", *user.EnforcedDailyTryOnLimit)})
		}
	}

	var garmentImageKey string
	var garmentID *uint
	if req.GarmentID != nil {
		var garment models.Garment
		result := db.Where("id = ? AND owner_id = ?", *req.GarmentID, user.ID).Take(&garment)
		if result.Error != nil {
			return c.JSON(http.StatusNotFound, map[string]string{"error": "Garment not found"})
		}
		if garment.ImageKey == nil || *garment.ImageKey == "" {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "Garment image was not uploaded yet"})
		}
		garmentImageKey = *garment.ImageKey
		garmentID = &garment.ID
	} else {
		if req.GarmentFileName == nil || *req.GarmentFileName == "" {
			sentry.CaptureException(fmt.Errorf("No garment provided for try-on, user %v", user.ID))
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "Sorry, it seems garment image was not provided, please try again"})
		}
		garmentImageKey = fmt.Sprintf("garments/%v/%s", user.ID, *req.GarmentFileName)
	}

	try_on_generation := models.TryOnGeneration{
		UserAccountID:   user.ID,
		GarmentID:       garmentID,
		PersonImageKey:  *user.PersonImageKey,
		GarmentImageKey: garmentImageKey,
		Preset:          req.Preset,
		TargetPlatform:  req.TargetPlatform,
		TargetAudience:  req.TargetAudience,
		Mood:            req.Mood,
		VisibilityBias:  req.VisibilityBias,
		QualityTier:     req.QualityTier,
		Status:          models.TryOnStatusPending,
	}
	if req.SubjectSource != nil {
		try_on_generation.SubjectSource = req.SubjectSource
	}
	if req.AlertWhenProcessed != nil {
		try_on_generation.AlertWhenProcessed = *req.AlertWhenProcessed
	}

	// Save to database
	if err := db.Create(&try_on_generation).Error; err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "Failed to generate try-on, please try again"})
	}

	task, err := tasks.NewTryOnGenerationTask(user.ID, try_on_generation.ID)
	if err != nil {
		sentry.CaptureException(err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"message": "Sorry, could not start generation, please try again"})
	}
	info, err := asynqClient.Enqueue(task, asynq.MaxRetry(3), asynq.Queue("generate"))
	if err != nil {
		sentry.CaptureException(err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"message": "Sorry, could not start generation, please try again"})
	}
	fmt.Println("[Queue] Try on generation task submitted, Try ID: ", try_on_generation.ID, " Task ID: ", info.ID)

	return c.JSON(http.StatusCreated, TryOnCreatedResponse{
		TryOnID: try_on_generation.ID,
		Status:  try_on_generation.Status,
	})
}

// populatePresignedTryOnImages enriches try-on rows with presigned result URLs concurrently.
// Includes a failsafe for when the cache system itself fails.
func (controller *TryOnController) populatePresignedTryOnImages(ctx context.Context, tryOns []models.TryOnGeneration, includeAttempts bool) []TryOnResponse {
	if len(tryOns) == 0 {
		return []TryOnResponse{}
	}

	var wg sync.WaitGroup
	processedResponses := make([]TryOnResponse, len(tryOns))
	bucketName := services.GetEnv("R2_BUCKET_NAME", "")

	for i, tryOnItem := range tryOns {
		wg.Add(1)
		go func(index int, item models.TryOnGeneration) {
			defer wg.Done()

			var imageUrl string
			if item.ResultImageKey != nil && *item.ResultImageKey != "" {
				objectKey := *item.ResultImageKey

				// Attempt to get the URL from the cache service first.
				url, err := controller.URLCache.GetReadURL(ctx, objectKey)
				if err == nil {
					imageUrl = url
				} else {
					// The cache system itself failed, fall back to a direct presign.
					log.Printf("CACHE WARNING: Cache system failed for key '%s': %v. Triggering manual R2 fallback.", objectKey, err)
					sentry.WithScope(func(scope *sentry.Scope) {
						scope.SetTag("failure_type", "cache_system")
						scope.SetExtra("objectKey", objectKey)
						sentry.CaptureException(err)
					})

					fallbackUrl, fallbackErr := controller.AWSService.GetPresignedR2FileReadURL(ctx, bucketName, objectKey)
					if fallbackErr != nil {
						log.Printf("CRITICAL: Manual R2 fallback also failed for key '%s': %v", objectKey, fallbackErr)
						sentry.CaptureException(fallbackErr)
						// imageUrl remains empty, but we don't fail the entire request.
					} else {
						imageUrl = fallbackUrl
					}
				}
			}
			resp := TryOnResponse{
				ID:               item.ID,
				Status:           item.Status,
				Preset:           item.Preset,
				AbortReason:      item.AbortReason,
				UnresolvedIssues: item.UnresolvedIssues,
				AttemptsUsed:     item.AttemptsUsed,
				CreatedAt:        item.CreatedAt.Format("2006-01-02T15:04:05Z"),
				UpdatedAt:        item.UpdatedAt.Format("2006-01-02T15:04:05Z"),
			}
			if imageUrl != "" {
				resp.ResultImageUri = &imageUrl
			}
			if includeAttempts {
				for _, attempt := range item.Attempts {
					resp.Attempts = append(resp.Attempts, AttemptResponse{
						AttemptIndex:  attempt.AttemptIndex,
						Accepted:      attempt.Accepted,
						FailureKinds:  attempt.FailureKinds,
						IdentityScore: attempt.IdentityScore,
						GarmentScore:  attempt.GarmentScore,
						Severity:      attempt.Severity,
					})
				}
			}
			processedResponses[index] = resp
		}(i, tryOnItem)
	}

	wg.Wait()
	return processedResponses
}

func (controller *TryOnController) GetTryOn(c echo.Context) error {
	var tryOnId uint
	if err := echo.PathParamsBinder(c).Uint("tryOnId", &tryOnId).BindError(); err != nil {
		return echo.ErrBadRequest
	}
	user, ok := c.Get("currentUser").(models.UserAccount)
	if !ok {
		return c.JSON(http.StatusUnauthorized, map[string]string{"error": "Unauthorized"})
	}
	db, ok := c.Get("__db").(*gorm.DB)
	if !ok {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "Database connection error"})
	}

	var tryOn models.TryOnGeneration
	result := db.Preload("Attempts", func(db *gorm.DB) *gorm.DB {
		return db.Order("attempt_index ASC")
	}).Where("id = ? AND user_account_id = ?", tryOnId, user.ID).Take(&tryOn)
	if result.Error != nil {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "Try-on not found"})
	}

	responses := controller.populatePresignedTryOnImages(c.Request().Context(), []models.TryOnGeneration{tryOn}, true)
	return c.JSON(http.StatusOK, responses[0])
}

func (controller *TryOnController) ListTryOns(c echo.Context) error {
	user, ok := c.Get("currentUser").(models.UserAccount)
	if !ok {
		return c.JSON(http.StatusUnauthorized, map[string]string{"error": "Unauthorized"})
	}
	db, ok := c.Get("__db").(*gorm.DB)
	if !ok {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "Database connection error"})
	}

	var tryOns []models.TryOnGeneration
	if err := db.Where("user_account_id = ?", user.ID).Order("created_at DESC").Limit(50).Find(&tryOns).Error; err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "Failed to fetch try-ons"})
	}

	processedResponses := controller.populatePresignedTryOnImages(c.Request().Context(), tryOns, false)
	return c.JSON(http.StatusOK, TryOnListResponse{TryOns: processedResponses})
}
