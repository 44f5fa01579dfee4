package tasks

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"tryonapi/dbhelper"
	"tryonapi/models"
	"tryonapi/pipeline"
	"tryonapi/test"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func stringPtr(s string) *string {
	return &s
}

// testImage renders a white square with dark blocks over the given fractional
// row ranges, enough for the deterministic classifiers to read.
func testImage(t *testing.T, blocks ...[2]float64) []byte {
	t.Helper()
	const size = 256
	img := image.NewRGBA(image.Rect(0, 0, size, size))
	for y := 0; y < size; y++ {
		for x := 0; x < size; x++ {
			img.Set(x, y, color.RGBA{R: 250, G: 250, B: 250, A: 255})
		}
	}
	for _, b := range blocks {
		y0 := int(b[0] * size)
		y1 := int(b[1] * size)
		for y := y0; y < y1 && y < size; y++ {
			for x := size / 4; x < size*3/4; x++ {
				img.Set(x, y, color.RGBA{R: 40, G: 40, B: 60, A: 255})
			}
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

type extractorStub struct {
	garment models.GarmentClassification
}

func (s extractorStub) ExtractUserFacts(ctx context.Context, personImage []byte) (models.ExtractedUserFacts, []byte, error) {
	return models.ExtractedUserFacts{
		FaceShape: "oval", SkinTone: "medium", BodyType: "average",
		Pose: "standing", Gender: "female", ExtractionConfidence: 90,
	}, personImage, nil
}

func (s extractorStub) ClassifyGarment(ctx context.Context, garmentImage []byte) (models.GarmentClassification, error) {
	return s.garment, nil
}

type generatorStub struct {
	requests []pipeline.GenerationRequest
}

func (s *generatorStub) GenerateComposite(ctx context.Context, req pipeline.GenerationRequest) (pipeline.GenerationOutput, error) {
	s.requests = append(s.requests, req)
	return pipeline.GenerationOutput{
		Image:            []byte("rendered"),
		ModelName:        "gemini-2.5-flash-image",
		PromptTokens:     100,
		CompletionTokens: 50,
	}, nil
}

type judgeStub struct {
	identity pipeline.IdentityVerdict
	garment  pipeline.GarmentVerdict
}

func (s judgeStub) CompareIdentity(ctx context.Context, reference []byte, candidate []byte) (pipeline.IdentityVerdict, error) {
	return s.identity, nil
}

func (s judgeStub) CompareGarment(ctx context.Context, reference []byte, candidate []byte, expected models.GarmentClassification) (pipeline.GarmentVerdict, error) {
	return s.garment, nil
}

func twoPieceClassification() models.GarmentClassification {
	return models.GarmentClassification{
		Category:   models.CategoryTwoPiece,
		Hemline:    models.HemlineHip,
		Pattern:    models.PatternDescriptor{Type: "solid", Colors: []string{"navy"}},
		Fabric:     models.FabricDescriptor{Material: "cotton", Finish: "matte"},
		Confidence: 85,
	}
}

func TestHandleTryOnGenerationTaskAccepted(t *testing.T) {
	db := dbhelper.SetupTestDB()
	cleaner := dbhelper.SetupCleaner(db)
	defer cleaner()
	os.Setenv("GOOGLE_API_KEY", "test-key")
	user := test.FakeUserWithAvatar(db)

	tryOn := models.TryOnGeneration{
		UserAccountID:   user.ID,
		PersonImageKey:  *user.PersonImageKey,
		GarmentImageKey: "garments/1/set.png",
		Preset:          "studio_catalog",
		TargetAudience:  stringPtr("college students"),
		Status:          models.TryOnStatusPending,
	}
	db.Create(&tryOn)

	// served for both the person and the garment reads; two separated blocks
	// so the topology classifier sees a two piece set
	mockContent := testImage(t, [2]float64{0.1, 0.4}, [2]float64{0.55, 0.85})
	mockServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write(mockContent)
	}))
	defer mockServer.Close()

	fakeTask, err := NewTryOnGenerationTask(user.ID, tryOn.ID)
	require.NoError(t, err)
	awsServiceMock := &test.AWSProviderMock{MockUrl: mockServer.URL}

	orchestrator := pipeline.NewOrchestrator(
		extractorStub{garment: twoPieceClassification()},
		&generatorStub{},
		judgeStub{
			identity: pipeline.IdentityVerdict{Similarity: 92, SamePerson: true},
			garment:  pipeline.GarmentVerdict{Score: 88, Matches: true},
		},
		pipeline.NewIdentityCache(),
	)

	err = HandleTryOnGenerationTask(context.Background(), fakeTask, db, orchestrator, awsServiceMock, nil)
	assert.NoError(t, err)

	var updated models.TryOnGeneration
	require.NoError(t, db.Where("id = ?", tryOn.ID).First(&updated).Error)
	assert.Equal(t, models.TryOnStatusAccepted, updated.Status)
	assert.Equal(t, 1, updated.AttemptsUsed)
	require.NotNil(t, updated.ResultImageKey)
	require.NotNil(t, updated.LLMModel)
	assert.Equal(t, "gemini-2.5-flash-image", *updated.LLMModel)
	require.NotNil(t, updated.LLMInputTokenCount)
	assert.Equal(t, int32(100), *updated.LLMInputTokenCount)
	require.NotNil(t, updated.FinalProfileJSON)
	assert.Contains(t, *updated.FinalProfileJSON, "college students")

	var attemptCount int64
	db.Where("try_on_generation_id = ?", tryOn.ID).Model(&models.GenerationAttempt{}).Count(&attemptCount)
	assert.Equal(t, int64(1), attemptCount)
}

func TestHandleTryOnGenerationTaskPinnedModelTier(t *testing.T) {
	db := dbhelper.SetupTestDB()
	cleaner := dbhelper.SetupCleaner(db)
	defer cleaner()
	os.Setenv("GOOGLE_API_KEY", "test-key")
	user := test.FakeUserWithAvatar(db)
	user.EnforcedModelTier = test.Int32Pointer(2)
	require.NoError(t, db.Save(user).Error)

	tryOn := models.TryOnGeneration{
		UserAccountID:   user.ID,
		PersonImageKey:  *user.PersonImageKey,
		GarmentImageKey: "garments/1/set.png",
		Preset:          "studio_catalog",
		QualityTier:     stringPtr("standard"),
		Status:          models.TryOnStatusPending,
	}
	db.Create(&tryOn)

	mockContent := testImage(t, [2]float64{0.1, 0.4}, [2]float64{0.55, 0.85})
	mockServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write(mockContent)
	}))
	defer mockServer.Close()

	fakeTask, err := NewTryOnGenerationTask(user.ID, tryOn.ID)
	require.NoError(t, err)
	awsServiceMock := &test.AWSProviderMock{MockUrl: mockServer.URL}

	generator := &generatorStub{}
	orchestrator := pipeline.NewOrchestrator(
		extractorStub{garment: twoPieceClassification()},
		generator,
		judgeStub{
			identity: pipeline.IdentityVerdict{Similarity: 92, SamePerson: true},
			garment:  pipeline.GarmentVerdict{Score: 88, Matches: true},
		},
		pipeline.NewIdentityCache(),
	)

	err = HandleTryOnGenerationTask(context.Background(), fakeTask, db, orchestrator, awsServiceMock, nil)
	assert.NoError(t, err)

	// the account pin overrides the requested standard tier on a free plan
	require.Len(t, generator.requests, 1)
	assert.Equal(t, "high", generator.requests[0].QualityTier)
	assert.True(t, generator.requests[0].Premium)
}

func TestHandleTryOnGenerationTaskIdentityAbort(t *testing.T) {
	db := dbhelper.SetupTestDB()
	cleaner := dbhelper.SetupCleaner(db)
	defer cleaner()
	os.Setenv("GOOGLE_API_KEY", "test-key")
	user := test.FakeUserWithAvatar(db)

	tryOn := models.TryOnGeneration{
		UserAccountID:   user.ID,
		PersonImageKey:  *user.PersonImageKey,
		GarmentImageKey: "garments/1/set.png",
		Preset:          "festive_ethnic",
		Status:          models.TryOnStatusPending,
	}
	db.Create(&tryOn)

	mockContent := testImage(t, [2]float64{0.1, 0.4}, [2]float64{0.55, 0.85})
	mockServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write(mockContent)
	}))
	defer mockServer.Close()

	fakeTask, err := NewTryOnGenerationTask(user.ID, tryOn.ID)
	require.NoError(t, err)
	awsServiceMock := &test.AWSProviderMock{MockUrl: mockServer.URL}

	// similarity far below the abort floor, the run must stop on attempt one
	orchestrator := pipeline.NewOrchestrator(
		extractorStub{garment: twoPieceClassification()},
		&generatorStub{},
		judgeStub{
			identity: pipeline.IdentityVerdict{Similarity: 30, SamePerson: false},
			garment:  pipeline.GarmentVerdict{Score: 88, Matches: true},
		},
		pipeline.NewIdentityCache(),
	)

	err = HandleTryOnGenerationTask(context.Background(), fakeTask, db, orchestrator, awsServiceMock, nil)
	assert.NoError(t, err)

	var updated models.TryOnGeneration
	require.NoError(t, db.Where("id = ?", tryOn.ID).First(&updated).Error)
	assert.Equal(t, models.TryOnStatusAborted, updated.Status)
	require.NotNil(t, updated.AbortReason)
	assert.Contains(t, *updated.AbortReason, "identity_loss")
	assert.Equal(t, 1, updated.AttemptsUsed)
	assert.Nil(t, updated.ResultImageKey)
}

func TestHandleTryOnGenerationTaskSkipsAccepted(t *testing.T) {
	db := dbhelper.SetupTestDB()
	cleaner := dbhelper.SetupCleaner(db)
	defer cleaner()
	os.Setenv("GOOGLE_API_KEY", "test-key")
	user := test.FakeUserWithAvatar(db)

	tryOn := models.TryOnGeneration{
		UserAccountID:   user.ID,
		PersonImageKey:  *user.PersonImageKey,
		GarmentImageKey: "garments/1/set.png",
		Preset:          "studio_catalog",
		Status:          models.TryOnStatusAccepted,
		AttemptsUsed:    1,
	}
	db.Create(&tryOn)

	fakeTask, err := NewTryOnGenerationTask(user.ID, tryOn.ID)
	require.NoError(t, err)

	// no providers should ever be hit, nils would panic otherwise
	err = HandleTryOnGenerationTask(context.Background(), fakeTask, db, nil, test.AWSProviderMock{}, nil)
	assert.NoError(t, err)
}

func TestHandleGarmentClassifyTask(t *testing.T) {
	db := dbhelper.SetupTestDB()
	cleaner := dbhelper.SetupCleaner(db)
	defer cleaner()
	os.Setenv("GOOGLE_API_KEY", "test-key")
	user := test.FakeUser(db)

	garment := models.Garment{
		Name:             "Festive Kurta",
		Description:      stringPtr("Embroidered short kurta"),
		OwnerID:          user.ID,
		Status:           "in_closet",
		ImageStatus:      "draft",
		ProcessingStatus: "pending",
		ImageKey:         stringPtr("garments/1/kurta.png"),
	}
	db.Create(&garment)

	mockContent := testImage(t, [2]float64{0.1, 0.5})
	mockServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write(mockContent)
	}))
	defer mockServer.Close()

	fakeTask, err := NewGarmentClassifyTask(garment.ID)
	require.NoError(t, err)
	awsServiceMock := &test.AWSProviderMock{MockUrl: mockServer.URL}

	classification := models.GarmentClassification{
		Category:   models.CategoryShortKurta,
		Hemline:    models.HemlineHip,
		Pattern:    models.PatternDescriptor{Type: "printed", Colors: []string{"maroon", "gold"}},
		Fabric:     models.FabricDescriptor{Material: "cotton", Finish: "textured"},
		Confidence: 82,
	}
	err = HandleGarmentClassifyTask(context.Background(), fakeTask, db, extractorStub{garment: classification}, awsServiceMock)
	assert.NoError(t, err)

	var updated models.Garment
	require.NoError(t, db.Where("id = ?", garment.ID).First(&updated).Error)
	assert.Equal(t, "completed", updated.ProcessingStatus)
	require.NotNil(t, updated.Category)
	assert.Equal(t, "SHORT_KURTA", *updated.Category)
	require.NotNil(t, updated.Hemline)
	assert.Equal(t, "HIP", *updated.Hemline)
	assert.Contains(t, updated.PatternColors, "maroon")
	require.NotNil(t, updated.ClassificationJSON)
}

func TestScheduledStaleSweepTask(t *testing.T) {
	db := dbhelper.SetupTestDB()
	cleaner := dbhelper.SetupCleaner(db)
	defer cleaner()
	user := test.FakeUserWithAvatar(db)

	stuck := models.TryOnGeneration{
		UserAccountID:   user.ID,
		PersonImageKey:  *user.PersonImageKey,
		GarmentImageKey: "garments/1/set.png",
		Preset:          "minimal_luxe",
		Status:          models.TryOnStatusGenerating,
	}
	db.Create(&stuck)
	db.Model(&models.TryOnGeneration{}).Where("id = ?", stuck.ID).
		UpdateColumn("updated_at", "2020-01-01 00:00:00")

	fresh := models.TryOnGeneration{
		UserAccountID:   user.ID,
		PersonImageKey:  *user.PersonImageKey,
		GarmentImageKey: "garments/1/other.png",
		Preset:          "minimal_luxe",
		Status:          models.TryOnStatusGenerating,
	}
	db.Create(&fresh)

	err := ScheduledStaleSweepTask(context.Background(), nil, db, nil)
	assert.NoError(t, err)

	var sweptStuck, keptFresh models.TryOnGeneration
	db.First(&sweptStuck, stuck.ID)
	db.First(&keptFresh, fresh.ID)
	assert.Equal(t, models.TryOnStatusFailed, sweptStuck.Status)
	assert.Equal(t, models.TryOnStatusGenerating, keptFresh.Status)
}
