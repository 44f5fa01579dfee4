package controllers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"tryonapi/dbhelper"
	"tryonapi/models"
	"tryonapi/test"

	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func stringPtr(s string) *string {
	return &s
}

func TestCreateGarmentOk(t *testing.T) {
	db := dbhelper.SetupTestDB()
	cleaner := dbhelper.SetupCleaner(db)
	defer cleaner()
	e := SetupServer(db, &test.AWSProviderMock{}, nil, nil, nil, test.URLCacheMock{})
	user := test.FakeUser(db)

	reqBody := CreateGarmentIn{
		Name:        "Festive Kurta",
		Description: stringPtr("Embroidered short kurta"),
		FileName:    stringPtr("kurta.png"),
		AddToCloset: BoolPointer(false),
	}

	req := test.NewJSONAuthRequest("POST", "/garments/create", UIntToStr(user.ID), reqBody)
	rec := httptest.NewRecorder()

	e.ServeHTTP(rec, req)

	require.Equal(t, http.StatusCreated, rec.Code, "Expected status code 201 Created, got %d", rec.Code)

	var response GarmentCreatedResponse
	err := json.Unmarshal(rec.Body.Bytes(), &response)
	require.NoError(t, err)
	require.Equal(t, reqBody.Name, response.Garment.Name)
	require.Equal(t, reqBody.Description, response.Garment.Description)
	assert.Equal(t, "temporary", response.Garment.Status)
	assert.Contains(t, response.FileUploadUrl, fmt.Sprintf("garments/%v/kurta.png", user.ID))
}

func TestCreateGarmentInvalidInput(t *testing.T) {
	db := dbhelper.SetupTestDB()
	cleaner := dbhelper.SetupCleaner(db)
	defer cleaner()
	e := SetupServer(db, &test.AWSProviderMock{}, nil, nil, nil, test.URLCacheMock{})
	user := test.FakeUser(db)

	// file name missing
	reqBody := CreateGarmentIn{
		Name:        "Festive Kurta",
		AddToCloset: BoolPointer(false),
	}

	req := test.NewJSONAuthRequest("POST", "/garments/create", UIntToStr(user.ID), reqBody)
	rec := httptest.NewRecorder()

	e.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	var response map[string]string
	err := json.Unmarshal(rec.Body.Bytes(), &response)
	assert.NoError(t, err)
	assert.Contains(t, response["error"], "FileName")
}

func TestListGarmentsOnlyCloset(t *testing.T) {
	db := dbhelper.SetupTestDB()
	cleaner := dbhelper.SetupCleaner(db)
	defer cleaner()
	e := SetupServer(db, &test.AWSProviderMock{}, nil, nil, nil, test.URLCacheMock{})
	user := test.FakeUser(db)

	closetGarment := models.Garment{
		Name:             "Closet Kurta",
		OwnerID:          user.ID,
		Status:           "in_closet",
		ImageStatus:      "uploaded",
		ProcessingStatus: "completed",
		ImageKey:         stringPtr(fmt.Sprintf("garments/%v/kurta.png", user.ID)),
		Category:         stringPtr("SHORT_KURTA"),
		Hemline:          stringPtr("HIP"),
		PatternColors:    pq.StringArray{"maroon", "gold"},
	}
	db.Create(&closetGarment)
	tempGarment := models.Garment{
		Name:             "One Off Top",
		OwnerID:          user.ID,
		Status:           "temporary",
		ImageStatus:      "uploaded",
		ProcessingStatus: "idle",
	}
	db.Create(&tempGarment)

	req := test.NewJSONAuthRequest("GET", "/garments/list", UIntToStr(user.ID), nil)
	rec := httptest.NewRecorder()

	e.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var response GarmentListResponse
	err := json.Unmarshal(rec.Body.Bytes(), &response)
	require.NoError(t, err)
	require.Len(t, response.Garments, 1)
	assert.Equal(t, "Closet Kurta", response.Garments[0].Name)
	require.NotNil(t, response.Garments[0].Category)
	assert.Equal(t, "SHORT_KURTA", *response.Garments[0].Category)
	require.NotNil(t, response.Garments[0].Uri)
	assert.Contains(t, *response.Garments[0].Uri, "fakecachedurl.com")
}
