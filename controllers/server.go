package controllers

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"

	"tryonapi/models"
	"tryonapi/pipeline"
	"tryonapi/services"

	firebase "firebase.google.com/go/v4"
	"github.com/go-playground/validator"
	"github.com/hibiken/asynq"
	echojwt "github.com/labstack/echo-jwt"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"gorm.io/gorm"
)

type CustomValidator struct {
	validator *validator.Validate
}

func (cv *CustomValidator) Validate(i interface{}) error {
	if err := cv.validator.Struct(i); err != nil {
		// Optionally, you could return the error to give each route more control over the status code
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return nil
}

func validatePreset(fl validator.FieldLevel) bool {
	return pipeline.ValidPreset(fl.Field().String())
}

func SetupServer(
	db *gorm.DB,
	awsService services.AWSServiceProvider,
	firebaseApp *firebase.App,
	asynqClient *asynq.Client,
	asynqInspector *asynq.Inspector,
	urlCache services.URLCacheServiceProvider,
) *echo.Echo {

	fmt.Println(firebaseApp, "Firebase app")
	err := awsService.InitPresignClient(context.Background())
	if err != nil {
		log.Fatal("Failed to initialize AWS provider: S3")
	}

	e := echo.New()
	v := validator.New()
	v.RegisterValidation("platform", models.ValidatePlatform)
	v.RegisterValidation("preset", validatePreset)
	e.Validator = &CustomValidator{validator: v}
	e.Use(func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			c.Set("__db", db)
			c.Set("__asynqclient", asynqClient)
			c.Set("__asynqinspector", asynqInspector)
			return next(c)
		}
	})

	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowHeaders: []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept},
	}))

	tryOnGroup := e.Group("/tryon", echojwt.JWT([]byte(os.Getenv("JWT_SECRET"))))
	tryOnGroup.Use(UserMiddleware)
	tryOnController := TryOnController{AWSService: awsService, FirebaseApp: firebaseApp, URLCache: urlCache}
	tryOnController.TryOnRoutes(tryOnGroup)

	garmentGroup := e.Group("/garments", echojwt.JWT([]byte(os.Getenv("JWT_SECRET"))))
	garmentGroup.Use(UserMiddleware)
	garmentsController := GarmentsController{AWSService: awsService, FirebaseApp: firebaseApp, URLCache: urlCache}
	garmentsController.GarmentRoutes(garmentGroup)

	profileGroup := e.Group("/profile", echojwt.JWT([]byte(os.Getenv("JWT_SECRET"))))
	profileGroup.Use(UserMiddleware)
	profileController := ProfileController{AWSService: awsService}
	profileController.ProfileRoutes(profileGroup)

	return e
}
