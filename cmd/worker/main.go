package main

import (
	"context"
	"log"
	"os"

	"tryonapi/dbhelper"
	"tryonapi/pipeline"
	"tryonapi/services"
	"tryonapi/tasks"

	firebase "firebase.google.com/go/v4"
	"github.com/hibiken/asynq"
)

func NewStaleSweepTask() *asynq.Task {
	return asynq.NewTask("generate:stale_sweep", []byte{})
}

func runScheduler() {

	scheduler := asynq.NewScheduler(asynq.RedisClientOpt{Addr: os.Getenv("ASYNC_BROKER_ADDRESS")}, &asynq.SchedulerOpts{

		LogLevel: asynq.InfoLevel,
	})

	scheduled := []struct {
		cron string
		task *asynq.Task
		desc string
	}{
		{
			cron: "0 * * * *", // hourly
			task: NewStaleSweepTask(),
			desc: "Stuck generation sweep",
		},
	}

	for _, t := range scheduled {
		entryID, err := scheduler.Register(t.cron, t.task)
		if err != nil {
			log.Fatalf("Failed to register task '%s': %v", t.desc, err)
		}
		log.Printf("Registered task '%s' with ID: %s, cron: %s", t.desc, entryID, t.cron)
	}

	log.Println("Starting scheduler...")
	if err := scheduler.Run(); err != nil {
		log.Fatalf("Scheduler failed: %v", err)
	}
}

func main() {
	srv := asynq.NewServer(
		asynq.RedisClientOpt{Addr: os.Getenv("ASYNC_BROKER_ADDRESS")},
		asynq.Config{Concurrency: 10, Queues: map[string]int{
			"generate": 7,
		}},
	)
	awsService := &services.AWSService{}
	err := awsService.InitPresignClient(context.Background())
	if err != nil {
		log.Fatal("[Queue] Failed to initialize AWS provider: S3")
	}
	app, err := firebase.NewApp(context.Background(), nil)
	if err != nil {
		log.Fatalf("error initializing firebase app: %v\n", err)
		return
	}

	extractor := services.NewGeminiVisionService()
	generator := services.NewGeminiGenerationService()
	judge := services.NewGeminiSimilarityService()
	orchestrator := pipeline.NewOrchestrator(extractor, generator, judge, pipeline.NewIdentityCache())

	mux := asynq.NewServeMux()
	db := dbhelper.SetupDB()
	mux.HandleFunc(tasks.TypeTryOnGeneration, func(ctx context.Context, t *asynq.Task) error {
		return tasks.HandleTryOnGenerationTask(ctx, t, db, orchestrator, awsService, app)
	})
	mux.HandleFunc(tasks.TypeGarmentClassify, func(ctx context.Context, t *asynq.Task) error {
		return tasks.HandleGarmentClassifyTask(ctx, t, db, extractor, awsService)
	})
	mux.HandleFunc("generate:stale_sweep", func(ctx context.Context, t *asynq.Task) error {
		return tasks.ScheduledStaleSweepTask(ctx, t, db, app)
	})

	go runScheduler()
	// Run the worker
	if err := srv.Run(mux); err != nil {
		log.Fatal(err)
	}
}
