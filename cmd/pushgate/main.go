package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"gorm.io/gorm/logger"

	"github.com/pushgate/pushgate/internal/config"
	"github.com/pushgate/pushgate/internal/database"
	githubstatus "github.com/pushgate/pushgate/internal/github"
	"github.com/pushgate/pushgate/internal/gitrepo"
	"github.com/pushgate/pushgate/internal/handlers"
	"github.com/pushgate/pushgate/internal/jira"
	"github.com/pushgate/pushgate/internal/jobs"
	"github.com/pushgate/pushgate/internal/notify"
	"github.com/pushgate/pushgate/internal/services"
)

func main() {
	// Load .env file if it exists (ignore error if file doesn't exist)
	if err := godotenv.Load(); err != nil {
		log.Printf("No .env file found or error loading it (this is fine if using environment variables): %v", err)
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	rules, err := config.LoadRules(cfg.RulesFile)
	if err != nil {
		log.Fatalf("Failed to load rules: %v", err)
	}

	log.Printf("Starting pushgate...")

	db, err := database.Connect(cfg.DatabaseURL, logger.Warn)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	if err := database.AutoMigrate(db); err != nil {
		log.Fatalf("Failed to run database migrations: %v", err)
	}
	if err := database.InitializeDefaults(db, cfg.ObservedService); err != nil {
		log.Fatalf("Failed to initialize database defaults: %v", err)
	}

	gitClient := gitrepo.NewClient(cfg.GitCacheDir, cfg.GitRemoteBase)
	tracker := jira.NewClient(cfg.JiraBaseURL, cfg.JiraUsername, cfg.JiraToken)
	publisher := githubstatus.NewStatusPublisher(cfg.GithubToken)

	reconciler, err := services.NewReconciler(db, rules, gitClient, tracker)
	if err != nil {
		log.Fatalf("Failed to create reconciler: %v", err)
	}
	dispatcher := services.NewDispatcher(db, reconciler, publisher,
		cfg.StatusContext, cfg.WebServerURL, cfg.ObservedService, cfg.JobMaxAttempts)

	notifier := notify.NewSlackNotifier(cfg.SlackBotToken, cfg.SlackChannel)
	if notifier != nil {
		log.Printf("Slack notifications enabled for channel %s", cfg.SlackChannel)
	}

	stop := make(chan struct{})
	for i := 0; i < cfg.WorkerCount; i++ {
		var workerNotifier jobs.Notifier
		if notifier != nil {
			workerNotifier = notifier
		}
		worker := jobs.NewWorker(db, dispatcher, workerNotifier, cfg.PollInterval)
		go worker.Start(stop)
	}
	log.Printf("Started %d job workers", cfg.WorkerCount)

	mux := http.NewServeMux()
	handlers.NewPushHandler(db, dispatcher).Register(mux)

	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler: mux,
	}
	go func() {
		log.Printf("HTTP server listening on :%d", cfg.HTTPPort)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("HTTP server error: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Println("Shutting down...")
	close(stop)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		log.Printf("HTTP server shutdown error: %v", err)
	}
	log.Println("Shutdown complete")
}
