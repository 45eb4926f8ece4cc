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

	"cpc_portal/internal/api"
	"cpc_portal/internal/app/event"
	"cpc_portal/internal/app/poller"
	"cpc_portal/internal/app/service"
	"cpc_portal/internal/common/security"
	"cpc_portal/internal/domain/repository"
	"cpc_portal/internal/judge"
	"cpc_portal/internal/platform/cache"
	"cpc_portal/internal/platform/config"
	"cpc_portal/internal/platform/database"
)

func main() {
	// 1. Load Configuration
	config.Load()
	fmt.Println("Configuration loaded.")

	// 2. Initialize JWT
	security.InitJWT()
	fmt.Println("JWT initialized.")

	// 3. Initialize Database
	database.Connect()
	defer database.Close()
	fmt.Println("Database connected.")

	// 4. Initialize Redis
	cache.ConnectRedis()
	defer cache.CloseRedis()
	fmt.Println("Redis connected.")

	// 5. Initialize Repositories
	userRepo := repository.NewPgUserRepository(database.DB)
	contestRepo := repository.NewPgContestRepository(database.DB)
	submissionRepo := repository.NewPgSubmissionRepository(database.DB)

	// 6. Judge client and event bus (one bus per process, injected
	// explicitly everywhere it is needed)
	judgeClient := judge.NewClient(judge.Config{
		BaseURL:        config.AppConfig.JudgeBaseURL,
		AuthHeaderName: config.AppConfig.JudgeAuthHeaderName,
		AuthKey:        config.AppConfig.JudgeAuthKey,
		Timeout:        config.AppConfig.JudgeTimeout,
	})
	bus := event.NewBus()

	// 7. Initialize Services
	authService := service.NewAuthService(userRepo)
	contestService := service.NewContestService(contestRepo, cache.RDB, config.AppConfig.LeaderboardCacheTTL)
	sampleRunner := service.NewSampleRunner(contestRepo, judgeClient, config.AppConfig.DefaultTimeLimitSec)
	submissionService := service.NewSubmissionService(submissionRepo, contestRepo, judgeClient, config.AppConfig.DefaultTimeLimitSec)

	// 8. Reconciliation poller (as a goroutine)
	submissionPoller := poller.New(submissionRepo, contestRepo, judgeClient, bus, database.DB, cache.RDB, poller.Config{
		BatchSize:        config.AppConfig.PollBatchSize,
		LockKey:          config.AppConfig.PollLockKey,
		LockTTL:          time.Duration(config.AppConfig.PollLockTTLSeconds) * time.Second,
		SubmissionMaxAge: config.AppConfig.SubmissionMaxAge,
	})
	pollerCtx, pollerCancel := context.WithCancel(context.Background())
	defer pollerCancel()
	go submissionPoller.Run(pollerCtx, config.AppConfig.PollInterval)
	fmt.Println("Submission poller started.")

	// 9. Initialize Router & HTTP Server
	router := api.NewRouter(authService, contestService, submissionService, sampleRunner, bus)

	server := &http.Server{
		Addr:         ":" + config.AppConfig.APIPort,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 60 * time.Second, // live-status long-polls
		IdleTimeout:  120 * time.Second,
	}

	// 10. Graceful Shutdown
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	go func() {
		log.Printf("Server starting on port %s", config.AppConfig.APIPort)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Could not listen on %s: %v\n", config.AppConfig.APIPort, err)
		}
	}()
	log.Println("Server started successfully.")

	<-stop // Wait for interrupt signal

	log.Println("Shutting down server...")
	pollerCancel() // Signal poller to stop

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Fatalf("Server shutdown failed: %v", err)
	}

	log.Println("Server and poller stopped gracefully.")
}
