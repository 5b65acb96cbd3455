package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/heartlinehq/patientflow/internal/api/router"
	"github.com/heartlinehq/patientflow/internal/clinicapi"
	appconfig "github.com/heartlinehq/patientflow/internal/config"
	"github.com/heartlinehq/patientflow/internal/http/handlers"
	"github.com/heartlinehq/patientflow/internal/observability/metrics"
	"github.com/heartlinehq/patientflow/internal/payment"
	"github.com/heartlinehq/patientflow/internal/schedule"
	"github.com/heartlinehq/patientflow/internal/timefmt"
	"github.com/heartlinehq/patientflow/pkg/logging"
)

func main() {
	// Load .env file
	if err := godotenv.Load(); err == nil {
		fmt.Println("loaded configuration from .env")
	}

	// Load configuration
	cfg := appconfig.Load()

	// Initialize logger
	logger := logging.New(cfg.LogLevel)
	logger.Info("starting patientflow API server",
		"env", cfg.Env,
		"port", cfg.Port,
	)

	zone, err := timefmt.LoadZone(cfg.DisplayTZ)
	if err != nil {
		logger.Error("invalid display timezone", "tz", cfg.DisplayTZ, "error", err)
		os.Exit(1)
	}

	// Clinical backend client
	clinic := clinicapi.NewClient(cfg.ClinicAPIBaseURL, cfg.ClinicAPIToken, logger)
	clinic.SetTimeout(cfg.ClinicAPITimeout)

	// Redis session storage
	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	if err := redisClient.Ping(context.Background()).Err(); err != nil {
		logger.Error("redis unreachable", "addr", cfg.RedisAddr, "error", err)
		os.Exit(1)
	}

	// Metrics
	registry := prometheus.NewRegistry()
	flowMetrics := metrics.NewFlowMetrics(registry)

	// Flow orchestrators
	scheduleStore := schedule.NewStore(redisClient, cfg.SessionTTL)
	wizard := schedule.NewWizard(clinic, scheduleStore, zone, cfg.SlotMinutes, logger, flowMetrics)
	rescheduler := schedule.NewRescheduler(clinic, scheduleStore, zone, cfg.SlotMinutes, logger, flowMetrics)
	paymentStore := payment.NewStore(redisClient, cfg.ChallengeTTL)
	machine := payment.NewMachine(clinic, paymentStore, time.Now, logger, flowMetrics)

	// Initialize handlers
	scheduleHandler := handlers.NewScheduleHandler(wizard, rescheduler, zone, logger)
	paymentsHandler := handlers.NewPaymentsHandler(machine, cfg.CountdownEvery, logger)

	// Setup router
	routerCfg := &router.Config{
		Logger:             logger,
		ScheduleHandler:    scheduleHandler,
		PaymentsHandler:    paymentsHandler,
		PatientAuthSecret:  cfg.PatientJWTSecret,
		MetricsHandler:     promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		CORSAllowedOrigins: cfg.CORSAllowedOrigins,
		ConfirmRatePerSec:  cfg.ConfirmRatePerSec,
		ConfirmBurst:       cfg.ConfirmBurst,
	}
	r := router.New(routerCfg)

	// Create HTTP server
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in a goroutine
	go func() {
		logger.Info("server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server...")

	// Graceful shutdown with timeout
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
		os.Exit(1)
	}

	if err := redisClient.Close(); err != nil {
		logger.Error("redis close failed", "error", err)
	}

	logger.Info("server stopped")
	fmt.Println("Server exited gracefully")
}
