// cmd/server/main.go
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/javajoker/popup-portal/internal/config"
	"github.com/javajoker/popup-portal/internal/database"
	"github.com/javajoker/popup-portal/internal/i18n"
	"github.com/javajoker/popup-portal/internal/router"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		logrus.WithError(err).Fatal("Failed to load configuration")
	}

	log := cfg.NewLogger()
	logrus.SetLevel(log.GetLevel())
	logrus.SetFormatter(log.Formatter)

	// Initialize database
	db, err := database.Initialize(cfg.Database, log)
	if err != nil {
		log.WithError(err).Fatal("Failed to initialize database")
	}
	defer database.Close(db, log)

	// Run database migrations
	if err := database.RunMigrations(db, log); err != nil {
		log.WithError(err).Fatal("Failed to run migrations")
	}

	if cfg.Environment == "development" {
		if err := database.SeedDevelopmentData(db, log); err != nil {
			log.WithError(err).Warn("Failed to seed development data")
		}
	}

	// Initialize i18n
	if err := i18n.Initialize(cfg.I18n.DefaultLocale); err != nil {
		log.WithError(err).Fatal("Failed to initialize i18n")
	}

	// Redis only backs the webhook replay cache; run without it rather than refuse to start.
	var rdb *redis.Client
	connectCtx, cancelConnect := context.WithTimeout(context.Background(), 5*time.Second)
	rdb, err = database.NewRedis(connectCtx, cfg.Redis)
	cancelConnect()
	if err != nil {
		log.WithError(err).Warn("Redis unavailable, webhook idempotency falls back to the database")
		rdb = nil
	}
	if rdb != nil {
		defer rdb.Close()
	}

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	r, svc, err := router.Initialize(router.Dependencies{
		DB:     db,
		Redis:  rdb,
		Config: cfg,
		Logger: log,
	})
	if err != nil {
		log.WithError(err).Fatal("Failed to initialize router")
	}

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%s", cfg.Server.Port),
		Handler:      r,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
		IdleTimeout:  time.Duration(cfg.Server.IdleTimeout) * time.Second,
	}

	go func() {
		log.WithFields(logrus.Fields{
			"port":        cfg.Server.Port,
			"environment": cfg.Environment,
			"webhook_url": cfg.WebhookURL(),
		}).Info("Starting server")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Fatal("Failed to start server")
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.WithError(err).Error("Server forced to shutdown")
	}

	// Let in-flight notification deliveries finish before the database goes away.
	svc.Notifications.Wait()

	log.Info("Server exited")
}
