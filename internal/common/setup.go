package common

import (
	"context"
	"log"
	"strings"

	"marketplace-server-go/internal/database"
	"marketplace-server-go/internal/lock"
	"marketplace-server-go/internal/models"
	"marketplace-server-go/internal/payment"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

// init loads environment variables from .env file if it exists
func init() {
	// Try to load .env file - if it doesn't exist, that's okay
	// Environment variables can be set via other means (shell export, docker, etc.)
	if err := godotenv.Load(); err != nil {
		log.Printf("Note: No .env file found or unable to load it: %v\n", err)
		log.Println("Make sure to set environment variables via export or other means")
	} else {
		log.Println("✓ Loaded environment variables from .env file")
	}
}

type Services struct {
	DbService      *database.Service
	PaymentService *payment.Service
	Locker         lock.Locker
}

func InitializeLogger() (*zap.Logger, func()) {
	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}

	zap.ReplaceGlobals(logger)

	cleanup := func() {
		if err := logger.Sync(); err != nil {
			if !isIgnorableSyncError(err) {
				log.Printf("Failed to sync logger: %v\n", err)
			}
		}
	}

	return logger, cleanup
}

func InitializeServices(ctx context.Context, cfg *models.Config) (*Services, error) {
	dbService, err := database.NewService(ctx, cfg.Database)
	if err != nil {
		return nil, err
	}

	paymentService, err := payment.NewService(cfg.Payment)
	if err != nil {
		dbService.Close()
		return nil, err
	}

	locker, err := initializeLocker(cfg.Redis)
	if err != nil {
		dbService.Close()
		return nil, err
	}

	return &Services{
		DbService:      dbService,
		PaymentService: paymentService,
		Locker:         locker,
	}, nil
}

// InitializeDatabaseOnly initializes just the database service.
// Useful for offline tooling like the fixtures loader.
func InitializeDatabaseOnly(ctx context.Context, cfg *models.Config) (*database.Service, error) {
	dbService, err := database.NewService(ctx, cfg.Database)
	if err != nil {
		return nil, err
	}
	return dbService, nil
}

func initializeLocker(cfg models.RedisConfig) (lock.Locker, error) {
	if cfg.Addr == "mock" {
		zap.L().Info("Using in-process locks")
		return lock.NewLocal(), nil
	}
	zap.L().Info("Using redis locks", zap.String("addr", cfg.Addr))
	return lock.NewRedis(cfg.Addr, cfg.LockLease)
}

func (cs *Services) Close() {
	if cs.DbService != nil {
		cs.DbService.Close()
	}
}

func isIgnorableSyncError(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "sync /dev/stderr: inappropriate ioctl for device") ||
		strings.Contains(msg, "sync /dev/stdout: inappropriate ioctl for device")
}
