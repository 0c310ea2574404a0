// Package main is the Raworc control plane entry point. One binary runs the
// REST API, the task worker, and the reconciliation loops against a shared
// database and Docker daemon.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/raworc/raworc/internal/api"
	"github.com/raworc/raworc/internal/auth"
	"github.com/raworc/raworc/internal/common/config"
	"github.com/raworc/raworc/internal/common/logger"
	"github.com/raworc/raworc/internal/db"
	"github.com/raworc/raworc/internal/docker"
	"github.com/raworc/raworc/internal/events"
	"github.com/raworc/raworc/internal/lifecycle"
	"github.com/raworc/raworc/internal/session/service"
	"github.com/raworc/raworc/internal/store"
)

// version is stamped at build time via -ldflags.
var version = "dev"

func main() {
	// 1. Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// 2. Initialize logger
	log, err := logger.NewLogger(logger.LoggingConfig{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	log.Info("Starting Raworc...", zap.String("version", version))

	// 3. Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 4. Open the database and initialize storage
	pool, err := db.Open(cfg.Database)
	if err != nil {
		log.Fatal("Failed to open database", zap.Error(err))
	}
	defer pool.Close()

	st, err := store.New(pool)
	if err != nil {
		log.Fatal("Failed to initialize store", zap.Error(err))
	}
	log.Info("Database initialized", zap.String("driver", st.Driver()))

	if err := st.SeedRBAC(ctx, log); err != nil {
		log.Fatal("Failed to seed RBAC", zap.Error(err))
	}

	// 5. Initialize event bus (NATS if configured, in-memory otherwise)
	eventBus, closeBus, err := events.Provide(cfg, log)
	if err != nil {
		log.Fatal("Failed to initialize event bus", zap.Error(err))
	}
	defer closeBus()

	// 6. Connect to Docker
	dockerClient, err := docker.NewClient(cfg.Docker, log)
	if err != nil {
		log.Fatal("Failed to initialize Docker client", zap.Error(err))
	}
	defer dockerClient.Close()
	if err := dockerClient.Ping(ctx); err != nil {
		log.Fatal("Docker daemon not available", zap.Error(err))
	}
	log.Info("Connected to Docker daemon")

	volumes := docker.NewVolumeManager(cfg.Sandbox.VolumesPath, log)

	// 7. Token issuer
	issuer := auth.NewTokenIssuer(cfg.Auth.JWTSecret, cfg.Auth.TokenDurationTime())

	// 8. Lifecycle manager: task worker + reconciliation loops
	apiURL := fmt.Sprintf("http://%s:%d/api/v0", cfg.Server.Host, cfg.Server.Port)
	manager := lifecycle.NewManager(
		st,
		dockerClient,
		volumes,
		eventBus,
		&sessionTokenMinter{issuer: issuer},
		cfg.Sandbox,
		apiURL,
		log,
	)
	if err := manager.Start(ctx); err != nil {
		log.Fatal("Failed to start lifecycle manager", zap.Error(err))
	}

	// 9. HTTP API
	sessionSvc := service.New(st, eventBus, log)
	server := api.NewServer(st, sessionSvc, issuer, log, version)

	httpServer := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      server.Router(),
		ReadTimeout:  cfg.Server.ReadTimeoutDuration(),
		WriteTimeout: cfg.Server.WriteTimeoutDuration(),
	}
	go func() {
		log.Info("API server listening",
			zap.String("host", cfg.Server.Host),
			zap.Int("port", cfg.Server.Port))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	// 10. Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down Raworc...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error("HTTP server shutdown error", zap.Error(err))
	}
	manager.Stop()

	log.Info("Raworc stopped")
}

// sessionTokenMinter adapts the token issuer to the lifecycle manager's
// minter interface. Containers receive a subject token named after their
// session.
type sessionTokenMinter struct {
	issuer *auth.TokenIssuer
}

func (m *sessionTokenMinter) MintSessionToken(sessionID string) (string, error) {
	token, err := m.issuer.IssueSubjectToken(auth.SessionPrincipalName(sessionID), nil)
	if err != nil {
		return "", err
	}
	return token.Token, nil
}
