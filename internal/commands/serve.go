package commands

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
	"github.com/spf13/cobra"

	"omnichat/internal/api"
	"omnichat/internal/config"
	"omnichat/internal/models"
	"omnichat/internal/observability"
	"omnichat/internal/platform"
	"omnichat/internal/worker"
)

const shutdownTimeout = 10 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(false)
		if err != nil {
			return err
		}
		return runServe(cmd.Context(), cfg)
	},
}

func runServe(parent context.Context, cfg *config.Config) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	logCloser, err := observability.InitLogger(observability.LogOptions{
		File:  cfg.BasicConfig.LogFile,
		Level: cfg.BasicConfig.LogLevel,
	})
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer logCloser.Close()

	shutdownTelemetry, err := observability.InitTelemetry(ctx, cfg.BasicConfig.TelemetryDir)
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer shutdownTelemetry()

	srv, err := newServer(ctx, cfg)
	if err != nil {
		return err
	}
	defer srv.Close()

	httpServer := &http.Server{
		Addr:    cfg.BasicConfig.ServerAddress,
		Handler: srv.router,
	}
	errCh := make(chan error, 1)
	go func() {
		observability.Logger().Info("server listening", "addr", httpServer.Addr)
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server stopped: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	observability.Logger().Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return httpServer.Shutdown(shutdownCtx)
}

// server is the assembled HTTP shell with its background jobs.
type server struct {
	backend *backend
	manager *worker.Manager
	router  *gin.Engine
}

func newServer(ctx context.Context, cfg *config.Config) (*server, error) {
	b, err := openBackend(ctx, cfg)
	if err != nil {
		return nil, err
	}

	options, err := b.inference.ListModels(ctx)
	if err != nil {
		observability.Logger().Warn("remote model list unavailable, using bundled catalog", "error", err)
		options = nil
	}

	basic := cfg.BasicConfig
	workerOpts := []worker.Option{worker.WithModels(options)}
	if b.rdb != nil {
		workerOpts = append(workerOpts, worker.WithRedis(b.rdb))
	}
	manager := worker.NewManager(userServices(b), worker.DispatcherConfig{
		MinWorkers:  basic.MinWorkers,
		MaxWorkers:  basic.MaxWorkers,
		QueueSize:   basic.QueueSize,
		IdleTimeout: time.Duration(basic.WorkerIdleTimeout) * time.Minute,
	}, workerOpts...)

	idle := time.Duration(basic.WorkerIdleTimeout) * time.Minute
	manager.StartEviction(ctx, idle, idle)
	clean := time.Duration(basic.UploadCleanPeriod) * time.Minute
	b.files.StartJanitor(ctx, time.Duration(basic.UploadTTL)*time.Minute, clean)
	go cleanupTokens(ctx, b, clean)

	router := gin.New()
	router.Use(gin.Recovery())
	api.NewHandler(b.auth, manager, options).RegisterRoutes(router)

	return &server{backend: b, manager: manager, router: router}, nil
}

func (s *server) Close() {
	s.manager.Close()
	s.backend.Close()
}

// userServices builds a user's services from the account the auth middleware
// already resolved.
func userServices(b *backend) worker.ServicesFactory {
	return func(ctx context.Context, user models.User) (platform.Services, error) {
		id, err := models.ParseUID(user.UID)
		if err != nil {
			return platform.Services{}, fmt.Errorf("invalid uid %q: %w", user.UID, err)
		}
		account, err := b.auth.Account(ctx, id)
		if err != nil {
			return platform.Services{}, err
		}
		return b.services(b.auth.AccountIdentity(account, ""), user.UID), nil
	}
}

func cleanupTokens(ctx context.Context, b *backend, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := b.auth.CleanupExpiredTokens(ctx)
			if err != nil {
				observability.Logger().Warn("token cleanup failed", "error", err)
				continue
			}
			if n > 0 {
				observability.Logger().Info("expired tokens removed", "count", n)
			}
		}
	}
}
