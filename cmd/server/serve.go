package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/collabforge/colabhub/internal/aiintegrator"
	"github.com/collabforge/colabhub/internal/aiqueue"
	"github.com/collabforge/colabhub/internal/broadcast"
	"github.com/collabforge/colabhub/internal/config"
	"github.com/collabforge/colabhub/internal/document"
	"github.com/collabforge/colabhub/internal/hub"
	"github.com/collabforge/colabhub/internal/httpapi"
	"github.com/collabforge/colabhub/internal/session"
	"github.com/collabforge/colabhub/pkg/cache"
	"github.com/collabforge/colabhub/pkg/logger"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the collaborative editing server",
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	if cfg.LogLevel != "" {
		_ = os.Setenv("LOG_LEVEL", cfg.LogLevel)
	}
	if cfg.LogFile != "" {
		_ = os.Setenv("LOG_FILE", cfg.LogFile)
	}
	logger.Init()
	defer logger.Sync()

	logger.Info("colabhub-server %s starting", version)
	logger.Info("redis: %s (db %d)", cfg.RedisAddr, cfg.RedisDB)

	c := cache.New(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	defer c.Close()

	docs := document.NewStore(c, cfg.MaxOperationHistory, cfg.DocumentTTL)
	sessions := session.NewStore(c, cfg.SessionTimeout)
	b := broadcast.New(docs, cfg.BroadcastBufferSize)

	completer := aiqueue.NewHTTPCompleter(cfg.AICompleterEndpoint, cfg.AICompleterAPIKey, cfg.CompleterRetryDelay, cfg.MaxRetries)

	queue := aiqueue.New(c, completer, aiqueue.Config{
		MaxConcurrentRequests:      cfg.MaxConcurrentRequests,
		RequestTimeout:             cfg.RequestTimeout,
		RateLimitPerUserPerMinute:  cfg.RateLimitPerUserPerMinute,
		RetryDelay:                 cfg.RetryDelay,
		MaxRetries:                 cfg.MaxRetries,
		EnableRequestDeduplication: cfg.EnableRequestDeduplication,
		EnableResponseCaching:      cfg.EnableResponseCaching,
		CacheTTL:                   cfg.CacheTTL,
	})
	queue.Start()
	defer queue.Stop()

	integrator := aiintegrator.New(docs, queue, b, cfg.EnableStatusTracking, cfg.EnableUserNotifications, cfg.MaxProcessingTime)

	h := hub.New(docs, sessions, b, integrator, cfg.WSReadTimeout, cfg.WSWriteTimeout)

	httpSrv := httpapi.New(h, docs, sessions, queue, completer, c, version)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go runSweeper(ctx, docs, sessions, integrator, cfg.SweepInterval)

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: httpSrv.Engine(),
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("listening on :%s", cfg.Port)
		serveErr <- srv.ListenAndServe()
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serveErr:
		if err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("listen: %w", err)
		}
	case <-sigChan:
		logger.Info("shutting down...")
		cancel()

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("graceful shutdown failed: %v", err)
		}
	}

	return nil
}

// runSweeper periodically evicts idle sessions and documents and drops
// stale tracked AI statuses, mirroring the teacher's StartCleaner ticker.
func runSweeper(ctx context.Context, docs *document.Store, sessions *session.Store, integrator *aiintegrator.Integrator, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			expired := sessions.SweepIdle(ctx)
			for _, sess := range expired {
				logger.Debug("sweeper: session %s idle-expired for user %s", sess.ID, sess.UserID)
			}

			evicted := docs.SweepIdle(interval * 10)
			for _, id := range evicted {
				logger.Debug("sweeper: document %s evicted (idle, no collaborators)", id)
			}

			integrator.Cleanup()
		}
	}
}
