package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/noah-isme/sma-offline-core/internal/connectivity"
	"github.com/noah-isme/sma-offline-core/internal/localstore"
	"github.com/noah-isme/sma-offline-core/internal/remote"
	syncer "github.com/noah-isme/sma-offline-core/internal/sync"
	"github.com/noah-isme/sma-offline-core/pkg/config"
	"github.com/noah-isme/sma-offline-core/pkg/database"
	"github.com/noah-isme/sma-offline-core/pkg/logger"
)

// The offline agent owns the client's durable store and keeps it
// reconciled with the remote backend: it drains the sync queue on
// reconnect and on a timer, and serves a small admin surface for health,
// metrics and manual sync triggers.
func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logr, err := logger.New(cfg)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logr.Sync() //nolint:errcheck

	store, err := localstore.Acquire(cfg.LocalStore, logr)
	if err != nil {
		logr.Sugar().Fatalw("failed to open local store", "path", cfg.LocalStore.Path, "error", err)
	}
	defer store.Release() //nolint:errcheck

	remoteStore, err := buildRemote(cfg, logr)
	if err != nil {
		logr.Sugar().Fatalw("failed to configure remote store", "mode", cfg.Remote.Mode, "error", err)
	}

	conn := connectivity.NewMonitor(true)
	queue := syncer.NewQueue(store, logr)
	metrics := syncer.NewMetrics()
	reconciler := syncer.NewReconciler(queue, store, remoteStore, conn, syncer.ReconcilerConfig{
		Interval:      cfg.Sync.Interval,
		RemoteTimeout: cfg.Sync.RemoteTimeout,
	}, metrics, logr)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go reconciler.Run(ctx, conn.Subscribe())

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "online": conn.Online()})
	})
	r.GET("/metrics", gin.WrapH(metrics.Handler()))
	r.POST("/sync/kick", func(c *gin.Context) {
		reconciler.Kick()
		c.JSON(http.StatusAccepted, gin.H{"status": "queued"})
	})
	r.POST("/connectivity", func(c *gin.Context) {
		var req struct {
			Online bool `json:"online"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		conn.SetOnline(req.Online)
		c.JSON(http.StatusOK, gin.H{"online": req.Online})
	})

	srv := &http.Server{Addr: cfg.AdminAddr, Handler: r}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logr.Sugar().Infow("offline agent starting", "addr", cfg.AdminAddr, "remote_mode", cfg.Remote.Mode)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logr.Sugar().Fatalw("admin server failed", "error", err)
	}
}

func buildRemote(cfg *config.Config, logr *zap.Logger) (remote.Store, error) {
	switch cfg.Remote.Mode {
	case config.RemoteModePostgres:
		db, err := database.NewPostgres(cfg.Remote)
		if err != nil {
			return nil, err
		}
		return remote.NewPostgresStore(db, logr), nil
	case config.RemoteModeHTTP:
		if cfg.Remote.BaseURL == "" {
			return nil, fmt.Errorf("REMOTE_BASE_URL is required in http mode")
		}
		return remote.NewHTTPStore(cfg.Remote.BaseURL, cfg.Remote.APIKey, cfg.Remote.Timeout, logr), nil
	default:
		return nil, fmt.Errorf("unknown remote mode %q", cfg.Remote.Mode)
	}
}
