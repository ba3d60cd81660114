package app

import (
	"context"
	"fmt"
	"os"
	"time"

	"gorm.io/gorm"

	"github.com/yungbote/docqa-backend/internal/data/db"
	docqahttp "github.com/yungbote/docqa-backend/internal/http"
	"github.com/yungbote/docqa-backend/internal/observability"
	"github.com/yungbote/docqa-backend/internal/platform/logger"
	"github.com/yungbote/docqa-backend/internal/storage"
	"github.com/yungbote/docqa-backend/internal/vector"
)

const shutdownGrace = 10 * time.Second

type App struct {
	Log      *logger.Logger
	DB       *gorm.DB
	Cfg      Config
	Repos    Repos
	Clients  Clients
	Services Services
	Store    vector.Store
	Metrics  *observability.Metrics

	server       *docqahttp.Server
	otelShutdown func(context.Context) error
}

func New() (*App, error) {
	logMode := os.Getenv("LOG_MODE")
	if logMode == "" {
		logMode = "prod"
	}
	log, err := logger.New(logMode)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}

	log.Info("Loading environment variables...")
	cfg := LoadConfig(log)

	otelShutdown := observability.InitOTel(context.Background(), log, observability.OtelConfig{
		ServiceName: "docqa-backend",
	})
	var metrics *observability.Metrics
	if observability.Enabled() {
		metrics = observability.NewMetrics()
	}

	database, err := db.New(log)
	if err != nil {
		log.Sync()
		return nil, fmt.Errorf("init database: %w", err)
	}
	if err := database.AutoMigrateAll(); err != nil {
		log.Sync()
		return nil, fmt.Errorf("automigrate: %w", err)
	}
	gdb := database.DB()

	reposet := wireRepos(gdb, log)

	clientset, err := wireClients(cfg, log)
	if err != nil {
		log.Sync()
		return nil, err
	}

	files, err := storage.NewLocal(cfg.StorageDir, log)
	if err != nil {
		clientset.Close()
		log.Sync()
		return nil, fmt.Errorf("init storage: %w", err)
	}

	store := instrumentVectorStore(
		vector.NewStore(gdb, reposet.Fragment, clientset.Embedder.Dim(), log),
		metrics,
	)
	if err := store.Load(context.Background()); err != nil {
		clientset.Close()
		log.Sync()
		return nil, fmt.Errorf("load vector index: %w", err)
	}
	log.Info("Vector index loaded", "size", store.Size(), "dim", store.Dim())

	serviceset, err := wireServices(gdb, store, files, clientset, reposet, cfg, log)
	if err != nil {
		clientset.Close()
		log.Sync()
		return nil, err
	}

	handlerset := wireHandlers(log, serviceset, store, clientset, cfg, metrics)
	server := wireRouter(cfg, log, metrics, handlerset)

	return &App{
		Log:          log,
		DB:           gdb,
		Cfg:          cfg,
		Repos:        reposet,
		Clients:      clientset,
		Services:     serviceset,
		Store:        store,
		Metrics:      metrics,
		server:       server,
		otelShutdown: otelShutdown,
	}, nil
}

// Run serves until the context is cancelled, then drains in-flight
// requests for up to shutdownGrace.
func (a *App) Run(ctx context.Context) error {
	if a == nil || a.server == nil {
		return fmt.Errorf("app not initialized")
	}
	a.Log.Info("Server starting", "addr", ":"+a.Cfg.Port)

	errCh := make(chan error, 1)
	go func() { errCh <- a.server.Run() }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		a.Log.Info("Shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		if err := a.server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown: %w", err)
		}
		return <-errCh
	}
}

func (a *App) Close() {
	if a == nil {
		return
	}
	a.Clients.Close()
	if a.otelShutdown != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = a.otelShutdown(ctx)
	}
	if a.Log != nil {
		a.Log.Sync()
	}
}
