package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"potholecam/internal/config"
	"potholecam/internal/logger"
	"potholecam/internal/metrics"
	"potholecam/internal/repository/sqlite"
	"potholecam/internal/route"
	"potholecam/internal/service"
	"potholecam/internal/service/ai"
	"potholecam/internal/service/storage"
	"potholecam/internal/service/websocket"
)

type App struct {
	config  *config.Config
	logger  *logger.Logger
	db      *sqlite.DB
	metrics *metrics.Metrics
	archive *storage.ArchiveService
	hub     *websocket.HubService
	manager *service.Manager
	server  *http.Server
}

func NewApp() (*App, error) {
	cfg := config.Load()
	log := logger.NewLogger(cfg)

	db, err := sqlite.New(cfg.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("opening archive database: %w", err)
	}
	frameRepo := sqlite.NewFrameRepository(db)
	detectionRepo := sqlite.NewDetectionRepository(db)

	m := metrics.New()
	archive := storage.NewArchiveService(cfg, log, frameRepo, detectionRepo)
	hub := websocket.NewHubService(log, m)
	client := ai.NewClient(cfg.RequestTimeout, cfg.JPEGQuality)
	mng := service.NewManager(cfg, client, archive, hub, sourceFactory(cfg, log), m, log)

	router := route.SetupRoutes(cfg, log, route.Deps{
		Manager:       mng,
		Hub:           hub,
		Metrics:       m,
		FrameRepo:     frameRepo,
		DetectionRepo: detectionRepo,
	})

	return &App{
		config:  cfg,
		logger:  log,
		db:      db,
		metrics: m,
		archive: archive,
		hub:     hub,
		manager: mng,
		server: &http.Server{
			Addr:              fmt.Sprintf(":%d", cfg.Port),
			Handler:           router,
			ReadHeaderTimeout: 10 * time.Second,
		},
	}, nil
}

// Run serves until ctx is cancelled, then shuts the server down and
// flushes the archive.
func (a *App) Run(ctx context.Context) error {
	defer a.db.Close()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	archiveDone := make(chan struct{})
	managerDone := make(chan struct{})

	go func() {
		a.archive.Run(ctx)
		close(archiveDone)
	}()
	go a.hub.Run(ctx)
	go func() {
		a.manager.Run(ctx)
		close(managerDone)
	}()

	fmt.Printf("🚀 Pothole Detection Server\n")
	fmt.Printf("📍 URL: http://localhost:%d\n", a.config.Port)
	fmt.Printf("🤖 Inference endpoint: %s\n", a.config.InferenceURL)
	fmt.Printf("📹 Capture source: %s\n", a.config.CaptureSource)
	fmt.Printf("📁 Images: %s\n", a.config.ImageDirectory)

	errCh := make(chan error, 1)
	go func() {
		errCh <- a.server.ListenAndServe()
	}()

	var err error
	select {
	case <-ctx.Done():
	case err = <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			err = nil
		}
	}

	shutdownCtx, stop := context.WithTimeout(context.Background(), 5*time.Second)
	defer stop()
	if serr := a.server.Shutdown(shutdownCtx); serr != nil {
		a.logger.Error("Error shutting down HTTP server: %v", serr)
	}

	cancel()
	<-managerDone
	<-archiveDone
	a.logger.Info("Server stopped")
	return err
}
