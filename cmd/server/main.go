package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"

	"drivepaddy/internal/alert"
	"drivepaddy/internal/classifier"
	"drivepaddy/internal/config"
	"drivepaddy/internal/database"
	"drivepaddy/internal/detection"
	"drivepaddy/internal/emitter"
	"drivepaddy/internal/handlers"
	"drivepaddy/internal/landmarks"
	"drivepaddy/internal/services"
	"drivepaddy/internal/vision"
	"drivepaddy/pkg/pb"
)

const version = "1.0.0"

func main() {
	cfg := config.LoadConfig()
	flag.StringVar(&cfg.HTTPPort, "http-port", cfg.HTTPPort, "HTTP port")
	flag.StringVar(&cfg.GRPCPort, "grpc-port", cfg.GRPCPort, "gRPC port")
	flag.StringVar(&cfg.SidecarURL, "sidecar-url", cfg.SidecarURL, "ML sidecar address")
	flag.StringVar(&cfg.DetectionConfigPath, "detection-config", cfg.DetectionConfigPath, "detection config YAML")
	flag.Parse()

	logger, err := newLogger(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	for _, w := range cfg.Warnings() {
		logger.Warn(w)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Fatal("server failed", zap.Error(err))
	}
	logger.Info("goodbye")
}

func newLogger(cfg *config.Config) (*zap.Logger, error) {
	zcfg := zap.NewProductionConfig()
	if cfg.IsDev() {
		zcfg = zap.NewDevelopmentConfig()
	}
	level, err := zap.ParseAtomicLevel(cfg.LogLevel)
	if err != nil {
		return nil, err
	}
	zcfg.Level = level
	return zcfg.Build()
}

func run(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	logger.Info("starting",
		zap.String("grpc_port", cfg.GRPCPort),
		zap.String("http_port", cfg.HTTPPort),
		zap.String("sidecar", cfg.SidecarURL),
		zap.String("environment", cfg.Environment),
	)

	detectionCfg, watcher, err := loadDetection(cfg.DetectionConfigPath, logger)
	if err != nil {
		return err
	}

	var store *database.Store
	if cfg.DBDriver != "none" {
		db, err := database.Open(ctx, cfg.DBDriver, cfg.DSN(), logger.Named("db"))
		if err != nil {
			return fmt.Errorf("database %s: %w", cfg.DSNForLog(), err)
		}
		defer db.Close()
		store = database.NewStore(db)
	}

	var sidecar *services.SidecarClient
	if cfg.SidecarURL != "" {
		sidecar, err = services.NewSidecarClient(cfg.SidecarURL, cfg.MaxMessageSize(), logger.Named("sidecar"))
		if err != nil {
			return err
		}
		defer sidecar.Close()
	}

	var locator landmarks.Locator
	if cfg.FaceCascadePath != "" {
		cascade, err := vision.NewCascadeLocator(cfg.FaceCascadePath, detectionCfg().Model.FaceMargin)
		if err != nil {
			return err
		}
		defer cascade.Close()
		locator = cascade
	}

	var pubs []services.Publisher
	if cfg.MQTTBroker != "" {
		mq, err := emitter.Connect(cfg.MQTTBroker, cfg.MQTTClientID, cfg.MQTTTopicPrefix, logger)
		if err != nil {
			logger.Warn("mqtt unavailable, continuing without it", zap.Error(err))
		} else {
			defer mq.Close()
			pubs = append(pubs, mq)
		}
	}

	factory := detectorFactory(sidecar, locator, cfg.SidecarTimeout, logger)
	manager := services.NewManager(services.ManagerConfig{
		Detection:      detectionCfg,
		NewDetector:    factory,
		Producer:       alert.LoadStaticProducer(detectionCfg().Alerting.SoundPath, logger.Named("alert")),
		Store:          store,
		Publishers:     pubs,
		FrameRate:      float64(cfg.FrameRateFPS),
		FrameBurst:     cfg.FrameBurst,
		MaxSessions:    cfg.MaxSessions,
		IdleTimeout:    cfg.SessionIdleTime,
		MaxFramePixels: cfg.MaxFramePixels,
	}, logger)

	hub := handlers.NewHub(manager, logger)
	manager.AddPublisher(hub)

	var health handlers.HealthChecker
	if sidecar != nil {
		health = sidecar
	}
	api := handlers.NewAPI(manager, health, hub, cfg.CORSOrigins, version, logger)

	grpcServer := grpc.NewServer(
		grpc.MaxRecvMsgSize(cfg.MaxMessageSize()),
		grpc.MaxSendMsgSize(cfg.MaxMessageSize()),
	)
	pb.RegisterDrowsinessDetectionServer(grpcServer, handlers.NewGRPCHandler(manager, health, logger))

	httpServer := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      api.Routes(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return startGRPCServer(grpcServer, cfg.GRPCPort, logger) })
	g.Go(func() error { return startHTTPServer(httpServer, logger) })
	g.Go(func() error { return manager.Run(gctx) })
	if watcher != nil {
		g.Go(func() error { return watcher.Run(gctx) })
	}
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		shutdown(httpServer, grpcServer, hub, logger)
		return manager.Close(context.Background())
	})
	return g.Wait()
}

// loadDetection returns the current detection config source. Without a
// config file the built-in defaults are used and nothing is watched.
func loadDetection(path string, logger *zap.Logger) (func() *config.DetectionConfig, *config.Watcher, error) {
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		logger.Warn("detection config not found, using defaults", zap.String("path", path))
		defaults := config.DefaultDetection()
		return func() *config.DetectionConfig { return defaults }, nil, nil
	}
	w, err := config.NewWatcher(path, logger.Named("config"))
	if err != nil {
		return nil, nil, fmt.Errorf("detection config: %w", err)
	}
	w.OnChange(func(c *config.DetectionConfig) {
		logger.Info("new sessions will use the reloaded detection config", zap.String("strategy", c.Strategy))
	})
	logger.Info("detection config loaded", zap.String("path", path), zap.String("strategy", w.Current().Strategy))
	return w.Current, w, nil
}

// detectorFactory builds one detector per session from the config snapshot.
func detectorFactory(sidecar *services.SidecarClient, locator landmarks.Locator, timeout time.Duration, logger *zap.Logger) services.DetectorFactory {
	var provider landmarks.Provider
	if sidecar != nil {
		provider = landmarks.NewRemote(sidecar.Conn(), timeout)
	}

	return func(ctx context.Context, cfg *config.DetectionConfig) (detection.Processor, error) {
		var loader classifier.Loader
		switch cfg.Model.Backend {
		case config.BackendRemote:
			if sidecar != nil {
				loader = classifier.RemoteLoader(sidecar.Conn(), timeout)
			}
		case config.BackendWorker:
			loader = classifier.WorkerLoader(classifier.WorkerConfig{
				Command:   cfg.Model.WorkerCommand,
				Args:      cfg.Model.WorkerArgs,
				ModelPath: cfg.Model.ModelPath,
			}, logger.Named("worker"))
		}

		b := detection.NewBuilder(cfg).WithLoader(loader).WithLogger(logger)
		if provider != nil {
			b = b.WithLandmarks(provider)
		}
		if locator != nil {
			b = b.WithLocator(locator)
		}
		return b.Build(ctx)
	}
}

func startGRPCServer(srv *grpc.Server, port string, logger *zap.Logger) error {
	lis, err := net.Listen("tcp", ":"+port)
	if err != nil {
		return fmt.Errorf("listen on gRPC port %s: %w", port, err)
	}
	logger.Info("gRPC server listening", zap.String("port", port))
	if err := srv.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
		return fmt.Errorf("serve gRPC: %w", err)
	}
	return nil
}

func startHTTPServer(srv *http.Server, logger *zap.Logger) error {
	logger.Info("HTTP server listening",
		zap.String("addr", srv.Addr),
		zap.String("websocket", "/ws"),
		zap.String("rest", "/api/*"),
	)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("serve HTTP: %w", err)
	}
	return nil
}

func shutdown(httpServer *http.Server, grpcServer *grpc.Server, hub *handlers.Hub, logger *zap.Logger) {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	stopped := make(chan struct{})
	go func() {
		grpcServer.GracefulStop()
		close(stopped)
	}()
	select {
	case <-stopped:
		logger.Info("gRPC server stopped")
	case <-shutdownCtx.Done():
		logger.Warn("forced gRPC shutdown")
		grpcServer.Stop()
	}

	hub.Close()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("HTTP shutdown", zap.Error(err))
	} else {
		logger.Info("HTTP server stopped")
	}
}
