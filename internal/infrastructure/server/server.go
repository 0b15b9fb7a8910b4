package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	apihttp "github.com/GriffinCanCode/addonhost/backend/internal/api/http"
	"github.com/GriffinCanCode/addonhost/backend/internal/api/middleware"
	"github.com/GriffinCanCode/addonhost/backend/internal/api/ws"
	"github.com/GriffinCanCode/addonhost/backend/internal/domain/addonstore"
	"github.com/GriffinCanCode/addonhost/backend/internal/domain/inspector"
	"github.com/GriffinCanCode/addonhost/backend/internal/domain/navigation"
	"github.com/GriffinCanCode/addonhost/backend/internal/domain/pipeline"
	"github.com/GriffinCanCode/addonhost/backend/internal/domain/risk"
	"github.com/GriffinCanCode/addonhost/backend/internal/domain/runtime"
	"github.com/GriffinCanCode/addonhost/backend/internal/domain/staging"
	"github.com/GriffinCanCode/addonhost/backend/internal/infrastructure/config"
	"github.com/GriffinCanCode/addonhost/backend/internal/infrastructure/logging"
	"github.com/GriffinCanCode/addonhost/backend/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/addonhost/backend/internal/infrastructure/sandbox"
	"github.com/GriffinCanCode/addonhost/backend/internal/infrastructure/storage"
	"github.com/GriffinCanCode/addonhost/backend/internal/shared/paths"
)

// Server wraps the HTTP server and dependencies
type Server struct {
	router      *gin.Engine
	httpServer  *http.Server
	store       storage.Store
	registry    *runtime.Registry
	pipeline    *pipeline.Pipeline
	nav         *navigation.Host
	modules     *runtime.StaticLoader
	storeClient *addonstore.Client
	logger      *logging.Logger
	config      *config.Config
	metrics     *monitoring.Metrics
}

// NewServer creates a new server instance
func NewServer(cfg *config.Config, logger *logging.Logger) (*Server, error) {
	if logger == nil {
		logger = logging.NewDefault()
	}
	logger.Info("Initializing add-on host",
		zap.String("port", cfg.Server.Port),
		zap.String("data_dir", cfg.Addons.DataDir),
		zap.String("store_driver", cfg.Addons.StoreDriver),
		zap.Bool("remote_store", cfg.Store.URL != ""),
	)

	// Metrics first; every other component reports to it
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := monitoring.NewMetrics(reg)

	layout := paths.New(cfg.Addons.DataDir)
	if err := layout.Ensure(); err != nil {
		return nil, fmt.Errorf("failed to prepare data dir: %w", err)
	}

	store, err := storage.Open(storage.Driver(cfg.Addons.StoreDriver), layout, logger.Component("storage"))
	if err != nil {
		return nil, fmt.Errorf("failed to open add-on store: %w", err)
	}

	srv, err := assemble(cfg, logger, metrics, layout, store)
	if err != nil {
		if cerr := store.Close(); cerr != nil {
			err = multierr.Append(err, cerr)
		}
		return nil, err
	}
	logger.Info("Server initialized successfully")
	return srv, nil
}

func assemble(cfg *config.Config, logger *logging.Logger, metrics *monitoring.Metrics, layout paths.Layout, store storage.Store) (*Server, error) {
	limits := inspector.DefaultLimits()
	limits.MaxPackageSize = cfg.MaxPackageBytes()
	if limits.MaxExpanded < 4*limits.MaxPackageSize {
		limits.MaxExpanded = 4 * limits.MaxPackageSize
	}
	insp, err := inspector.New(inspector.Config{
		HostVersion:   cfg.Addons.HostVersion,
		SDKConstraint: cfg.Addons.SDKConstraint,
		Limits:        limits,
	}, logger.Component("inspector"))
	if err != nil {
		return nil, fmt.Errorf("failed to create inspector: %w", err)
	}

	area, err := staging.New(layout.StagingDir(), insp, logger.Component("staging"))
	if err != nil {
		return nil, fmt.Errorf("failed to create staging area: %w", err)
	}

	nav := navigation.NewHost(logger.Component("navigation"))

	sandboxCfg := sandbox.DefaultConfig()
	sandboxCfg.Timeout = cfg.Addons.InitTimeout
	if cfg.Addons.ScriptMaxStack > 0 {
		sandboxCfg.MaxCallStackSize = cfg.Addons.ScriptMaxStack
	}
	modules := runtime.NewStaticLoader()
	loader := runtime.ChainLoader{modules, sandbox.NewScriptLoader(sandboxCfg, logger.Component("sandbox"))}

	registry := runtime.New(store, nav, loader, logger.Component("runtime"))
	registry.SetObserver(metrics)

	var storeClient *addonstore.Client
	if cfg.Store.URL != "" {
		storeCfg := addonstore.DefaultConfig(cfg.Store.URL)
		storeCfg.Timeout = cfg.Store.Timeout
		storeCfg.RateLimit = cfg.Store.RPS
		storeCfg.MaxRetries = cfg.Store.MaxRetries
		storeCfg.MaxDownloadSize = cfg.MaxPackageBytes()
		storeClient, err = addonstore.New(storeCfg, logger.Component("addonstore"))
		if err != nil {
			return nil, fmt.Errorf("failed to create store client: %w", err)
		}
		storeClient.SetObserver(metrics)
	}

	opts := pipeline.Options{
		Inspector:  insp,
		Classifier: risk.NewClassifier(risk.DefaultTable),
		Staging:    area,
		Store:      store,
		Runtime:    registry,
		Layout:     layout,
		Observer:   metrics,
		Logger:     logger.Component("pipeline"),
	}
	// a nil *Client must not become a non-nil interface
	if storeClient != nil {
		opts.Downloader = storeClient
	}
	pl, err := pipeline.New(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to create install pipeline: %w", err)
	}

	router := newRouter(cfg, logger, metrics)

	handlers := apihttp.NewHandlers(apihttp.Deps{
		Pipeline:        pl,
		Registry:        registry,
		Store:           store,
		Navigation:      nav,
		Classifier:      opts.Classifier,
		StoreClient:     storeClient,
		Metrics:         metrics,
		MaxPackageBytes: cfg.MaxPackageBytes(),
		Logger:          logger.Logger,
	})
	handlers.Register(router)

	wsHandler := ws.NewHandler(nav, metrics, logger.Component("ws"))
	router.GET("/stream", wsHandler.HandleConnection)
	router.GET("/metrics", gin.WrapH(metrics.Handler()))

	return &Server{
		router: router,
		httpServer: &http.Server{
			Addr:    net.JoinHostPort(cfg.Server.Host, cfg.Server.Port),
			Handler: router,
		},
		store:       store,
		registry:    registry,
		pipeline:    pl,
		nav:         nav,
		modules:     modules,
		storeClient: storeClient,
		logger:      logger,
		config:      cfg,
		metrics:     metrics,
	}, nil
}

func newRouter(cfg *config.Config, logger *logging.Logger, metrics *monitoring.Metrics) *gin.Engine {
	if !cfg.Logging.Development {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()

	router.Use(gin.Recovery())
	router.Use(middleware.RequestID())
	router.Use(middleware.Logger(logger.Component("http")))
	router.Use(monitoring.Middleware(metrics))

	corsCfg := middleware.DefaultCORSConfig()
	if len(cfg.Server.CORSOrigins) > 0 {
		corsCfg.AllowOrigins = cfg.Server.CORSOrigins
	}
	router.Use(middleware.CORS(corsCfg))

	if cfg.RateLimit.Enabled {
		logger.Info("Rate limiting enabled",
			zap.Int("rps", cfg.RateLimit.RequestsPerSecond),
			zap.Int("burst", cfg.RateLimit.Burst),
		)
		rl := middleware.DefaultRateLimitConfig()
		rl.RequestsPerSecond = cfg.RateLimit.RequestsPerSecond
		rl.Burst = cfg.RateLimit.Burst
		router.Use(middleware.RateLimit(rl))
	}
	return router
}

// Modules returns the loader for add-ons compiled into the host. Register
// built-in modules before Start.
func (s *Server) Modules() *runtime.StaticLoader {
	return s.modules
}

// Router returns the HTTP handler
func (s *Server) Router() http.Handler {
	return s.router
}

// Start loads every enabled add-on when configured to, then installs the
// bundled packages of the seed directory
func (s *Server) Start(ctx context.Context) error {
	if s.config.Addons.ReloadOnStart {
		report, err := s.pipeline.ReloadAll(ctx)
		if err != nil {
			return err
		}
		if report.Aborted != nil {
			return report.Aborted
		}
		if report.StoreErr != nil {
			return fmt.Errorf("failed to read installed add-ons: %w", report.StoreErr)
		}
		for addonID, err := range report.Failures {
			s.logger.Warn("Add-on disabled after failing to load",
				zap.String("addon_id", addonID), zap.Error(err))
		}
	}
	if s.config.Addons.SeedDir != "" {
		if _, err := pipeline.NewSeeder(s.pipeline, s.config.Addons.SeedDir).Seed(ctx); err != nil {
			return fmt.Errorf("failed to seed bundled add-ons: %w", err)
		}
	}
	return nil
}

// Run starts the HTTP server and blocks until it stops
func (s *Server) Run() error {
	s.logger.Info("Starting HTTP server", zap.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Close gracefully shuts down the server
func (s *Server) Close(ctx context.Context) error {
	s.logger.Info("Shutting down server...")

	var errs error
	if err := s.httpServer.Shutdown(ctx); err != nil {
		errs = multierr.Append(errs, fmt.Errorf("http shutdown: %w", err))
	}
	s.registry.Close(ctx)
	if err := s.store.Close(); err != nil {
		errs = multierr.Append(errs, fmt.Errorf("close store: %w", err))
	}

	// Sync logger before exit
	_ = s.logger.Sync()
	return errs
}
