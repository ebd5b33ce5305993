package httpserver

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	_ "ngpt-server/docs/swagger"
	"ngpt-server/internal/config"
	"ngpt-server/internal/interfaces/httpserver/middlewares"
	"ngpt-server/internal/interfaces/httpserver/routes"
)

// ReadinessChecker reports whether a dependency can serve traffic.
type ReadinessChecker interface {
	Ready() bool
}

// HTTPServer is the relay's HTTP front.
type HTTPServer struct {
	cfg        *config.Config
	engine     *gin.Engine
	log        zerolog.Logger
	relayRoute *routes.RelayRoute
	readiness  []ReadinessChecker
}

// New builds the engine. Nil readiness checkers are skipped.
func New(cfg *config.Config, log zerolog.Logger, relayRoute *routes.RelayRoute, readiness ...ReadinessChecker) *HTTPServer {
	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	engine := gin.New()
	engine.Use(middlewares.Recovery(log))
	engine.Use(middlewares.RequestID())
	engine.Use(middlewares.Tracing(cfg.ServiceName))
	engine.Use(middlewares.Metrics())
	engine.Use(middlewares.CORS(cfg.CORSAllowedOrigins))
	engine.Use(middlewares.RequestLogger(log))

	checkers := make([]ReadinessChecker, 0, len(readiness))
	for _, checker := range readiness {
		if checker != nil {
			checkers = append(checkers, checker)
		}
	}

	server := &HTTPServer{
		cfg:        cfg,
		engine:     engine,
		log:        log,
		relayRoute: relayRoute,
		readiness:  checkers,
	}
	server.registerCoreRoutes()
	server.bindSwagger()
	relayRoute.RegisterRouter(engine)

	return server
}

// Handler exposes the engine, mostly for tests.
func (s *HTTPServer) Handler() http.Handler {
	return s.engine
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *HTTPServer) Run(ctx context.Context) error {
	server := &http.Server{
		Addr:    s.cfg.Addr(),
		Handler: s.engine,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info().Str("addr", s.cfg.Addr()).Msg("HTTP server listening")
		err := server.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error().Err(err).Msg("HTTP server error")
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case <-ctx.Done():
		s.log.Info().Msg("context cancelled, shutting down HTTP server")
	case err := <-errCh:
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

func (s *HTTPServer) bindSwagger() {
	s.engine.GET("/api/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
}

func (s *HTTPServer) registerCoreRoutes() {
	s.engine.GET("/", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"service": s.cfg.ServiceName,
			"status":  "ok",
		})
	})

	s.engine.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "healthy"})
	})

	s.engine.GET("/readyz", func(c *gin.Context) {
		for _, checker := range s.readiness {
			if !checker.Ready() {
				c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not ready"})
				return
			}
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	})

	s.engine.GET("/metrics", gin.WrapH(promhttp.Handler()))
}
