package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"ngpt-server/internal/config"
	"ngpt-server/internal/domain"
	"ngpt-server/internal/domain/identity"
	"ngpt-server/internal/domain/relay"
	"ngpt-server/internal/domain/tokenizer"
	"ngpt-server/internal/infrastructure/auth"
	"ngpt-server/internal/infrastructure/inference"
	"ngpt-server/internal/infrastructure/logger"
	"ngpt-server/internal/infrastructure/observability"
	"ngpt-server/internal/interfaces/httpserver"
	"ngpt-server/internal/interfaces/httpserver/handlers/relayhandler"
	"ngpt-server/internal/interfaces/httpserver/routes"
	"ngpt-server/internal/utils/httpclients"
)

// Application holds the main application components.
type Application struct {
	httpServer *httpserver.HTTPServer
	gate       *auth.Gate
	log        zerolog.Logger
}

func NewApplication(httpServer *httpserver.HTTPServer, gate *auth.Gate, log zerolog.Logger) *Application {
	return &Application{
		httpServer: httpServer,
		gate:       gate,
		log:        log,
	}
}

// Start serves HTTP until ctx is cancelled and releases the key set refresher afterwards.
func (a *Application) Start(ctx context.Context) error {
	eg, ctx := errgroup.WithContext(ctx)

	eg.Go(func() error {
		return a.httpServer.Run(ctx)
	})
	eg.Go(func() error {
		<-ctx.Done()
		a.gate.Close()
		return nil
	})

	return eg.Wait()
}

// ProvideVerifier keeps a disabled gate a nil interface rather than a typed nil.
func ProvideVerifier(gate *auth.Gate) identity.Verifier {
	if gate == nil {
		return nil
	}
	return gate
}

// ProvideUpstream builds the completion client for the configured provider.
func ProvideUpstream(cfg *config.Config, log zerolog.Logger) relay.Upstream {
	const clientName = "openai-completions"
	return inference.NewCompletionClient(
		httpclients.NewClient(clientName, log),
		clientName,
		cfg.OpenAIBaseURL,
		cfg.OpenAIAPIKey,
		cfg.UpstreamIdleTimeout,
		log,
	)
}

// ProvideHTTPServer reports the gate's key set health on /readyz.
func ProvideHTTPServer(cfg *config.Config, log zerolog.Logger, relayRoute *routes.RelayRoute, gate *auth.Gate) *httpserver.HTTPServer {
	if gate == nil {
		return httpserver.New(cfg, log, relayRoute)
	}
	return httpserver.New(cfg, log, relayRoute, gate)
}

func main() {
	loadEnvFiles()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTelemetry, err := observability.Setup(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize observability")
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		if err := shutdownTelemetry(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("failed to shutdown telemetry")
		}
	}()

	gate, err := auth.ProvideGate(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize access gate")
	}

	estimator, err := tokenizer.NewEstimator(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize token estimator")
	}

	relayService := domain.ProvideRelayService(
		cfg,
		ProvideVerifier(gate),
		ProvideUpstream(cfg, log),
		domain.ProvideTrimmer(cfg, estimator, log),
		domain.ProvideModelProfiles(cfg),
		log,
	)

	relayRoute := routes.NewRelayRoute(relayhandler.NewRelayHandler(relayService, log))
	httpServer := ProvideHTTPServer(cfg, log, relayRoute, gate)

	app := NewApplication(httpServer, gate, log)

	log.Info().
		Str("service", cfg.ServiceName).
		Int("port", cfg.HTTPPort).
		Str("environment", cfg.Environment).
		Str("text_model", cfg.TextModel).
		Str("vision_model", cfg.VisionModel).
		Bool("auth_enabled", cfg.AuthEnabled).
		Msg("starting application")

	if err := app.Start(ctx); err != nil {
		log.Fatal().Err(err).Msg("application stopped with error")
	}

	log.Info().Msg("application exited cleanly")
}

func loadEnvFiles() {
	paths := []string{".env", "../.env", "../../.env"}
	for _, path := range paths {
		if _, err := os.Stat(path); err == nil {
			if err := godotenv.Overload(path); err != nil {
				fmt.Fprintf(os.Stderr, "warning: failed to load %s: %v\n", path, err)
			}
		}
	}
}
