package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"forgecli/internal/config"
	"forgecli/internal/infrastructure"
	"forgecli/internal/license"
	"forgecli/internal/services"
	httptransport "forgecli/internal/transport/http"
)

// Version is the build version, set via -ldflags at release time.
var Version = "dev"

// Application owns the wired entitlement core and the local status server.
type Application struct {
	config    *config.Config
	logger    *slog.Logger
	otel      *infrastructure.OTelProviders
	evaluator *license.Evaluator
	engine    *license.Engine
	service   *services.LicenseService
	server    *http.Server
}

// NewApplication loads configuration and wires every component. Construction
// fails on invalid config, an unparsable signing key or an untrusted verifier
// URL, before any license decision is attempted.
func NewApplication() (*Application, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load configuration: %w", err)
	}

	logger, err := infrastructure.InitializeLogger(cfg.Logging)
	if err != nil {
		return nil, fmt.Errorf("initialize logger: %w", err)
	}

	otelProviders, err := infrastructure.InitializeOTel(logger, cfg.Telemetry)
	if err != nil {
		return nil, fmt.Errorf("initialize telemetry: %w", err)
	}

	validator, err := buildValidator(cfg.License)
	if err != nil {
		return nil, fmt.Errorf("build license validator: %w", err)
	}

	evaluator := license.NewEvaluator(validator, license.EvaluatorConfig{
		LicensePath: cfg.License.LicensePath,
		Logger:      logger,
	})

	cachePath, err := cfg.License.ResolveCachePath()
	if err != nil {
		return nil, fmt.Errorf("resolve verification cache path: %w", err)
	}
	cache := license.NewVerificationCache(cachePath, license.WithCacheLogger(logger))

	metrics, err := license.InitializeMetrics(otelProviders.Meter(license.MeterName))
	if err != nil {
		logger.Warn("license metrics unavailable", slog.String("error", err.Error()))
	} else {
		metrics.Tracer = otelProviders.Tracer(license.MeterName)
		evaluator.SetMetrics(metrics)
	}

	var remote license.RemoteVerifier
	if cfg.License.VerifierURL != "" {
		client, err := license.NewClient(license.ClientConfig{
			BaseURL:     cfg.License.VerifierURL,
			Environment: cfg.License.Environment,
			Timeout:     cfg.License.Timeout(),
			Retries:     cfg.License.VerifyRetries,
			Logger:      logger,
		})
		if err != nil {
			return nil, fmt.Errorf("build verifier client: %w", err)
		}
		if metrics != nil {
			client.SetMetrics(metrics)
		}
		remote = client
	}

	engine := license.NewEngine(evaluator, remote, cache, license.EngineConfig{
		TierUnificationOverride: cfg.License.TierUnificationOverride,
		Logger:                  logger,
	})
	if metrics != nil {
		engine.SetMetrics(metrics)
	}

	service := services.NewLicenseService(evaluator, engine, logger)

	router := httptransport.NewRouter(httptransport.RouterConfig{
		LicenseService: service,
		Registry:       otelProviders.Registry,
		Logger:         logger,
		Version:        Version,
	})

	server := &http.Server{
		Addr:         fmt.Sprintf("localhost:%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	return &Application{
		config:    cfg,
		logger:    logger,
		otel:      otelProviders,
		evaluator: evaluator,
		engine:    engine,
		service:   service,
		server:    server,
	}, nil
}

// buildValidator selects the signing mode from configuration. A configured
// dev secret selects HS256, which NewValidator rejects without the explicit
// allow_symmetric opt-in.
func buildValidator(cfg config.LicenseConfig) (*license.Validator, error) {
	vcfg := license.ValidatorConfig{
		Issuer:   cfg.Issuer,
		Audience: cfg.Audience,
	}
	if cfg.SymmetricSecret != "" {
		vcfg.Algorithm = license.AlgorithmHS256
		vcfg.SymmetricSecret = []byte(cfg.SymmetricSecret)
		vcfg.AllowSymmetric = cfg.AllowSymmetric
	} else {
		pem, err := cfg.PublicKeyPEM()
		if err != nil {
			return nil, err
		}
		vcfg.Algorithm = license.AlgorithmRS256
		vcfg.PublicKeyPEM = pem
	}
	return license.NewValidator(vcfg)
}

// Run computes the effective startup tier, then serves the local status API
// until the context is cancelled or a shutdown signal arrives.
func (a *Application) Run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = infrastructure.EnsureTraceID(ctx)

	var requested license.Tier
	if a.config.License.Tier != "" {
		parsed, err := license.ParseTier(a.config.License.Tier)
		if err != nil {
			return err
		}
		requested = parsed
	}

	tier, warning, err := a.engine.EffectiveTierForStartup(ctx, requested)
	if err != nil {
		return err
	}
	if warning != "" {
		a.logger.WarnContext(ctx, "license warning", slog.String("warning", warning))
	}
	a.logger.InfoContext(ctx, "startup tier resolved",
		slog.String("tier", string(tier)),
		slog.Bool("remote_configured", a.engine.RemoteConfigured()))

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		a.logger.InfoContext(gctx, "status server listening", slog.String("addr", a.server.Addr))
		if err := a.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("status server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), a.config.Server.ShutdownTimeout)
		defer cancel()
		return a.server.Shutdown(shutdownCtx)
	})

	err = g.Wait()

	otelCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if serr := a.otel.Shutdown(otelCtx); serr != nil {
		a.logger.Warn("telemetry shutdown failed", slog.String("error", serr.Error()))
	}
	if cerr := infrastructure.CloseLogFile(); cerr != nil {
		a.logger.Warn("log file close failed", slog.String("error", cerr.Error()))
	}
	return err
}
