package main

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	ledgerconfig "github.com/Agihtaws/arbminidefi/config"
	"github.com/Agihtaws/arbminidefi/gateway/middleware"
	"github.com/Agihtaws/arbminidefi/observability/logging"
	telemetry "github.com/Agihtaws/arbminidefi/observability/otel"
	"github.com/Agihtaws/arbminidefi/services/ledgerd/config"
	"github.com/Agihtaws/arbminidefi/services/ledgerd/journal"
	"github.com/Agihtaws/arbminidefi/services/ledgerd/server"
)

func main() {
	var cfgPath string
	flag.StringVar(&cfgPath, "config", "ledgerd.yaml", "path to ledgerd config")
	flag.Parse()

	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	ledgerCfg, err := ledgerconfig.Load(cfg.LedgerConfig)
	if err != nil {
		log.Fatalf("load ledger config: %v", err)
	}

	env := strings.TrimSpace(os.Getenv("LEDGER_ENV"))
	logger, logCloser := logging.SetupWithOptions(logging.Options{
		Service:    "ledgerd",
		Env:        env,
		Level:      cfg.Log.Level,
		File:       cfg.Log.File,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAgeDays: cfg.Log.MaxAgeDays,
	})

	otlpEndpoint := strings.TrimSpace(os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"))
	otlpHeaders := telemetry.ParseHeaders(os.Getenv("OTEL_EXPORTER_OTLP_HEADERS"))
	insecure := true
	if value := strings.TrimSpace(os.Getenv("OTEL_EXPORTER_OTLP_INSECURE")); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			insecure = parsed
		}
	}
	shutdownTelemetry, err := telemetry.Init(context.Background(), telemetry.Config{
		ServiceName: "ledgerd",
		Environment: env,
		Endpoint:    otlpEndpoint,
		Insecure:    insecure,
		Headers:     otlpHeaders,
		Metrics:     cfg.Observability.Metrics,
		Traces:      cfg.Observability.Tracing,
		SampleRatio: cfg.Observability.SampleRatio,
		Ledger: telemetry.LedgerInfo{
			Owner:           ledgerCfg.Owner,
			CollateralMode:  ledgerCfg.Ledger.CollateralMode,
			OracleReference: ledgerCfg.Oracle.Reference,
			Store:           ledgerCfg.DataDir,
		},
	})
	if err != nil {
		log.Fatalf("init telemetry: %v", err)
	}

	code := 0
	if err := run(cfg, ledgerCfg, env, logger); err != nil {
		logger.Error("ledgerd stopped", slog.Any("error", err))
		code = 1
	}
	if shutdownTelemetry != nil {
		_ = shutdownTelemetry(context.Background())
	}
	_ = logCloser.Close()
	os.Exit(code)
}

func run(cfg config.Config, ledgerCfg *ledgerconfig.Config, env string, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	events, err := journal.Open(cfg.Journal.DSN, logger)
	if err != nil {
		return err
	}
	defer events.Close()
	logger.Info("event journal opened", logging.MaskURL("dsn", cfg.Journal.DSN))

	l, err := openLedger(ctx, ledgerCfg, events, logger)
	if err != nil {
		return err
	}
	defer l.Close()

	limits := make(map[string]middleware.RateLimit, len(cfg.RateLimits))
	for name, limit := range cfg.RateLimits {
		limits[name] = middleware.RateLimit{RequestsPerMinute: limit.RequestsPerMinute, Burst: limit.Burst}
	}
	srv := server.New(l.engine, events, logger)
	handler := srv.Router(server.RouterConfig{
		Authenticator: middleware.NewAuthenticator(middleware.AuthConfig{
			Enabled:       cfg.Auth.Enabled,
			HMACSecret:    cfg.Auth.HMACSecret,
			Issuer:        cfg.Auth.Issuer,
			Audience:      cfg.Auth.Audience,
			ScopeClaim:    cfg.Auth.ScopeClaim,
			OptionalPaths: cfg.Auth.OptionalPaths,
			ClockSkew:     cfg.Auth.ClockSkew,
		}, logger),
		RateLimiter: middleware.NewRateLimiter(limits, logger),
		Observability: middleware.NewObservability(middleware.ObservabilityConfig{
			Enabled:     cfg.Observability.Metrics || cfg.Observability.Tracing,
			LogRequests: cfg.Observability.LogRequests,
		}, logger),
		CORS: middleware.CORSConfig{AllowedOrigins: cfg.CORS.AllowedOrigins},
	})
	if !cfg.Auth.Enabled {
		logger.Warn("authentication disabled; callers are taken from the " + middleware.AccountHeader + " header")
	}

	listener, err := net.Listen("tcp", cfg.ListenAddress)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", cfg.ListenAddress, err)
	}
	if !cfg.TLS.Enabled() {
		tcpAddr, _ := listener.Addr().(*net.TCPAddr)
		loopback := tcpAddr != nil && tcpAddr.IP != nil && tcpAddr.IP.IsLoopback()
		if !strings.EqualFold(env, "dev") && !loopback {
			listener.Close()
			return fmt.Errorf("plaintext ledgerd mode is restricted to loopback listeners or dev environment")
		}
	}
	tlsCfg, err := loadServerTLS(cfg.TLS)
	if err != nil {
		listener.Close()
		return fmt.Errorf("configure tls: %w", err)
	}

	httpServer := &http.Server{
		Handler:      handler,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
		TLSConfig:    tlsCfg,
		ErrorLog:     slog.NewLogLogger(logger.Handler(), slog.LevelWarn),
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("ledgerd listening", slog.String("addr", listener.Addr().String()), slog.Bool("tls", tlsCfg != nil))
		if tlsCfg != nil {
			serverErr <- httpServer.ServeTLS(listener, "", "")
			return
		}
		serverErr <- httpServer.Serve(listener)
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Warn("forcing server stop", slog.Any("error", err))
			_ = httpServer.Close()
		}
		return nil
	case err := <-serverErr:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("serve http: %w", err)
	}
}

func loadServerTLS(cfg config.TLSConfig) (*tls.Config, error) {
	if !cfg.Enabled() {
		if cfg.AllowInsecure {
			return nil, nil
		}
		return nil, fmt.Errorf("tls credentials are required")
	}
	cert, err := tls.LoadX509KeyPair(cfg.CertPath, cfg.KeyPath)
	if err != nil {
		return nil, fmt.Errorf("load tls keypair: %w", err)
	}
	tlsCfg := &tls.Config{
		MinVersion:   tls.VersionTLS12,
		Certificates: []tls.Certificate{cert},
	}
	if cfg.MTLSEnabled() {
		pem, err := os.ReadFile(cfg.ClientCAPath)
		if err != nil {
			return nil, fmt.Errorf("read client ca: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("parse client ca: invalid pem data")
		}
		tlsCfg.ClientCAs = pool
		tlsCfg.ClientAuth = tls.RequireAndVerifyClientCert
	}
	return tlsCfg, nil
}
