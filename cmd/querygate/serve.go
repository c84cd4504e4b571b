package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/triage-ai/querygate/internal/api"
	"github.com/triage-ai/querygate/internal/auth"
	"github.com/triage-ai/querygate/internal/chread"
	"github.com/triage-ai/querygate/internal/config"
	"github.com/triage-ai/querygate/internal/gateway"
	"github.com/triage-ai/querygate/internal/identity"
	"github.com/triage-ai/querygate/internal/policy"
	"github.com/triage-ai/querygate/internal/query"
	"github.com/triage-ai/querygate/internal/server"
	"github.com/triage-ai/querygate/internal/sqlguard"
	"github.com/triage-ai/querygate/internal/storage"
	"github.com/triage-ai/querygate/internal/store"
	"github.com/triage-ai/querygate/internal/translator"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP and gRPC servers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := configFrom(cmd)
			if err := cfg.RequireSecret(); err != nil {
				return err
			}
			logger := mustBuildLogger(cfg.LogLevel)
			defer logger.Sync() //nolint:errcheck // best-effort flush

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg, logger)
		},
	}
}

func serve(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	logger.Info("starting querygate",
		zap.Int("http_port", cfg.HTTPPort),
		zap.Int("grpc_port", cfg.GRPCPort),
		zap.String("db_driver", cfg.DBDriver),
	)

	// SQLite files are created and seeded on first start
	dbCfg := storeConfig(cfg)
	if cfg.DBDriver == store.DriverSQLite {
		if err := migrateSQLite(ctx, dbCfg, store.SetData); err != nil {
			return err
		}
	}

	// Read-only pool for the query executor. The users table is never here.
	ro, err := store.OpenReadOnly(ctx, dbCfg)
	if err != nil {
		return err
	}
	defer func() { _ = ro.Close() }()

	// Audit trail: ClickHouse or LogWriter fallback
	var writer storage.EventWriter
	var reader api.AuditReader
	if cfg.ClickHouseDSN != "" {
		chWriter, err := storage.NewClickHouseWriter(ctx, cfg.ClickHouseDSN, logger)
		if err != nil {
			logger.Warn("clickhouse connection failed, falling back to log writer", zap.Error(err))
			writer = storage.NewLogWriter(logger)
		} else {
			writer = chWriter
			logger.Info("clickhouse writer connected")
		}

		chReader, err := chread.NewReader(ctx, cfg.ClickHouseDSN, logger)
		if err != nil {
			logger.Warn("clickhouse reader connection failed", zap.Error(err))
		} else {
			defer func() { _ = chReader.Close() }()
			reader = chReader
		}
	} else {
		writer = storage.NewLogWriter(logger)
		logger.Info("no clickhouse_dsn set, using log writer")
	}
	defer writer.Close()

	gw, verifier, issuer, err := buildGateway(cfg, ro, writer, logger)
	if err != nil {
		return err
	}

	deps := &api.Dependencies{
		Gateway:     gw,
		Verifier:    verifier,
		Reader:      reader,
		CORSOrigins: cfg.CORSOrigins,
		Logger:      logger,
	}
	if cfg.IdentityEnabled {
		idCfg := identityStoreConfig(cfg)
		if cfg.DBDriver == store.DriverSQLite {
			if err := migrateSQLite(ctx, idCfg, store.SetIdentity); err != nil {
				return err
			}
		}
		idb, err := store.Open(ctx, idCfg)
		if err != nil {
			return fmt.Errorf("identity database: %w", err)
		}
		defer func() { _ = idb.Close() }()

		ids, err := identity.NewService(store.NewStore(idb, cfg.DBDriver), issuer, 0, logger)
		if err != nil {
			return err
		}
		deps.Identity = ids
	}

	var serveGRPC func() error
	var shutdownGRPC func()
	if cfg.GRPCPort > 0 {
		lis, err := net.Listen("tcp", fmt.Sprintf(":%d", cfg.GRPCPort))
		if err != nil {
			return fmt.Errorf("grpc listen: %w", err)
		}
		grpcServer, healthServer := server.NewGRPCServer(gw, logger)
		shutdownGRPC = func() {
			healthServer.SetServingStatus(server.QueryServiceName, healthpb.HealthCheckResponse_NOT_SERVING)
			grpcServer.GracefulStop()
		}
		serveGRPC = func() error {
			logger.Info("grpc server listening", zap.String("addr", lis.Addr().String()))
			return grpcServer.Serve(lis)
		}
	}

	eg, egctx := errgroup.WithContext(ctx)
	if serveGRPC != nil {
		eg.Go(serveGRPC)
	}

	httpServer := newHTTPServer(ctx, fmt.Sprintf(":%d", cfg.HTTPPort), api.NewRouter(deps))
	eg.Go(func() error {
		logger.Info("http server listening", zap.String("addr", httpServer.Addr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	// Graceful shutdown
	eg.Go(func() error {
		<-egctx.Done()
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if shutdownGRPC != nil {
			shutdownGRPC()
		}
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("http server shutdown error", zap.Error(err))
		}
		return nil
	})

	if err := eg.Wait(); err != nil {
		return err
	}
	logger.Info("querygate stopped")
	return nil
}

// newHTTPServer builds the HTTP server. Request contexts carry ctx's values
// but not its cancellation, so Shutdown can drain in-flight requests after a
// signal.
func newHTTPServer(ctx context.Context, addr string, h http.Handler) *http.Server {
	base := context.WithoutCancel(ctx)
	return &http.Server{
		Addr:    addr,
		Handler: h,
		BaseContext: func(_ net.Listener) context.Context {
			return base
		},
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
}

// migrateSQLite applies set on a short-lived read-write pool.
func migrateSQLite(ctx context.Context, cfg store.Config, set store.MigrationSet) error {
	db, err := store.Open(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() { _ = db.Close() }()
	return store.MigrateSet(db, set, cfg.Driver)
}

// buildGateway wires the five pipeline stages.
func buildGateway(cfg *config.Config, ro *sql.DB, events storage.EventWriter, logger *zap.Logger) (*gateway.Gateway, *auth.Verifier, *auth.Issuer, error) {
	verifier, err := auth.NewVerifier(auth.VerifierConfig{Secret: cfg.AuthSecret, Algorithm: cfg.AuthAlgorithm})
	if err != nil {
		return nil, nil, nil, err
	}
	issuer, err := auth.NewIssuer(cfg.AuthSecret, cfg.AuthAlgorithm, cfg.TokenTTL)
	if err != nil {
		return nil, nil, nil, err
	}

	schema := sqlguard.NewSchema(cfg.Schema)
	validator, err := sqlguard.NewValidator(sqlguard.Config{Schema: schema})
	if err != nil {
		return nil, nil, nil, err
	}

	dialect := "SQLite"
	if cfg.DBDriver == store.DriverPostgres {
		dialect = "PostgreSQL"
	}
	tr, err := translator.New(translator.Config{
		Completer: translator.NewChatClient(translator.ChatConfig{
			BaseURL: cfg.TranslatorBaseURL,
			APIKey:  cfg.TranslatorAPIKey,
			Model:   cfg.TranslatorModel,
		}),
		Schema:     schema,
		Dialect:    dialect,
		Timeout:    cfg.TranslatorTimeout,
		Retries:    cfg.TranslatorRetries,
		RetryDelay: 500 * time.Millisecond,
		Logger:     logger,
	})
	if err != nil {
		return nil, nil, nil, err
	}

	executor, err := query.New(query.Config{
		DB:      ro,
		Timeout: cfg.DBTimeout,
		MaxRows: cfg.DBMaxRows,
		Logger:  logger,
	})
	if err != nil {
		return nil, nil, nil, err
	}

	gw, err := gateway.New(gateway.Config{
		Verifier:         verifier,
		Policy:           policy.NewEvaluator(cfg.PolicyBulkMarkers),
		Translator:       tr,
		Validator:        validator,
		Executor:         executor,
		Events:           events,
		ForbiddenMessage: cfg.PolicyForbiddenMessage,
		MaxQueryLength:   cfg.MaxQueryLength,
		Logger:           logger,
	})
	if err != nil {
		return nil, nil, nil, err
	}
	return gw, verifier, issuer, nil
}
