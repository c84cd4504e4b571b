package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/triage-ai/querygate/internal/config"
	"github.com/triage-ai/querygate/internal/store"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Version is set at build time.
var Version = "0.1.0"

type configKey struct{}

func newRootCmd() *cobra.Command {
	var cfgFile string

	rootCmd := &cobra.Command{
		Use:     "querygate",
		Short:   "Natural-language gateway to a read-only customer database",
		Version: Version,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if cmd.Name() == "help" || cmd.Name() == "completion" || cmd.Name() == "__complete" {
				return nil
			}
			cfg, err := config.Load(cfgFile, cmd.Root().PersistentFlags())
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			cmd.SetContext(context.WithValue(ctx, configKey{}, cfg))
			return nil
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	pf := rootCmd.PersistentFlags()
	pf.StringVar(&cfgFile, "config", "", "config file (default: ./querygate.yaml)")
	pf.String("log-level", "", "Log level (debug|info|warn|error)")
	pf.Int("http-port", 0, "HTTP listen port")
	pf.Int("grpc-port", 0, "gRPC listen port (0 disables)")
	pf.String("db-driver", "", "Database driver (sqlite|pgx)")
	pf.String("db-dsn", "", "Database DSN or SQLite path")
	pf.String("identity-db-dsn", "", "Users database DSN or SQLite path (must differ from --db-dsn)")
	pf.String("clickhouse-dsn", "", "ClickHouse DSN for the audit trail")

	_ = rootCmd.RegisterFlagCompletionFunc("db-driver", func(_ *cobra.Command, _ []string, _ string) ([]string, cobra.ShellCompDirective) {
		return []string{store.DriverSQLite, store.DriverPostgres}, cobra.ShellCompDirectiveNoFileComp
	})

	rootCmd.AddCommand(
		newServeCmd(),
		newMigrateCmd(),
		newTokenCmd(),
		newValidateCmd(),
		newPromoteCmd(),
	)
	return rootCmd
}

func configFrom(cmd *cobra.Command) *config.Config {
	cfg, _ := cmd.Context().Value(configKey{}).(*config.Config)
	return cfg
}

func storeConfig(cfg *config.Config) store.Config {
	return store.Config{
		Driver:          cfg.DBDriver,
		DSN:             cfg.DBDSN,
		MaxOpenConns:    cfg.DBMaxOpenConns,
		MaxIdleConns:    cfg.DBMaxIdleConns,
		ConnMaxLifetime: cfg.DBConnMaxLifetime,
	}
}

// identityStoreConfig points at the users database. Pool sizes are shared.
func identityStoreConfig(cfg *config.Config) store.Config {
	c := storeConfig(cfg)
	c.DSN = cfg.IdentityDBDSN
	return c
}

func mustBuildLogger(level string) *zap.Logger {
	var zapLevel zapcore.Level
	switch level {
	case "debug":
		zapLevel = zapcore.DebugLevel
	case "warn":
		zapLevel = zapcore.WarnLevel
	case "error":
		zapLevel = zapcore.ErrorLevel
	default:
		zapLevel = zapcore.InfoLevel
	}

	cfg := zap.Config{
		Level:            zap.NewAtomicLevelAt(zapLevel),
		Development:      false,
		Encoding:         "json",
		EncoderConfig:    zap.NewProductionEncoderConfig(),
		OutputPaths:      []string{"stdout"},
		ErrorOutputPaths: []string{"stderr"},
	}

	logger, err := cfg.Build()
	if err != nil {
		panic(fmt.Sprintf("failed to build logger: %v", err))
	}
	return logger
}
