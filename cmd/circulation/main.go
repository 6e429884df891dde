package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"libshelf/internal/config"
	"libshelf/internal/log"
	"libshelf/internal/server"
	"libshelf/internal/storage"
	"libshelf/internal/telemetry"
)

var configFile string

func main() {
	root := &cobra.Command{
		Use:           "circulation",
		Short:         "libshelf circulation engine: catalog, copies, loans and reservations",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&configFile, "config", "c", "", "path to a config file (yaml, toml or json)")
	root.AddCommand(serveCmd(), migrateCmd(), versionCmd())

	if err := root.Execute(); err != nil {
		log.Error("command failed", zap.Error(err))
		log.Sync()
		os.Exit(1)
	}
	log.Sync()
}

func setup(ctx context.Context) (*config.Options, *storage.DB, error) {
	opts, err := config.Load(configFile)
	if err != nil {
		return nil, nil, err
	}
	log.Init(opts)

	db, err := storage.Open(ctx, opts.DBDriver, opts.DSN, storage.PoolOptions{
		MaxOpenConns: opts.DBMaxOpenConns,
		MaxIdleConns: opts.DBMaxIdleConns,
	})
	if err != nil {
		return nil, nil, err
	}
	return opts, db, nil
}

func migrate(ctx context.Context, db *storage.DB) error {
	applied, err := db.Migrate(ctx)
	if err != nil {
		return errors.Wrap(err, "migrate")
	}
	for _, name := range applied {
		log.Info("applied migration", zap.String("name", name))
	}
	return nil
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending schema migrations and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, db, err := setup(cmd.Context())
			if err != nil {
				return err
			}
			defer db.Close()
			return migrate(cmd.Context(), db)
		},
	}
}

func serveCmd() *cobra.Command {
	var skipMigrate bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			opts, db, err := setup(ctx)
			if err != nil {
				return err
			}
			defer db.Close()

			if !skipMigrate {
				if err := migrate(ctx, db); err != nil {
					return err
				}
			}

			shutdownTelemetry, err := telemetry.Setup(ctx, opts)
			if err != nil {
				return err
			}
			defer func() {
				flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				if err := shutdownTelemetry(flushCtx); err != nil {
					log.Warn("telemetry shutdown", zap.Error(err))
				}
			}()

			services, err := server.NewServices(db)
			if err != nil {
				return err
			}
			router := server.NewRouter(services, server.RouterOptions{
				RateLimitPerSecond: opts.RateLimitPerSecond,
				RateLimitBurst:     opts.RateLimitBurst,
				RequestTimeout:     30 * time.Second,
			})

			log.Info("starting libshelf",
				zap.String("version", server.Version),
				zap.String("driver", db.Driver()),
			)
			return server.New(opts.Addr(), router, time.Duration(opts.ShutdownTimeoutSeconds)*time.Second).Run(ctx)
		},
	}
	cmd.Flags().BoolVar(&skipMigrate, "skip-migrate", false, "do not apply migrations on startup")
	return cmd
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the build version",
		Run: func(cmd *cobra.Command, args []string) {
			cmd.Println(server.Version)
		},
	}
}
