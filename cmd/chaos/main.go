package main

import (
	"os"
	"os/signal"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"libshelf/internal/chaos"
	"libshelf/internal/clients"
	"libshelf/internal/config"
	"libshelf/internal/log"
)

func main() {
	root := &cobra.Command{
		Use:           "chaos",
		Short:         "Race experiments against a running libshelf API",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(runCmd())

	if err := root.Execute(); err != nil {
		log.Error("chaos run failed", zap.Error(err))
		log.Sync()
		os.Exit(1)
	}
	log.Sync()
}

func runCmd() *cobra.Command {
	var (
		baseURL     string
		adminID     string
		concurrency int
		duration    time.Duration
		pause       time.Duration
		logLevel    string
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run every experiment once and report whether its hypothesis held",
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := config.Defaults()
			opts.LogFile = "chaos.log"
			opts.LogLevel = logLevel
			log.Init(opts)

			var admin uuid.UUID
			if adminID != "" {
				var err error
				if admin, err = uuid.Parse(adminID); err != nil {
					return errors.Wrap(err, "--admin-id")
				}
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer stop()

			base := clients.New(baseURL)
			if err := base.Healthy(ctx); err != nil {
				return errors.Wrapf(err, "API at %s is not healthy", baseURL)
			}
			adminClient, err := chaos.Bootstrap(ctx, base, admin)
			if err != nil {
				return err
			}

			suite := chaos.NewSuite(adminClient, concurrency)
			suite.Duration = duration
			engine := chaos.NewEngine()
			suite.Register(engine)

			results, err := engine.Execute(ctx, chaos.GameDay{
				Name:      "libshelf races",
				Scenarios: engine.Experiments(),
				Pause:     pause,
			})
			if err != nil {
				return err
			}

			failed := 0
			for _, r := range results {
				if !r.HypothesisHeld {
					failed++
				}
			}
			if failed > 0 {
				return errors.Errorf("%d of %d hypotheses violated", failed, len(results))
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&baseURL, "base-url", "http://localhost:8082", "libshelf API base URL")
	cmd.Flags().StringVar(&adminID, "admin-id", "", "existing admin member id; registers the first admin when empty")
	cmd.Flags().IntVar(&concurrency, "concurrency", 16, "parallel requests per experiment")
	cmd.Flags().DurationVar(&duration, "observe", 3*time.Second, "observation window per experiment")
	cmd.Flags().DurationVar(&pause, "pause", time.Second, "pause between experiments")
	cmd.Flags().StringVar(&logLevel, "log-level", "info", "debug, info, warn or error")
	return cmd
}
