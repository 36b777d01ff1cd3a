// Command vivbliss-watch runs the product watcher: scheduled crawls feeding
// the catalog and the outbox dispatch loop delivering change notifications.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sourcegraph/conc"

	"github.com/bling0390/vivbliss-watch/config"
	"github.com/bling0390/vivbliss-watch/internal/crawl"
	"github.com/bling0390/vivbliss-watch/internal/dispatch"
	appconfig "github.com/bling0390/vivbliss-watch/internal/infra/config"
	"github.com/bling0390/vivbliss-watch/internal/infra/persistence"
	"github.com/bling0390/vivbliss-watch/internal/infra/persistence/migrations"
	"github.com/bling0390/vivbliss-watch/internal/infra/persistence/postgres"
	"github.com/bling0390/vivbliss-watch/internal/infra/telegram"
	"github.com/bling0390/vivbliss-watch/internal/notify"
	"github.com/bling0390/vivbliss-watch/internal/observability"
	"github.com/bling0390/vivbliss-watch/internal/reconcile"
	"github.com/bling0390/vivbliss-watch/internal/scheduler"
	"github.com/bling0390/vivbliss-watch/lib/async"
	"github.com/bling0390/vivbliss-watch/lib/telemetry"
)

const (
	defaultConfigPath     = "config/app.yaml"
	defaultMigrationsPath = "db/migrations"
	loggerPrefix          = "vivbliss-watch "

	shutdownTimeout          = 30 * time.Second
	poolShutdownTimeout      = 10 * time.Second
	telemetryShutdownTimeout = 5 * time.Second
	schedulerShutdownTimeout = 10 * time.Second
)

func main() {
	cfgPath, migrationsPath, forceFull, debug := parseFlags()
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	logger := log.New(os.Stdout, loggerPrefix, log.LstdFlags|log.Lmicroseconds)
	observability.SetLogger(observability.NewStdLogger(logger, debug))

	settings := config.FromEnv()
	if err := settings.ValidateStorage(); err != nil {
		logger.Fatalf("storage config: %v", err)
	}
	if err := settings.ValidateSending(); err != nil {
		logger.Fatalf("sending config: %v", err)
	}

	appCfg, err := appconfig.Load(cfgPath)
	if err != nil {
		logger.Fatalf("load app config: %v", err)
	}

	_, telemetryShutdown, err := telemetry.Init(ctx, settings.OTLPEndpoint, "vivbliss-watch")
	if err != nil {
		logger.Fatalf("initialize telemetry: %v", err)
	}
	if settings.OTLPEndpoint != "" {
		logger.Printf("telemetry initialized: endpoint=%s", settings.OTLPEndpoint)
	} else {
		logger.Printf("telemetry disabled")
	}

	if err := applySchema(ctx, settings.DatabaseDSN, migrationsPath, logger); err != nil {
		logger.Fatalf("apply migrations: %v", err)
	}

	pool, err := persistence.Connect(ctx, settings.DatabaseDSN)
	if err != nil {
		logger.Fatalf("connect database: %v", err)
	}
	store := postgres.New(pool)

	transport, err := telegram.NewClient(telegram.Options{BotToken: settings.Telegram.BotToken})
	if err != nil {
		logger.Fatalf("telegram client: %v", err)
	}

	workers, err := async.NewPool(appCfg.Pool.EffectiveWorkers(), appCfg.Pool.EffectiveQueueDepth())
	if err != nil {
		logger.Fatalf("worker pool: %v", err)
	}

	reconciler := reconcile.New(store.Catalog(), store.Outbox(), nil)
	runner := crawl.NewRunner(settings, reconciler, nil)
	sender := notify.NewSender(store.Catalog(), transport)
	dispatcher := dispatch.New(store.Outbox(), store.Receipts(), sender, settings, workers, nil)

	jobs := scheduler.New(workers)
	addJob(logger, jobs, scheduler.Job{
		Name:       "crawl",
		Interval:   appCfg.Crawl.EffectiveInterval(),
		RunAtStart: appCfg.Crawl.RunAtStart || forceFull,
		Fn: func(jobCtx context.Context) error {
			count, err := runner.Run(jobCtx, forceFull)
			if err != nil {
				logger.Printf("crawl: %v", err)
				return err
			}
			logger.Printf("crawl ingested %d records", count)
			return nil
		},
	})
	addJob(logger, jobs, scheduler.Job{
		Name:     "dispatch",
		Interval: appCfg.Dispatch.EffectiveInterval(),
		Fn: func(jobCtx context.Context) error {
			count, err := dispatcher.Poll(jobCtx, appCfg.Dispatch.EffectiveBatchSize())
			if err != nil {
				logger.Printf("dispatch: %v", err)
				return err
			}
			if count > 0 {
				logger.Printf("dispatched %d events", count)
			}
			return nil
		},
	})

	var lifecycle conc.WaitGroup
	lifecycle.Go(func() {
		jobs.Run(ctx)
	})

	logger.Printf("vivbliss-watch started: strategy=%s chat=%s", settings.MessageStrategy, settings.TargetChat)
	<-ctx.Done()
	logger.Print("shutdown signal received, initiating graceful shutdown")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	shutdownStart := time.Now()
	performGracefulShutdown(shutdownCtx, logger, &lifecycle, workers, pool.Close, telemetryShutdown)
	logger.Printf("shutdown completed in %v", time.Since(shutdownStart))
}

func parseFlags() (configPath, migrationsPath string, forceFull, debug bool) {
	cfgPath := flag.String("config", defaultConfigPath, "Path to the runtime tuning file")
	migrations := flag.String("migrations", defaultMigrationsPath, "Directory containing SQL migrations")
	full := flag.Bool("force-full", false, "Force the next crawl to run in full mode")
	verbose := flag.Bool("debug", false, "Emit debug logs")
	flag.Parse()
	return *cfgPath, *migrations, *full, *verbose
}

// applySchema prefers on-disk migrations and falls back to the copies
// embedded in the binary when the directory is absent.
func applySchema(ctx context.Context, dsn, dir string, logger *log.Logger) error {
	if _, err := os.Stat(dir); err != nil {
		return migrations.ApplyEmbedded(ctx, dsn, logger)
	}
	return migrations.Apply(ctx, dsn, dir, logger)
}

func addJob(logger *log.Logger, jobs *scheduler.Scheduler, job scheduler.Job) {
	if err := jobs.Add(job); err != nil {
		logger.Fatalf("register %s job: %v", job.Name, err)
	}
}

func performGracefulShutdown(ctx context.Context, logger *log.Logger, lifecycle *conc.WaitGroup, workers *async.Pool, closePool func(), telemetryShutdown func(context.Context) error) {
	shutdownStep := func(name string, timeout time.Duration, fn func(context.Context) error) {
		stepCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		logger.Printf("shutdown: %s...", name)
		if err := fn(stepCtx); err != nil {
			logger.Printf("shutdown: %s failed: %v", name, err)
		} else {
			logger.Printf("shutdown: %s completed", name)
		}
	}

	shutdownStep("waiting for scheduler", schedulerShutdownTimeout, func(stepCtx context.Context) error {
		done := make(chan struct{})
		go func() {
			lifecycle.Wait()
			close(done)
		}()
		select {
		case <-done:
			return nil
		case <-stepCtx.Done():
			return fmt.Errorf("timeout waiting for scheduler: %w", stepCtx.Err())
		}
	})

	shutdownStep("draining worker pool", poolShutdownTimeout, func(stepCtx context.Context) error {
		return workers.Shutdown(stepCtx)
	})

	shutdownStep("closing database pool", poolShutdownTimeout, func(context.Context) error {
		closePool()
		return nil
	})

	shutdownStep("flushing telemetry", telemetryShutdownTimeout, telemetryShutdown)
}
