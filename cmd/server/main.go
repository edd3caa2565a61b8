package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"slices"
	"syscall"
	"time"

	"entgo.io/ent/dialect/sql/schema"
	_ "modernc.org/sqlite"

	"github.com/matthewbaird/payoutrules/internal/activity"
	"github.com/matthewbaird/payoutrules/internal/config"
	"github.com/matthewbaird/payoutrules/internal/console"
	"github.com/matthewbaird/payoutrules/internal/database"
	"github.com/matthewbaird/payoutrules/internal/event"
	"github.com/matthewbaird/payoutrules/internal/eventbus"
	"github.com/matthewbaird/payoutrules/internal/formula"
	"github.com/matthewbaird/payoutrules/internal/logger"
	"github.com/matthewbaird/payoutrules/internal/platform"
	"github.com/matthewbaird/payoutrules/internal/resolve"
	"github.com/matthewbaird/payoutrules/internal/rules"
	"github.com/matthewbaird/payoutrules/internal/server"
)

func main() {
	if err := run(); err != nil {
		logger.Fatal(err)
	}
}

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(os.Getenv("PAYOUTRULES_CONFIG"))
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if err := logger.Init(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.Output); err != nil {
		return fmt.Errorf("initializing logger: %w", err)
	}

	platforms, err := platform.NewSet(cfg.Platforms.Custom...)
	if err != nil {
		return fmt.Errorf("platforms: %w", err)
	}
	registry, err := platform.LoadRegistry(cfg.Adapters.File)
	if err != nil {
		return fmt.Errorf("adapter registry: %w", err)
	}
	logger.Infof("adapter registry version %d loaded", registry.Version())

	var (
		ruleStore     rules.Store
		activityStore activity.Store
	)
	switch cfg.Database.Driver {
	case "memory":
		ruleStore = rules.NewMemoryStore()
		activityStore = activity.NewMemoryStore()
	default:
		dsn := cfg.Database.DSN
		if dsn == "" {
			dsn = database.DefaultDSN
		}
		db, err := database.Open(ctx, dsn)
		if err != nil {
			return fmt.Errorf("opening database: %w", err)
		}
		defer db.Close()
		tables := slices.Concat(rules.Tables, []*schema.Table{activity.Table})
		if err := database.Migrate(ctx, db, tables...); err != nil {
			return fmt.Errorf("running schema migration: %w", err)
		}
		logger.Info("database migrated successfully")
		ruleStore = rules.NewSQLStore(db)
		activityStore = activity.NewSQLStore(db)
	}

	bus := eventbus.New(0)
	bus.Subscribe("log", eventbus.NewLogConsumer(nil))
	bus.Start(ctx)
	defer bus.Stop()

	recorder := event.NewActivityRecorder(activityStore)
	recorder.SetPublisher(bus)

	formulas := formula.NewCache(cfg.Formula.CacheTTL)
	svc := rules.NewService(ruleStore, platforms,
		rules.WithRecorder(recorder),
		rules.WithFormulaCache(formulas),
	)
	engine := resolve.NewEngine(svc, registry,
		resolve.WithFormulaCache(formulas),
		resolve.WithWorkers(cfg.Resolve.Workers),
	)

	sessions := console.NewManager(30 * time.Minute)
	go func() {
		t := time.NewTicker(5 * time.Minute)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				sessions.Cleanup()
			}
		}
	}()

	h := server.NewRouter(cfg, server.Deps{
		Rules:    svc,
		Engine:   engine,
		Formulas: formulas,
		Activity: activityStore,
		Sessions: sessions,
	})
	if err := server.Run(ctx, cfg.Server, h); err != nil {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}
