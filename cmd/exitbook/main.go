// Command exitbook is the dual-mode entrypoint (spec §6), replacing the
// teacher's cmd/arcsign/main.go. Concrete provider adapters and the
// command-line parsing surface are out of scope (spec.md §1); this binary
// wires the ambient stack (logging, config) and the pipeline's long-lived
// collaborators (store, provider registry/manager, price engine, override
// log, orchestrator) and dispatches the small set of bootstrap commands a
// wrapping process needs before handing it an import request.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/arcsign/exitbook/internal/cli"
	"github.com/arcsign/exitbook/internal/config"
	"github.com/arcsign/exitbook/internal/errs"
	"github.com/arcsign/exitbook/internal/ingestionstore"
	"github.com/arcsign/exitbook/internal/logging"
	"github.com/arcsign/exitbook/internal/metrics"
	"github.com/arcsign/exitbook/internal/orchestrator"
	"github.com/arcsign/exitbook/internal/overridelog"
	"github.com/arcsign/exitbook/internal/priceengine"
	"github.com/arcsign/exitbook/internal/provider"
	"github.com/arcsign/exitbook/internal/providermgr"

	"go.uber.org/zap"
)

const version = "0.1.0"

// pipeline holds every long-lived collaborator the Orchestrator needs,
// built once per process.
type pipeline struct {
	store       ingestionstore.Store
	registry    *provider.Registry
	manager     *providermgr.Manager
	metrics     *metrics.Metrics
	priceEngine *priceengine.Engine
	priceCache  *providermgr.Cache
	overrideLog *overridelog.Log
	orch        *orchestrator.Orchestrator
	closeStore  func()
}

// priceLookup binds priceengine.CachedMarketPrice to this pipeline's shared
// price cache, for the embedding process to pass as
// processor.Config.PriceLookup when it constructs a per-source Processor
// (Processor construction itself is out of scope here, same as concrete
// provider adapters — see buildPipeline).
func (p pipeline) priceLookup(currency string) func(asset string, at time.Time) (float64, bool) {
	return func(asset string, at time.Time) (float64, bool) {
		return priceengine.CachedMarketPrice(p.priceCache, asset, currency, at)
	}
}

func main() {
	mode := cli.DetectMode()
	cfg := config.Load()

	loggingMode := logging.ModeInteractive
	if mode == cli.ModeDashboard {
		loggingMode = logging.ModeDashboard
	}
	logger := logging.New(loggingMode, cfg.Development)
	defer logger.Sync() //nolint:errcheck

	if mode == cli.ModeDashboard {
		runDashboard(cfg, logger)
		return
	}
	runInteractive(cfg, logger)
}

func runDashboard(cfg config.Config, logger *zap.SugaredLogger) {
	command := os.Getenv("EXITBOOK_COMMAND")
	if command == "" {
		command = "healthcheck"
	}
	logger.Infow("dashboard command received", "command", command)

	start := time.Now()
	p, err := buildPipeline(context.Background(), cfg)
	if p.closeStore != nil {
		defer p.closeStore()
	}
	if err != nil {
		logger.Errorw("failed to build pipeline", "error", err)
	}

	var resp cli.Response
	if err != nil {
		resp = cli.Failure(command, err, cfg.Development, &cli.Metadata{DurationMs: time.Since(start).Milliseconds(), Version: version})
	} else {
		switch command {
		case "healthcheck":
			resp = cli.Success(command, healthcheckData(p, cfg), &cli.Metadata{DurationMs: time.Since(start).Milliseconds(), Version: version})
		case "migrate":
			err = runMigrate(context.Background(), p)
			if err != nil {
				resp = cli.Failure(command, err, cfg.Development, &cli.Metadata{DurationMs: time.Since(start).Milliseconds(), Version: version})
			} else {
				resp = cli.Success(command, map[string]any{"migrated": true}, &cli.Metadata{DurationMs: time.Since(start).Milliseconds(), Version: version})
			}
		case "metrics":
			resp = cli.Success(command, map[string]any{"prometheus": p.metrics.Export()}, &cli.Metadata{DurationMs: time.Since(start).Milliseconds(), Version: version})
		default:
			err = errs.Newf(errs.InvalidArgs, "unknown command %q", command)
			resp = cli.Failure(command, err, cfg.Development, &cli.Metadata{DurationMs: time.Since(start).Milliseconds(), Version: version})
		}
	}

	cli.WriteJSON(resp) //nolint:errcheck
	os.Exit(cli.ExitCode(err))
}

func runInteractive(cfg config.Config, logger *zap.SugaredLogger) {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	ctx := context.Background()
	switch os.Args[1] {
	case "version":
		fmt.Printf("exitbook v%s\n", version)
	case "migrate":
		p, err := buildPipeline(ctx, cfg)
		if p.closeStore != nil {
			defer p.closeStore()
		}
		if err != nil {
			logger.Errorw("failed to build pipeline", "error", err)
			fmt.Printf("error: %v\n", err)
			os.Exit(1)
		}
		if err := runMigrate(ctx, p); err != nil {
			logger.Errorw("migration failed", "error", err)
			fmt.Printf("error: %v\n", err)
			os.Exit(1)
		}
		fmt.Println("schema migrated")
	case "healthcheck":
		p, err := buildPipeline(ctx, cfg)
		if p.closeStore != nil {
			defer p.closeStore()
		}
		if err != nil {
			logger.Errorw("failed to build pipeline", "error", err)
			fmt.Printf("error: %v\n", err)
			os.Exit(1)
		}
		data := healthcheckData(p, cfg)
		fmt.Printf("store: %s\n", data["store"])
		fmt.Printf("priceCurrency: %s\n", data["priceCurrency"])
	case "metrics":
		p, err := buildPipeline(ctx, cfg)
		if p.closeStore != nil {
			defer p.closeStore()
		}
		if err != nil {
			logger.Errorw("failed to build pipeline", "error", err)
			fmt.Printf("error: %v\n", err)
			os.Exit(1)
		}
		fmt.Print(p.metrics.Export())
	case "help", "--help", "-h":
		printUsage()
	default:
		fmt.Printf("Unknown command: %s\n\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println("exitbook - cryptocurrency transaction ingestion & enrichment pipeline")
	fmt.Println()
	fmt.Println("Usage:")
	fmt.Println("  exitbook version       Show version information")
	fmt.Println("  exitbook migrate       Create/upgrade the ingestion store schema")
	fmt.Println("  exitbook healthcheck   Verify the pipeline's collaborators are wired")
	fmt.Println("  exitbook metrics       Print Prometheus-format provider/price metrics")
	fmt.Println("  exitbook help          Show this help message")
	fmt.Println()
	fmt.Println("Set EXITBOOK_MODE=dashboard to switch to single-line JSON output on")
	fmt.Println("stdout (logs go to stderr); EXITBOOK_COMMAND selects the command.")
}

// buildPipeline wires every long-lived collaborator from cfg. The provider
// registry/manager are constructed empty: registering concrete provider
// adapters (Alchemy, a CEX REST client, ...) is out of scope per spec.md
// §1, and is left to whatever process embeds this pipeline as a library.
func buildPipeline(ctx context.Context, cfg config.Config) (pipeline, error) {
	var p pipeline

	if cfg.DatabaseURL != "" {
		store, err := ingestionstore.Connect(ctx, cfg.DatabaseURL)
		if err != nil {
			return p, errs.Wrap(errs.Database, "failed to connect to ingestion store", err)
		}
		p.store = store
		p.closeStore = store.Close
	} else {
		p.store = ingestionstore.NewMemoryStore()
	}

	p.registry = provider.New()
	p.metrics = metrics.New()
	p.manager = providermgr.NewManager(p.registry, providermgr.Config{}, p.metrics)
	p.priceCache = providermgr.NewCache(cfg.PriceCacheTTL)
	p.priceEngine = priceengine.NewEngine(p.manager, p.priceCache, priceengine.WithEvents(p.metrics.PriceEngineSink()))

	if cfg.OverrideLogPath != "" {
		log, err := overridelog.Open(cfg.OverrideLogPath)
		if err != nil {
			return p, errs.Wrap(errs.Internal, "failed to open override log", err)
		}
		p.overrideLog = log
	}

	p.orch = orchestrator.New(orchestrator.Deps{
		Store:       p.store,
		PriceEngine: p.priceEngine,
		OverrideLog: p.overrideLog,
	})

	return p, nil
}

func runMigrate(ctx context.Context, p pipeline) error {
	pg, ok := p.store.(*ingestionstore.PostgresStore)
	if !ok {
		return errs.New(errs.InvalidArgs, "migrate requires EXITBOOK_DATABASE_URL to point at a postgres store")
	}
	return pg.InitSchema(ctx)
}

func healthcheckData(p pipeline, cfg config.Config) map[string]any {
	storeKind := "memory"
	if _, ok := p.store.(*ingestionstore.PostgresStore); ok {
		storeKind = "postgres"
	}
	return map[string]any{
		"store":         storeKind,
		"overrideLog":   p.overrideLog != nil,
		"orchestrator":  p.orch != nil,
		"priceCurrency": cfg.PriceCurrency,
	}
}
