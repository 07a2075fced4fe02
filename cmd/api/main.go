package main

import (
	"context"
	"flag"
	"github.com/asynkron/protoactor-go/actor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	zLog "github.com/rs/zerolog/log"
	"go-tamp/internal/agents/explorer/handler"
	"go-tamp/internal/api"
	"go-tamp/internal/competence"
	"go-tamp/internal/config"
	"go-tamp/internal/metrics"
	"go-tamp/internal/store/sqlite"
	"go-tamp/pkg/envs/blocks"
	"go-tamp/pkg/logger"
	"log"
	"os/signal"
	"syscall"
)

func main() {
	configPath := flag.String("config", "", "path to a YAML config file")
	flag.Parse()

	log.Println("starting server")
	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Panicf("failed to load config: %v", err)
	}
	err = logger.NewGlobal(cfg.Log.Level, cfg.Log.Pretty)
	if err != nil {
		log.Panicf("failed to initialize logger: %v", err)
	}
	hCfg, err := cfg.HandlerConfig()
	if err != nil {
		zLog.Panic().Err(err).Msg("invalid explorer config")
	}

	env, err := blocks.New(cfg.BlocksConfig())
	if err != nil {
		zLog.Panic().Err(err).Msg("unable to build environment")
	}

	store, err := sqlite.New(cfg.Store.Path)
	if err != nil {
		zLog.Panic().Err(err).Msg("unable to open store")
	}
	defer store.Close()

	ledger := competence.NewLedger(cfg.Competence.Alpha, cfg.Competence.Beta)
	history, seen, err := store.LoadLedger(context.Background())
	if err != nil {
		zLog.Panic().Err(err).Msg("unable to load ledger")
	}
	ledger.Restore(history)
	zLog.Info().Int("operators", ledger.Len()).Int("trials", ledger.TotalTrials()).Msg("restored execution history")

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	collector := metrics.New(reg)

	system := actor.NewActorSystem().Root
	app := api.New(system, env, ledger, seen, api.Options{
		Port:          cfg.Server.Port,
		StatusTimeout: cfg.Server.StatusTimeout,
		Steps:         cfg.Explorer.MaxSteps,
		MaxEpisodes:   cfg.Server.MaxEpisodes,
		Handler:       hCfg,
		HandlerOptions: []handler.Option{
			handler.WithObserver(collector),
			handler.WithDatumSink(store),
		},
		Gatherer: reg,
		Store:    store,
		Episodes: collector,
	})

	go func() {
		err := app.Start()
		if err != nil {
			zLog.Panic().Err(err).Msg("server crash")
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()

	stop()
	zLog.Info().Msg("shutting down gracefully")

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := app.Stop(ctx); err != nil {
		zLog.Panic().Err(err).Msg("server forced to shutdown")
	}
	// todo shutdown actor system?

	zLog.Info().Msg("server exiting")
}
