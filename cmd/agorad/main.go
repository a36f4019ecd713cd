// Command agorad runs the city economy daemon: the SQLite-backed
// transaction engine, the tick scheduler, the strategy planner and the
// HTTP API.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/halcyon-sim/agora/internal/api"
	"github.com/halcyon-sim/agora/internal/catalog"
	"github.com/halcyon-sim/agora/internal/config"
	"github.com/halcyon-sim/agora/internal/economy"
	"github.com/halcyon-sim/agora/internal/events"
	"github.com/halcyon-sim/agora/internal/llm"
	"github.com/halcyon-sim/agora/internal/scheduler"
	"github.com/halcyon-sim/agora/internal/store"
	"github.com/halcyon-sim/agora/internal/strategy"
)

func main() {
	configPath := flag.String("config", "agora.yaml", "path to config file")
	flag.Parse()

	// .env is optional; real deployments set the environment directly.
	_ = godotenv.Load()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("config load failed", "error", err)
		os.Exit(1)
	}

	level := slog.LevelInfo
	switch cfg.LogLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	slog.Info("agora starting", "city", cfg.CityName, "db", cfg.DBPath)

	st, err := store.Open(cfg.DBPath)
	if err != nil {
		slog.Error("failed to open database", "error", err)
		os.Exit(1)
	}
	defer st.Close()

	cat, err := catalog.Load(cfg.CatalogPath)
	if err != nil {
		slog.Error("failed to load catalog", "error", err)
		os.Exit(1)
	}

	// Event plumbing: every committed mutation fans out to the
	// websocket hub and the in-memory recorder.
	bus := events.NewBus()
	hub := events.NewHub()
	recorder := events.NewRecorder(500)
	bus.Attach(hub)
	bus.Attach(recorder)

	agents := economy.NewAgents(st, bus)
	ledger := economy.NewLedger(st, bus)
	market := economy.NewMarket(st, bus)
	worksite := economy.NewWorkSite(st, bus)
	storefront := economy.NewStorefront(st, bus)
	city := economy.NewCity(cfg.CityName, st, bus, ledger, cat)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := agents.EnsureHuman(ctx, cfg.HumanName); err != nil {
		slog.Error("failed to seed human agent", "error", err)
		os.Exit(1)
	}
	if err := city.Seed(ctx); err != nil {
		slog.Error("failed to seed catalog", "error", err)
		os.Exit(1)
	}

	strategies := strategy.NewStore()
	automaton := strategy.NewAutomaton(strategies, ledger, market, city, bus, logger)

	llmClient := llm.NewClient(cfg.LLM.APIKey, cfg.LLM.Model)
	if llmClient.Enabled() {
		slog.Info("LLM planner enabled")
	} else {
		slog.Warn("ANTHROPIC_API_KEY not set, strategy planning disabled")
	}
	planner := llm.NewPlanner(llmClient, agents, ledger, market, city, strategies, bus, logger)

	sched := scheduler.New(city, automaton, planner, logger)
	sched.TickInterval = cfg.Scheduler.TickInterval
	sched.PlanInterval = cfg.Scheduler.PlanInterval
	go sched.Run(ctx)

	if cfg.API.AdminKey == "" {
		slog.Warn("no admin key set, mutation endpoints disabled")
	}
	server := &api.Server{
		Agents:      agents,
		Ledger:      ledger,
		Market:      market,
		WorkSite:    worksite,
		Storefront:  storefront,
		City:        city,
		Strategies:  strategies,
		Automaton:   automaton,
		Planner:     planner,
		Scheduler:   sched,
		Hub:         hub,
		Recorder:    recorder,
		Port:        cfg.API.Port,
		AdminKey:    cfg.API.AdminKey,
		CORSOrigins: cfg.API.CORSOrigins,
	}
	server.Start()

	<-ctx.Done()
	slog.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Warn("HTTP shutdown", "error", err)
	}
}
