// Package scheduler drives the city clock: the fast economic tick and
// the slow planning pass.
package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/halcyon-sim/agora/internal/economy"
	"github.com/halcyon-sim/agora/internal/llm"
	"github.com/halcyon-sim/agora/internal/strategy"
)

// Scheduler runs the tick layers in a fixed order: construction
// completion, then production, then the daily decay, then the strategy
// pass. At most one tick body runs at a time; an externally triggered
// tick (the admin API) and the timer share the same mutex.
type Scheduler struct {
	city      *economy.City
	automaton *strategy.Automaton
	planner   *llm.Planner
	log       *slog.Logger

	TickInterval time.Duration // economic tick cadence
	PlanInterval time.Duration // planning pass cadence

	tickMu sync.Mutex
	tick   uint64
}

// New creates a scheduler with the default cadence: a tick per minute,
// a planning pass per hour.
func New(city *economy.City, automaton *strategy.Automaton, planner *llm.Planner, log *slog.Logger) *Scheduler {
	if log == nil {
		log = slog.Default()
	}
	return &Scheduler{
		city:         city,
		automaton:    automaton,
		planner:      planner,
		log:          log,
		TickInterval: time.Minute,
		PlanInterval: time.Hour,
	}
}

// Run blocks, ticking until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) {
	s.log.Info("scheduler started",
		"tick_interval", s.TickInterval, "plan_interval", s.PlanInterval)

	tick := time.NewTicker(s.TickInterval)
	defer tick.Stop()
	plan := time.NewTicker(s.PlanInterval)
	defer plan.Stop()

	for {
		select {
		case <-ctx.Done():
			s.log.Info("scheduler stopped", "tick", s.tick)
			return
		case <-tick.C:
			if _, err := s.RunTick(ctx); err != nil && ctx.Err() == nil {
				s.log.Error("tick failed", "error", err)
			}
		case <-plan.C:
			if err := s.planner.PlanAll(ctx); err != nil && ctx.Err() == nil {
				s.log.Error("planning pass failed", "error", err)
			}
		}
	}
}

// TickReport summarizes one full economic tick.
type TickReport struct {
	Tick       uint64              `json:"tick"`
	Completed  int                 `json:"buildings_completed"`
	Production economy.TickResult  `json:"production"`
	Decay      economy.DecayResult `json:"decay"`
	Strategies strategy.PassStats  `json:"strategies"`
}

// RunTick executes one tick body. Exported so the admin API can drive
// the city manually in development.
func (s *Scheduler) RunTick(ctx context.Context) (TickReport, error) {
	s.tickMu.Lock()
	defer s.tickMu.Unlock()
	s.tick++
	report := TickReport{Tick: s.tick}

	completed, err := s.city.CheckConstructionProgress(ctx)
	if err != nil {
		return report, err
	}
	report.Completed = len(completed)

	report.Production, err = s.city.ProductionTick(ctx)
	if err != nil {
		return report, err
	}

	report.Decay, err = s.city.DailyAttributeDecay(ctx)
	if err != nil {
		return report, err
	}

	report.Strategies, err = s.automaton.ExecutePass(ctx)
	if err != nil {
		return report, err
	}

	s.log.Info("tick",
		"n", s.tick,
		"completed", report.Completed,
		"produced", report.Production.Produced,
		"skipped", report.Production.Skipped,
		"decay_ran", report.Decay.Ran,
		"executed", report.Strategies.Executed,
		"strategies_completed", report.Strategies.Completed,
	)
	return report, nil
}
