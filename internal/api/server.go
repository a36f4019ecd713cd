// Package api serves the city over HTTP. GET endpoints are public
// read models; POST endpoints mutate the economy and require the
// admin bearer token. /ws streams committed domain events.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/halcyon-sim/agora/internal/economy"
	"github.com/halcyon-sim/agora/internal/events"
	"github.com/halcyon-sim/agora/internal/llm"
	"github.com/halcyon-sim/agora/internal/scheduler"
	"github.com/halcyon-sim/agora/internal/strategy"
)

// Server serves the city economy over HTTP.
type Server struct {
	Agents     *economy.Agents
	Ledger     *economy.Ledger
	Market     *economy.Market
	WorkSite   *economy.WorkSite
	Storefront *economy.Storefront
	City       *economy.City

	Strategies *strategy.Store
	Automaton  *strategy.Automaton
	Planner    *llm.Planner
	Scheduler  *scheduler.Scheduler

	Hub      *events.Hub
	Recorder *events.Recorder

	Port        int
	AdminKey    string // Bearer token for POST endpoints. Empty = POST disabled.
	CORSOrigins []string

	httpServer *http.Server
}

// Start begins serving in a goroutine. Use Shutdown to stop.
func (s *Server) Start() {
	mutateLimiter := NewRateLimiter(600, time.Minute)

	mux := http.NewServeMux()

	// Public read models.
	mux.HandleFunc("GET /api/v1/status", s.handleStatus)
	mux.HandleFunc("GET /api/v1/overview", s.handleOverview)
	mux.HandleFunc("GET /api/v1/agents", s.handleAgents)
	mux.HandleFunc("GET /api/v1/agent/{id}", s.handleAgentDetail)
	mux.HandleFunc("GET /api/v1/agent/{id}/checkins", s.handleAgentCheckins)
	mux.HandleFunc("GET /api/v1/agent/{id}/strategies", s.handleAgentStrategies)
	mux.HandleFunc("GET /api/v1/buildings", s.handleBuildings)
	mux.HandleFunc("GET /api/v1/building/{id}", s.handleBuildingDetail)
	mux.HandleFunc("GET /api/v1/market/orders", s.handleOpenOrders)
	mux.HandleFunc("GET /api/v1/jobs", s.handleJobs)
	mux.HandleFunc("GET /api/v1/shop/items", s.handleShopItems)
	mux.HandleFunc("GET /api/v1/production/logs", s.handleProductionLogs)
	mux.HandleFunc("GET /api/v1/events", s.handleEvents)

	// Admin control plane.
	admin := func(h http.HandlerFunc) http.HandlerFunc {
		return RateLimitMiddleware(mutateLimiter, s.adminOnly(h))
	}
	mux.HandleFunc("POST /api/v1/agents", admin(s.handleCreateAgent))
	mux.HandleFunc("POST /api/v1/agent/{id}/delete", admin(s.handleDeleteAgent))
	mux.HandleFunc("POST /api/v1/agent/{id}/checkin", admin(s.handleCheckIn))
	mux.HandleFunc("POST /api/v1/agent/{id}/purchase", admin(s.handlePurchase))
	mux.HandleFunc("POST /api/v1/agent/{id}/eat", admin(s.handleEat))
	mux.HandleFunc("POST /api/v1/agent/{id}/attributes", admin(s.handleSetAttributes))
	mux.HandleFunc("POST /api/v1/agent/{id}/resources", admin(s.handleSetResource))
	mux.HandleFunc("POST /api/v1/agent/{id}/plan", admin(s.handlePlanAgent))
	mux.HandleFunc("POST /api/v1/transfer", admin(s.handleTransfer))
	mux.HandleFunc("POST /api/v1/buildings", admin(s.handleConstruct))
	mux.HandleFunc("POST /api/v1/building/{id}/workers", admin(s.handleAssignWorker))
	mux.HandleFunc("POST /api/v1/building/{id}/workers/remove", admin(s.handleRemoveWorker))
	mux.HandleFunc("POST /api/v1/market/orders", admin(s.handlePlaceOrder))
	mux.HandleFunc("POST /api/v1/market/order/{id}/fill", admin(s.handleFillOrder))
	mux.HandleFunc("POST /api/v1/market/order/{id}/cancel", admin(s.handleCancelOrder))
	mux.HandleFunc("POST /api/v1/tick", admin(s.handleTick))
	mux.HandleFunc("POST /api/v1/strategies/execute", admin(s.handleExecuteStrategies))

	// Event stream.
	mux.Handle("GET /ws", s.Hub)

	addr := fmt.Sprintf(":%d", s.Port)
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.corsMiddleware(mux),
		ReadHeaderTimeout: 10 * time.Second,
	}
	slog.Info("HTTP API starting", "addr", addr, "admin_auth", s.AdminKey != "")

	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("HTTP server error", "error", err)
		}
	}()
}

// Shutdown stops the HTTP server gracefully.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

// corsMiddleware allows configured frontend origins; localhost dev
// servers are always allowed.
func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	allowed := map[string]bool{
		"http://localhost:5173": true,
		"http://localhost:3000": true,
	}
	for _, origin := range s.CORSOrigins {
		if origin = strings.TrimSpace(origin); origin != "" {
			allowed[origin] = true
		}
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if allowed[origin] {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		}
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// adminOnly requires the bearer token on mutating endpoints.
func (s *Server) adminOnly(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.AdminKey == "" {
			http.Error(w, "admin endpoints disabled (no admin key set)", http.StatusForbidden)
			return
		}
		auth := r.Header.Get("Authorization")
		if !strings.HasPrefix(auth, "Bearer ") || strings.TrimPrefix(auth, "Bearer ") != s.AdminKey {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		next(w, r)
	}
}

// ── read handlers ──────────────────────────────────────────────────

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	agents, err := s.Agents.List(r.Context())
	if err != nil {
		httpError(w, err)
		return
	}
	buildings, err := s.City.Buildings(r.Context())
	if err != nil {
		httpError(w, err)
		return
	}
	orders, err := s.Market.OpenOrders(r.Context())
	if err != nil {
		httpError(w, err)
		return
	}
	writeJSON(w, map[string]any{
		"city":        s.City.Name,
		"agents":      len(agents),
		"buildings":   len(buildings),
		"open_orders": len(orders),
		"planning":    s.Planner.Enabled(),
	})
}

func (s *Server) handleOverview(w http.ResponseWriter, r *http.Request) {
	overview, err := s.City.Overview(r.Context())
	if err != nil {
		httpError(w, err)
		return
	}
	writeJSON(w, overview)
}

func (s *Server) handleAgents(w http.ResponseWriter, r *http.Request) {
	agents, err := s.Agents.List(r.Context())
	if err != nil {
		httpError(w, err)
		return
	}
	writeJSON(w, agents)
}

func (s *Server) handleAgentDetail(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	agent, err := s.Agents.Get(r.Context(), id)
	if err != nil {
		httpError(w, err)
		return
	}
	if agent == nil {
		http.Error(w, "agent not found", http.StatusNotFound)
		return
	}
	resources, err := s.Ledger.AgentResources(r.Context(), id)
	if err != nil {
		httpError(w, err)
		return
	}
	items, err := s.Storefront.AgentItems(r.Context(), id)
	if err != nil {
		httpError(w, err)
		return
	}
	checkin, err := s.WorkSite.TodayCheckIn(r.Context(), id)
	if err != nil {
		httpError(w, err)
		return
	}
	writeJSON(w, map[string]any{
		"agent":         agent,
		"resources":     resources,
		"items":         items,
		"today_checkin": checkin,
	})
}

func (s *Server) handleAgentCheckins(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	days, _ := strconv.Atoi(r.URL.Query().Get("days"))
	history, err := s.WorkSite.History(r.Context(), id, days)
	if err != nil {
		httpError(w, err)
		return
	}
	writeJSON(w, history)
}

func (s *Server) handleAgentStrategies(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	writeJSON(w, s.Strategies.ForAgent(id))
}

func (s *Server) handleBuildings(w http.ResponseWriter, r *http.Request) {
	buildings, err := s.City.Buildings(r.Context())
	if err != nil {
		httpError(w, err)
		return
	}
	writeJSON(w, buildings)
}

func (s *Server) handleBuildingDetail(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	detail, err := s.City.BuildingDetail(r.Context(), id)
	if err != nil {
		httpError(w, err)
		return
	}
	if detail == nil {
		http.Error(w, "building not found", http.StatusNotFound)
		return
	}
	writeJSON(w, detail)
}

func (s *Server) handleOpenOrders(w http.ResponseWriter, r *http.Request) {
	var (
		orders []economy.MarketOrder
		err    error
	)
	if sellType := r.URL.Query().Get("sell_type"); sellType != "" {
		orders, err = s.Market.OpenOrdersSelling(r.Context(), sellType)
	} else {
		orders, err = s.Market.OpenOrders(r.Context())
	}
	if err != nil {
		httpError(w, err)
		return
	}
	writeJSON(w, orders)
}

func (s *Server) handleJobs(w http.ResponseWriter, r *http.Request) {
	jobs, err := s.WorkSite.Jobs(r.Context())
	if err != nil {
		httpError(w, err)
		return
	}
	writeJSON(w, jobs)
}

func (s *Server) handleShopItems(w http.ResponseWriter, r *http.Request) {
	items, err := s.Storefront.Items(r.Context())
	if err != nil {
		httpError(w, err)
		return
	}
	writeJSON(w, items)
}

func (s *Server) handleProductionLogs(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	logs, err := s.City.ProductionLogs(r.Context(), limit)
	if err != nil {
		httpError(w, err)
		return
	}
	writeJSON(w, logs)
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.Recorder.Events())
}

// ── admin handlers ─────────────────────────────────────────────────

func (s *Server) handleCreateAgent(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name    string `json:"name"`
		Persona string `json:"persona"`
	}
	if !readJSON(w, r, &req) {
		return
	}
	if req.Name == "" {
		http.Error(w, "name is required", http.StatusBadRequest)
		return
	}
	id, err := s.Agents.Create(r.Context(), req.Name, req.Persona)
	if err != nil {
		httpError(w, err)
		return
	}
	writeJSON(w, map[string]any{"ok": true, "agent_id": id})
}

func (s *Server) handleDeleteAgent(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	out, err := s.Agents.Delete(r.Context(), id)
	writeOutcome(w, out, err)
}

func (s *Server) handleCheckIn(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req struct {
		JobID int64 `json:"job_id"`
	}
	if !readJSON(w, r, &req) {
		return
	}
	res, err := s.WorkSite.CheckIn(r.Context(), id, req.JobID)
	writeResult(w, res, res.Outcome, err)
}

func (s *Server) handlePurchase(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req struct {
		ItemID int64 `json:"item_id"`
	}
	if !readJSON(w, r, &req) {
		return
	}
	res, err := s.Storefront.Purchase(r.Context(), id, req.ItemID)
	writeResult(w, res, res.Outcome, err)
}

func (s *Server) handleEat(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	res, err := s.City.EatFood(r.Context(), id)
	writeResult(w, res, res.Outcome, err)
}

func (s *Server) handleSetAttributes(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	req := struct {
		Satiety int `json:"satiety"`
		Mood    int `json:"mood"`
		Stamina int `json:"stamina"`
	}{Satiety: -1, Mood: -1, Stamina: -1}
	if !readJSON(w, r, &req) {
		return
	}
	out, err := s.Agents.SetAttributes(r.Context(), id, req.Satiety, req.Mood, req.Stamina)
	writeOutcome(w, out, err)
}

func (s *Server) handleSetResource(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req struct {
		ResourceType string  `json:"resource_type"`
		Quantity     float64 `json:"quantity"`
	}
	if !readJSON(w, r, &req) {
		return
	}
	if req.ResourceType == "" {
		http.Error(w, "resource_type is required", http.StatusBadRequest)
		return
	}
	if err := s.Ledger.SetQuantity(r.Context(), id, req.ResourceType, req.Quantity); err != nil {
		httpError(w, err)
		return
	}
	writeJSON(w, map[string]any{"ok": true})
}

func (s *Server) handlePlanAgent(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	if !s.Planner.Enabled() {
		http.Error(w, "planning disabled (no API key)", http.StatusServiceUnavailable)
		return
	}
	if err := s.Planner.PlanAgent(r.Context(), id); err != nil {
		httpError(w, err)
		return
	}
	writeJSON(w, map[string]any{"ok": true, "strategies": s.Strategies.ForAgent(id)})
}

func (s *Server) handleTransfer(w http.ResponseWriter, r *http.Request) {
	var req struct {
		From         int64   `json:"from"`
		To           int64   `json:"to"`
		ResourceType string  `json:"resource_type"`
		Amount       float64 `json:"amount"`
	}
	if !readJSON(w, r, &req) {
		return
	}
	out, err := s.City.TransferResource(r.Context(), req.From, req.To, req.ResourceType, req.Amount)
	writeOutcome(w, out, err)
}

func (s *Server) handleConstruct(w http.ResponseWriter, r *http.Request) {
	var req struct {
		BuilderID    int64  `json:"builder_id"`
		BuildingType string `json:"building_type"`
		Name         string `json:"name"`
	}
	if !readJSON(w, r, &req) {
		return
	}
	res, err := s.City.Construct(r.Context(), req.BuilderID, req.BuildingType, req.Name)
	writeResult(w, res, res.Outcome, err)
}

func (s *Server) handleAssignWorker(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req struct {
		AgentID int64 `json:"agent_id"`
	}
	if !readJSON(w, r, &req) {
		return
	}
	out, err := s.City.AssignWorker(r.Context(), id, req.AgentID)
	writeOutcome(w, out, err)
}

func (s *Server) handleRemoveWorker(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req struct {
		AgentID int64 `json:"agent_id"`
	}
	if !readJSON(w, r, &req) {
		return
	}
	out, err := s.City.RemoveWorker(r.Context(), id, req.AgentID)
	writeOutcome(w, out, err)
}

func (s *Server) handlePlaceOrder(w http.ResponseWriter, r *http.Request) {
	var req struct {
		SellerID   int64   `json:"seller_id"`
		SellType   string  `json:"sell_type"`
		SellAmount float64 `json:"sell_amount"`
		BuyType    string  `json:"buy_type"`
		BuyAmount  float64 `json:"buy_amount"`
	}
	if !readJSON(w, r, &req) {
		return
	}
	res, err := s.Market.PlaceOrder(r.Context(), req.SellerID, req.SellType, req.SellAmount, req.BuyType, req.BuyAmount)
	writeResult(w, res, res.Outcome, err)
}

func (s *Server) handleFillOrder(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req struct {
		BuyerID int64   `json:"buyer_id"`
		Amount  float64 `json:"amount"`
	}
	if !readJSON(w, r, &req) {
		return
	}
	res, err := s.Market.FillOrder(r.Context(), id, req.BuyerID, req.Amount)
	writeResult(w, res, res.Outcome, err)
}

func (s *Server) handleCancelOrder(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req struct {
		SellerID int64 `json:"seller_id"`
	}
	if !readJSON(w, r, &req) {
		return
	}
	out, err := s.Market.CancelOrder(r.Context(), id, req.SellerID)
	writeOutcome(w, out, err)
}

func (s *Server) handleTick(w http.ResponseWriter, r *http.Request) {
	report, err := s.Scheduler.RunTick(r.Context())
	if err != nil {
		httpError(w, err)
		return
	}
	writeJSON(w, report)
}

func (s *Server) handleExecuteStrategies(w http.ResponseWriter, r *http.Request) {
	stats, err := s.Automaton.ExecutePass(r.Context())
	if err != nil {
		httpError(w, err)
		return
	}
	writeJSON(w, stats)
}

// ── plumbing ───────────────────────────────────────────────────────

func pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		http.Error(w, "invalid id", http.StatusBadRequest)
		return 0, false
	}
	return id, true
}

func readJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		http.Error(w, "invalid JSON body: "+err.Error(), http.StatusBadRequest)
		return false
	}
	return true
}

// writeOutcome renders a bare Outcome. Business failures are 200s with
// ok=false; the reason code is the contract, not the HTTP status.
func writeOutcome(w http.ResponseWriter, out economy.Outcome, err error) {
	if err != nil {
		httpError(w, err)
		return
	}
	writeJSON(w, out)
}

// writeResult renders an operation result struct that embeds Outcome.
func writeResult(w http.ResponseWriter, result any, out economy.Outcome, err error) {
	if err != nil {
		httpError(w, err)
		return
	}
	if !out.OK {
		writeJSON(w, out)
		return
	}
	writeJSON(w, result)
}

func httpError(w http.ResponseWriter, err error) {
	slog.Error("request failed", "error", err)
	http.Error(w, "internal error", http.StatusInternalServerError)
}

func writeJSON(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.Encode(data)
}
