// Command simulator is a development stand-in for the signal platform
// backend. It serves the same REST surface and websocket stream as the real
// thing and walks a scripted execution lifecycle so the deck can be
// exercised without a live trading account.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"math/rand"
	"net/http"
	"os"
	ossignal "os/signal"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/ZE-BOSS/telegram-bot/internal/model"
	"github.com/ZE-BOSS/telegram-bot/internal/util"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(*http.Request) bool { return true },
}

type simulator struct {
	log zerolog.Logger

	mu      sync.Mutex
	signals []model.Signal
	execs   []model.Execution
	pid     int

	clients map[chan []byte]struct{}
}

func newSimulator(log zerolog.Logger) *simulator {
	return &simulator{
		log:     log,
		pid:     os.Getpid(),
		clients: make(map[chan []byte]struct{}),
	}
}

func main() {
	addr := flag.String("addr", ":8000", "listen address")
	interval := flag.Duration("interval", 20*time.Second, "delay between scripted signals")
	flag.Parse()

	log := util.NewConsoleLogger("debug")
	sim := newSimulator(log)

	ctx, cancel := ossignal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	mux := http.NewServeMux()
	mux.HandleFunc("/api/signals", sim.auth(sim.handleSignals))
	mux.HandleFunc("/api/executions", sim.auth(sim.handleExecutions))
	mux.HandleFunc("/api/executions/", sim.auth(sim.handleCommand))
	mux.HandleFunc("/api/system/status", sim.auth(sim.handleStatus))
	mux.HandleFunc("/ws", sim.handleWS)

	srv := &http.Server{Addr: *addr, Handler: mux}
	go func() {
		<-ctx.Done()
		shutdownCtx, done := context.WithTimeout(context.Background(), 2*time.Second)
		defer done()
		_ = srv.Shutdown(shutdownCtx)
	}()

	go sim.script(ctx, *interval)

	log.Info().Str("addr", *addr).Msg("simulator up")
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatal().Err(err).Msg("serve")
	}
}

// auth mirrors the backend's bearer check: any non-empty token passes.
func (s *simulator) auth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasPrefix(r.Header.Get("Authorization"), "Bearer ") {
			detail(w, http.StatusUnauthorized, "missing bearer token")
			return
		}
		next(w, r)
	}
}

func detail(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"detail": msg})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func page(r *http.Request, n int) (lo, hi int) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
	if limit <= 0 {
		limit = 100
	}
	lo = min(offset, n)
	hi = min(lo+limit, n)
	return lo, hi
}

func (s *simulator) handleSignals(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	lo, hi := page(r, len(s.signals))
	writeJSON(w, s.signals[lo:hi])
}

func (s *simulator) handleExecutions(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	lo, hi := page(r, len(s.execs))
	writeJSON(w, s.execs[lo:hi])
}

func (s *simulator) handleStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, model.SystemStatus{Status: "running", PID: &s.pid, Message: "simulated listener"})
}

// handleCommand dispatches POST /api/executions/{id}/{action}.
func (s *simulator) handleCommand(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		detail(w, http.StatusMethodNotAllowed, "POST only")
		return
	}
	rest := strings.TrimPrefix(r.URL.Path, "/api/executions/")
	id, action, ok := strings.Cut(rest, "/")
	if !ok {
		detail(w, http.StatusNotFound, "unknown path")
		return
	}

	s.mu.Lock()
	ex := s.execution(id)
	if ex == nil {
		s.mu.Unlock()
		detail(w, http.StatusNotFound, "execution not found")
		return
	}

	var err error
	switch action {
	case "confirm":
		err = s.confirm(ex)
	case "cancel":
		err = s.cancel(ex)
	case "modify":
		err = s.modify(ex, r)
	case "close":
		err = s.close(ex)
	default:
		err = fmt.Errorf("unknown action %q", action)
	}
	s.mu.Unlock()

	if err != nil {
		detail(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, map[string]string{"status": "ok"})
}

func (s *simulator) execution(id string) *model.Execution {
	for i := range s.execs {
		if s.execs[i].ID == id {
			return &s.execs[i]
		}
	}
	return nil
}

// confirm walks the execution through executing → executed and emits the
// stream frames the real backend would. Called with s.mu held.
func (s *simulator) confirm(ex *model.Execution) error {
	if ex.Status != model.ExecPendingApproval {
		return fmt.Errorf("execution is %s, not awaiting approval", ex.Status)
	}
	ex.Status = model.ExecExecuting
	s.emit("execution_update", map[string]any{
		"execution_id": ex.ID, "status": "executing", "symbol": ex.Symbol,
	})

	ticket := rand.Int63n(9_000_000) + 1_000_000
	fill := *ex.EntryPrice * (1 + (rand.Float64()-0.5)/5000)
	now := time.Now().UTC()
	ex.Status = model.ExecExecuted
	ex.Ticket = &ticket
	ex.ActualEntryPrice = &fill
	ex.ExecutedAt = &now
	s.emit("execution_confirmed", map[string]any{
		"execution_id": ex.ID, "status": "executed", "ticket": ticket,
		"message": fmt.Sprintf("filled at %.5f", fill),
	})
	go s.tickPosition(ex.ID)
	return nil
}

func (s *simulator) cancel(ex *model.Execution) error {
	if ex.Status.Terminal() {
		return fmt.Errorf("execution already %s", ex.Status)
	}
	ex.Status = model.ExecRejected
	s.emit("execution_update", map[string]any{
		"execution_id": ex.ID, "status": "rejected", "message": "cancelled by user",
	})
	return nil
}

func (s *simulator) modify(ex *model.Execution, r *http.Request) error {
	var o struct {
		StopLoss   *float64 `json:"stop_loss"`
		TakeProfit *float64 `json:"take_profit"`
	}
	if err := json.NewDecoder(r.Body).Decode(&o); err != nil {
		return fmt.Errorf("bad body: %w", err)
	}
	if ex.Status != model.ExecExecuted {
		return fmt.Errorf("no open position for %s", ex.ID)
	}
	if o.StopLoss != nil {
		ex.StopLoss = o.StopLoss
	}
	if o.TakeProfit != nil {
		ex.TakeProfit = o.TakeProfit
	}
	return nil
}

func (s *simulator) close(ex *model.Execution) error {
	if ex.Status != model.ExecExecuted {
		return fmt.Errorf("no open position for %s", ex.ID)
	}
	pl := (rand.Float64() - 0.4) * 50
	price := *ex.ActualEntryPrice
	now := time.Now().UTC()
	ex.Status = model.ExecClosed
	ex.ProfitLoss = &pl
	ex.ClosePrice = &price
	ex.ClosedAt = &now
	s.emit("position_closed", map[string]any{
		"execution_id": ex.ID, "profit_loss": pl, "close_price": price,
	})
	return nil
}

// tickPosition streams mark-to-market updates until the position leaves the
// executed state.
func (s *simulator) tickPosition(id string) {
	for range time.Tick(2 * time.Second) {
		s.mu.Lock()
		ex := s.execution(id)
		if ex == nil || ex.Status != model.ExecExecuted {
			s.mu.Unlock()
			return
		}
		pl := (rand.Float64() - 0.4) * 50
		price := *ex.ActualEntryPrice * (1 + (rand.Float64()-0.5)/1000)
		ex.ProfitLoss = &pl
		s.emit("position_update", map[string]any{
			"execution_id": id, "profit_loss": pl, "price_current": price,
		})
		s.mu.Unlock()
	}
}

// script mints a fresh signal plus pending execution on a timer.
func (s *simulator) script(ctx context.Context, interval time.Duration) {
	symbols := []string{"EURUSD", "GBPJPY", "XAUUSD", "US30"}
	sides := []string{"buy", "sell"}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		s.spawnSignal(symbols[rand.Intn(len(symbols))], sides[rand.Intn(2)])
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (s *simulator) spawnSignal(symbol, side string) {
	entry := 1 + rand.Float64()
	sl := entry * 0.99
	tp := entry * 1.02
	now := time.Now().UTC()

	sig := model.Signal{
		ID:         uuid.NewString(),
		Symbol:     symbol,
		SignalType: side,
		EntryPrice: &entry,
		StopLoss:   &sl,
		TakeProfit: &tp,
		Status:     model.SignalProcessed,
		ReceivedAt: now,
	}
	ex := model.Execution{
		ID:         uuid.NewString(),
		SignalID:   sig.ID,
		Symbol:     symbol,
		Side:       side,
		Status:     model.ExecPendingApproval,
		EntryPrice: &entry,
		StopLoss:   &sl,
		TakeProfit: &tp,
	}

	s.mu.Lock()
	s.signals = append([]model.Signal{sig}, s.signals...)
	s.execs = append([]model.Execution{ex}, s.execs...)
	s.emit("signal_received", map[string]any{"signal": sig})
	s.emit("signal_approval_required", map[string]any{
		"signal_id": sig.ID, "execution_id": ex.ID, "symbol": symbol,
		"side": side, "entry_price": entry, "stop_loss": sl, "take_profit": tp,
	})
	s.mu.Unlock()

	s.log.Info().Str("symbol", symbol).Str("side", side).Str("execution_id", ex.ID).Msg("scripted signal")
}

// emit broadcasts one stream frame to every connected client. Called with
// s.mu held.
func (s *simulator) emit(kind string, fields map[string]any) {
	frame := map[string]any{"type": kind}
	for k, v := range fields {
		frame[k] = v
	}
	data, err := json.Marshal(frame)
	if err != nil {
		s.log.Error().Err(err).Str("type", kind).Msg("marshal frame")
		return
	}
	for ch := range s.clients {
		select {
		case ch <- data:
		default:
			// Slow client; drop the frame rather than stall the script.
		}
	}
}

func (s *simulator) handleWS(w http.ResponseWriter, r *http.Request) {
	if r.URL.Query().Get("token") == "" {
		http.Error(w, "missing token", http.StatusUnauthorized)
		return
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	out := make(chan []byte, 64)
	s.mu.Lock()
	s.clients[out] = struct{}{}
	s.mu.Unlock()
	s.log.Info().Str("remote", r.RemoteAddr).Msg("stream client connected")

	defer func() {
		s.mu.Lock()
		delete(s.clients, out)
		s.mu.Unlock()
		_ = conn.Close()
		s.log.Info().Str("remote", r.RemoteAddr).Msg("stream client gone")
	}()

	conn.SetPingHandler(func(data string) error {
		return conn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(5*time.Second))
	})

	// Reader exists only to surface the close.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-done:
			return
		case data := <-out:
			if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		}
	}
}
