package engine

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"sync"
	"testing"

	"github.com/rs/zerolog"

	"github.com/ZE-BOSS/telegram-bot/internal/api"
	"github.com/ZE-BOSS/telegram-bot/internal/model"
	"github.com/ZE-BOSS/telegram-bot/internal/notify"
	"github.com/ZE-BOSS/telegram-bot/internal/stream"
)

// stubBackend satisfies Fetcher and Commander with canned data.
type stubBackend struct {
	mu       sync.Mutex
	signals  []model.Signal
	execs    []model.Execution
	status   model.SystemStatus
	fetchErr error

	confirmed []string
	rejected  []string
	closed    []string
	cmdErr    error
}

func (s *stubBackend) FetchSignals(context.Context, int, int) ([]model.Signal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]model.Signal(nil), s.signals...), s.fetchErr
}

func (s *stubBackend) FetchExecutions(context.Context, int, int) ([]model.Execution, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]model.Execution(nil), s.execs...), s.fetchErr
}

func (s *stubBackend) FetchStatus(context.Context) (model.SystemStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status, s.fetchErr
}

func (s *stubBackend) ConfirmExecution(_ context.Context, id string, _ api.Overrides) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.confirmed = append(s.confirmed, id)
	return s.cmdErr
}

func (s *stubBackend) RejectExecution(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rejected = append(s.rejected, id)
	return s.cmdErr
}

func (s *stubBackend) ModifyExecution(_ context.Context, id string, _ api.Overrides) error {
	return s.cmdErr
}

func (s *stubBackend) CloseExecution(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = append(s.closed, id)
	return s.cmdErr
}

func newTestEngine(backend *stubBackend, opts ...Option) *Engine {
	return New(backend, backend, zerolog.Nop(), opts...)
}

func fptr(f float64) *float64 { return &f }

func exec(id string, status model.ExecStatus) model.Execution {
	return model.Execution{ID: id, SignalID: "S-" + id, Symbol: "EURUSD", Side: "buy", Status: status}
}

func drainWake(e *Engine) []collection {
	var out []collection
	for {
		select {
		case col := <-e.wake:
			out = append(out, col)
		default:
			return out
		}
	}
}

func TestStatusNeverDecreases(t *testing.T) {
	e := newTestEngine(&stubBackend{})
	e.applyResult(execsResult{execs: []model.Execution{exec("E1", model.ExecExecuted)}})

	// Streamed regression: ignored.
	e.applyEvent(stream.ExecutionUpdate{ExecutionID: "E1", Status: "received"})
	if got := e.store.execution("E1").Status; got != model.ExecExecuted {
		t.Fatalf("stream event regressed status to %s", got)
	}

	// Stale snapshot regression: clamped.
	tkt := int64(778899)
	e.applyResult(execsResult{execs: []model.Execution{{ID: "E1", Status: model.ExecPendingApproval}}})
	if got := e.store.execution("E1").Status; got != model.ExecExecuted {
		t.Fatalf("snapshot regressed status to %s", got)
	}

	// Forward transitions still apply, from both sources.
	e.applyEvent(stream.ExecutionUpdate{Confirmed: true, ExecutionID: "E1", Status: "executed", Ticket: &tkt})
	e.applyResult(execsResult{execs: []model.Execution{{ID: "E1", Status: model.ExecClosed}}})
	if got := e.store.execution("E1").Status; got != model.ExecClosed {
		t.Fatalf("expected closed, got %s", got)
	}
}

func TestTerminalOutcomesDoNotOverwriteEachOther(t *testing.T) {
	e := newTestEngine(&stubBackend{})
	e.applyEvent(stream.ExecutionUpdate{ExecutionID: "E1", Status: "failed"})
	e.applyEvent(stream.ExecutionUpdate{ExecutionID: "E1", Status: "executed"})
	if got := e.store.execution("E1").Status; got != model.ExecFailed {
		t.Fatalf("equal-rank transition applied: %s", got)
	}
}

func TestEventIdempotence(t *testing.T) {
	events := []stream.Event{
		stream.SignalReceived{Signal: model.Signal{ID: "S1", Symbol: "EURUSD", SignalType: "buy", EntryPrice: fptr(1.08)}},
		stream.ApprovalRequired{SignalID: "S1", ExecutionID: "E1", Symbol: "EURUSD", Side: "buy", StopLoss: fptr(1.07)},
		stream.ExecutionUpdate{Confirmed: true, ExecutionID: "E1", Status: "executed"},
		stream.PositionUpdate{ExecutionID: "E1", ProfitLoss: 7.5},
		stream.PositionClosed{ExecutionID: "E1", ProfitLoss: 9.1, ClosePrice: 1.09},
	}

	for _, ev := range events {
		once := newTestEngine(&stubBackend{})
		twice := newTestEngine(&stubBackend{})

		once.applyEvent(ev)
		twice.applyEvent(ev)
		twice.applyEvent(ev)

		a := View{Signals: once.store.signalsCopy(), Executions: once.store.execsCopy()}
		b := View{Signals: twice.store.signalsCopy(), Executions: twice.store.execsCopy()}
		stripTimes(&a)
		stripTimes(&b)
		if !reflect.DeepEqual(a, b) {
			t.Fatalf("event %s not idempotent:\nonce:  %+v\ntwice: %+v", ev.Kind(), a, b)
		}
	}
}

// stripTimes zeroes wall-clock fields stamped on first observation so only
// reconciled content is compared.
func stripTimes(v *View) {
	for i := range v.Signals {
		v.Signals[i].ReceivedAt = model.Signal{}.ReceivedAt
	}
	for i := range v.Executions {
		v.Executions[i].ExecutedAt = nil
		v.Executions[i].ClosedAt = nil
	}
}

func TestSnapshotGCDropsAbsentRecords(t *testing.T) {
	e := newTestEngine(&stubBackend{})
	e.applyResult(execsResult{execs: []model.Execution{exec("A", model.ExecExecuted), exec("B", model.ExecExecuted)}})

	// A live P/L patch between snapshots neither removes nor pins B.
	e.applyEvent(stream.PositionUpdate{ExecutionID: "B", ProfitLoss: 3.2})
	if ex := e.store.execution("B"); ex == nil || ex.ProfitLoss == nil || *ex.ProfitLoss != 3.2 {
		t.Fatalf("patch lost: %+v", e.store.execution("B"))
	}

	e.applyResult(execsResult{execs: []model.Execution{exec("A", model.ExecExecuted)}})
	if e.store.execution("B") != nil {
		t.Fatal("record B survived a full snapshot without it")
	}
	if e.store.execution("A") == nil {
		t.Fatal("record A dropped")
	}

	// A patch after GC does not resurrect the record.
	e.applyEvent(stream.PositionUpdate{ExecutionID: "B", ProfitLoss: -1})
	if e.store.execution("B") != nil {
		t.Fatal("position_update resurrected a collected record")
	}
}

func TestPositionUpdatePatchesOnlyProfitLoss(t *testing.T) {
	e := newTestEngine(&stubBackend{})
	before := exec("E1", model.ExecExecuted)
	before.Ticket = new(int64)
	*before.Ticket = 4501
	before.EntryPrice = fptr(1.08)
	before.ActualEntryPrice = fptr(1.0805)
	before.StopLoss = fptr(1.07)
	before.TakeProfit = fptr(1.10)
	e.applyResult(execsResult{execs: []model.Execution{before}})

	e.applyEvent(stream.PositionUpdate{ExecutionID: "E1", ProfitLoss: -4.25, PriceCurrent: 1.0793})

	after := *e.store.execution("E1")
	if after.ProfitLoss == nil || *after.ProfitLoss != -4.25 {
		t.Fatalf("profit_loss not patched: %+v", after)
	}
	after.ProfitLoss = nil
	if !reflect.DeepEqual(before, after) {
		t.Fatalf("position_update touched fields beyond profit_loss:\nbefore: %+v\nafter:  %+v", before, after)
	}
}

func TestSignalReceivedScenario(t *testing.T) {
	// Connect, empty snapshots, then a streamed signal.
	e := newTestEngine(&stubBackend{})
	e.applyConnChange(true)
	e.applyResult(signalsResult{})
	e.applyResult(execsResult{})

	e.applyEvent(stream.SignalReceived{Signal: model.Signal{ID: "S1", Symbol: "EURUSD", SignalType: "buy"}})

	if len(e.store.signals) != 1 {
		t.Fatalf("expected 1 signal, got %d", len(e.store.signals))
	}
	sig := e.store.signals[0]
	if sig.Status != model.SignalPending {
		t.Fatalf("expected pending, got %s", sig.Status)
	}
	var found bool
	for _, entry := range e.journal.Snapshot() {
		if entry.Message == "New Signal: EURUSD BUY" {
			found = true
		}
	}
	if !found {
		t.Fatalf("journal missing new-signal entry: %+v", e.journal.Snapshot())
	}
}

func TestConfirmScenario(t *testing.T) {
	backend := &stubBackend{}
	e := newTestEngine(backend)

	e.applyEvent(stream.ApprovalRequired{SignalID: "S1", ExecutionID: "E1", Symbol: "XAUUSD", Side: "buy"})
	if got := e.store.execution("E1").Status; got != model.ExecPendingApproval {
		t.Fatalf("expected pending_approval, got %s", got)
	}

	if err := e.Confirm(context.Background(), "E1", api.Overrides{StopLoss: fptr(1.2345)}); err != nil {
		t.Fatalf("Confirm: %v", err)
	}
	if len(backend.confirmed) != 1 || backend.confirmed[0] != "E1" {
		t.Fatalf("confirm not forwarded: %v", backend.confirmed)
	}
	// No optimistic mutation.
	if got := e.store.execution("E1").Status; got != model.ExecPendingApproval {
		t.Fatalf("command mutated state to %s", got)
	}

	// Backend confirms over the stream, then the triggered re-fetch lands.
	e.applyEvent(stream.ExecutionUpdate{Confirmed: true, ExecutionID: "E1", Status: "executed"})
	tkt := int64(20240817)
	executed := exec("E1", model.ExecExecuted)
	executed.Ticket = &tkt
	e.applyResult(execsResult{execs: []model.Execution{executed}})

	final := e.store.execution("E1")
	if final.Status != model.ExecExecuted || final.Ticket == nil || *final.Ticket != tkt {
		t.Fatalf("final state wrong: %+v", final)
	}
}

func TestReconnectTriggersFullSnapshot(t *testing.T) {
	e := newTestEngine(&stubBackend{})
	drainWake(e)

	e.applyConnChange(true)
	if !e.connected {
		t.Fatal("connectivity flag not set")
	}
	cols := drainWake(e)
	if len(cols) != 2 {
		t.Fatalf("expected signals+executions refetch, got %v", cols)
	}

	e.applyConnChange(false)
	if e.connected {
		t.Fatal("connectivity flag not cleared")
	}
	logs := e.journal.Snapshot()
	if len(logs) < 2 || !strings.Contains(logs[len(logs)-1].Message, "Disconnected") {
		t.Fatalf("journal missing disconnect entry: %+v", logs)
	}
}

func TestConnectivityFlipSurvivesBusyInbox(t *testing.T) {
	e := newTestEngine(&stubBackend{})

	// Saturate the shared results inbox; flips must not compete with it.
	for i := 0; i < inboxSize; i++ {
		e.results <- journaled{}
	}

	e.SetConnected(true)
	e.SetConnected(false)
	e.SetConnected(true)

	select {
	case connected := <-e.connCh:
		if !connected {
			t.Fatal("expected the latest flip to be retained")
		}
	default:
		t.Fatal("connectivity flip lost")
	}
}

func TestFetchFailureLeavesStateUntouched(t *testing.T) {
	e := newTestEngine(&stubBackend{})
	e.applyResult(execsResult{execs: []model.Execution{exec("E1", model.ExecExecuted)}})

	e.applyResult(fetchFailed{col: colExecutions, err: errors.New("gateway timeout")})

	if e.store.execution("E1") == nil {
		t.Fatal("fetch failure wiped state")
	}
	logs := e.journal.Snapshot()
	if len(logs) == 0 || logs[len(logs)-1].Level != model.LevelWarning {
		t.Fatalf("fetch failure not journaled: %+v", logs)
	}
}

func TestNotifierReceivesOnlyAlertKinds(t *testing.T) {
	var mu sync.Mutex
	var kinds []string
	e := newTestEngine(&stubBackend{}, WithNotifier(notify.Func(func(a model.Alert) {
		mu.Lock()
		kinds = append(kinds, a.Kind)
		mu.Unlock()
	})))

	e.applyEvent(stream.SignalReceived{Signal: model.Signal{ID: "S1", Symbol: "EURUSD", SignalType: "buy"}})
	e.applyEvent(stream.ApprovalRequired{ExecutionID: "E1", Symbol: "EURUSD", Side: "buy"})
	e.applyEvent(stream.ExecutionUpdate{ExecutionID: "E1", Status: "executing"})
	e.applyEvent(stream.PositionClosed{ExecutionID: "E1", ProfitLoss: 1})
	e.applyEvent(stream.LogEvent{Level: "info", Message: "noise"})

	mu.Lock()
	defer mu.Unlock()
	want := []string{"signal_received", "signal_approval_required", "position_closed"}
	if !reflect.DeepEqual(kinds, want) {
		t.Fatalf("alert kinds = %v, want %v", kinds, want)
	}
}

func TestUnknownEventOnlyJournals(t *testing.T) {
	e := newTestEngine(&stubBackend{})
	drainWake(e)

	e.applyEvent(stream.UnknownEvent{Type: "heartbeat", Raw: []byte(`{"type":"heartbeat"}`)})

	if len(e.store.signals) != 0 || len(e.store.execs) != 0 {
		t.Fatal("unknown event reached the merge path")
	}
	if cols := drainWake(e); len(cols) != 0 {
		t.Fatalf("unknown event triggered fetches: %v", cols)
	}
	logs := e.journal.Snapshot()
	if len(logs) != 1 || !strings.Contains(logs[0].Message, "heartbeat") {
		t.Fatalf("unknown event not journaled: %+v", logs)
	}
}

func TestSubscribeDeliversCoalescedViews(t *testing.T) {
	e := newTestEngine(&stubBackend{})
	views, cancel := e.Subscribe()
	defer cancel()

	e.applyEvent(stream.SignalReceived{Signal: model.Signal{ID: "S1", Symbol: "EURUSD", SignalType: "buy"}})
	e.publish()
	e.applyEvent(stream.SignalReceived{Signal: model.Signal{ID: "S2", Symbol: "GBPUSD", SignalType: "sell"}})
	e.publish()

	v := <-views
	if len(v.Signals) != 2 {
		t.Fatalf("expected the latest view with 2 signals, got %d", len(v.Signals))
	}
	if _, ok := v.Signal("S2"); !ok {
		t.Fatal("latest signal missing from view")
	}

	// Views are copies: mutating one must not leak back.
	v.Signals[0].Symbol = "mutated"
	if e.store.signals[0].Symbol != "EURUSD" {
		t.Fatal("view mutation leaked into the store")
	}
}
