// Package engine is the state reconciler: it merges the websocket event
// stream and REST snapshots into one coherent view of signals and
// executions. All mutation happens on a single goroutine draining one inbox;
// snapshot fetches run on a side goroutine and post their results back into
// the same inbox, so stream/snapshot races resolve under the merge rules
// rather than under the scheduler.
package engine

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/ZE-BOSS/telegram-bot/internal/api"
	"github.com/ZE-BOSS/telegram-bot/internal/journal"
	"github.com/ZE-BOSS/telegram-bot/internal/metrics"
	"github.com/ZE-BOSS/telegram-bot/internal/model"
	"github.com/ZE-BOSS/telegram-bot/internal/notify"
	"github.com/ZE-BOSS/telegram-bot/internal/stream"
)

// Fetcher pulls authoritative snapshots from the backend.
type Fetcher interface {
	FetchSignals(ctx context.Context, limit, offset int) ([]model.Signal, error)
	FetchExecutions(ctx context.Context, limit, offset int) ([]model.Execution, error)
	FetchStatus(ctx context.Context) (model.SystemStatus, error)
}

// Commander forwards user decisions to the backend. The engine never mutates
// local state on command issuance; the stream/snapshot cycle reflects the
// outcome.
type Commander interface {
	ConfirmExecution(ctx context.Context, id string, o api.Overrides) error
	RejectExecution(ctx context.Context, id string) error
	ModifyExecution(ctx context.Context, id string, o api.Overrides) error
	CloseExecution(ctx context.Context, id string) error
}

const (
	defaultPageLimit      = 100
	defaultStatusInterval = 5 * time.Second
	inboxSize             = 256
)

// collection names both snapshot targets for the fetch worker.
type collection string

const (
	colSignals    collection = "signals"
	colExecutions collection = "executions"
)

// result messages posted back into the reconciler inbox.
type (
	signalsResult struct{ signals []model.Signal }
	execsResult   struct{ execs []model.Execution }
	statusResult  struct{ status model.SystemStatus }
	fetchFailed   struct {
		col collection
		err error
	}
	journaled struct{}
)

// Engine owns the reconciled collections. Construct with New, start with
// Run, observe with Subscribe.
type Engine struct {
	fetcher   Fetcher
	commander Commander
	notifier  notify.Notifier
	log       zerolog.Logger

	events  chan stream.Event
	results chan any
	wake    chan collection
	connCh  chan bool

	store       *store
	journal     *journal.Journal
	journalSink journal.Sink
	subs        *subscribers

	connected      bool
	pageLimit      int
	statusInterval time.Duration
}

// Option configures Engine construction.
type Option func(*Engine)

// WithPageLimit sets the page size for collection snapshots.
func WithPageLimit(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.pageLimit = n
		}
	}
}

// WithStatusInterval overrides the system-status polling cadence.
func WithStatusInterval(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.statusInterval = d
		}
	}
}

// WithJournalCapacity bounds the retained activity log.
func WithJournalCapacity(n int) Option {
	return func(e *Engine) { e.journal = journal.New(n) }
}

// WithJournalSink routes every journal entry to sink, e.g. a
// journal.JSONLRecorder for on-disk history.
func WithJournalSink(s journal.Sink) Option {
	return func(e *Engine) { e.journalSink = s }
}

// WithNotifier installs the alert sink for user-facing notifications.
func WithNotifier(n notify.Notifier) Option {
	return func(e *Engine) { e.notifier = n }
}

// New builds an engine around the given backend clients. fetcher and
// commander are typically the same *api.Client.
func New(fetcher Fetcher, commander Commander, log zerolog.Logger, opts ...Option) *Engine {
	e := &Engine{
		fetcher:        fetcher,
		commander:      commander,
		notifier:       notify.Noop{},
		log:            log,
		events:         make(chan stream.Event, inboxSize),
		results:        make(chan any, inboxSize),
		wake:           make(chan collection, 8),
		connCh:         make(chan bool, 1),
		store:          newStore(),
		journal:        journal.New(journal.DefaultCapacity),
		subs:           newSubscribers(),
		pageLimit:      defaultPageLimit,
		statusInterval: defaultStatusInterval,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.journalSink != nil {
		e.journal.Attach(e.journalSink)
	}
	return e
}

// Events is the channel the transport connection delivers decoded events to.
func (e *Engine) Events() chan<- stream.Event { return e.events }

// SetConnected records a connectivity flip from the transport. Connectivity
// is a level, not an edge: the slot holds only the latest value, replacing
// an unread stale one, so a flip is never lost to a busy inbox. Safe to call
// from any goroutine.
func (e *Engine) SetConnected(connected bool) {
	for {
		select {
		case e.connCh <- connected:
			return
		default:
		}
		select {
		case <-e.connCh:
		default:
		}
	}
}

// Run drives reconciliation until ctx is canceled. It owns all state
// mutation; fetches and the status poll run on helpers that only post
// messages back.
func (e *Engine) Run(ctx context.Context) error {
	go e.fetchWorker(ctx)
	go e.statusLoop(ctx)

	// Process-start snapshot.
	e.requestFetch(colSignals)
	e.requestFetch(colExecutions)

	for {
		select {
		case <-ctx.Done():
			e.subs.closeAll()
			return ctx.Err()
		case ev := <-e.events:
			e.applyEvent(ev)
			e.publish()
		case msg := <-e.results:
			e.applyResult(msg)
			e.publish()
		case connected := <-e.connCh:
			e.applyConnChange(connected)
			e.publish()
		}
	}
}

// requestFetch schedules a snapshot of the collection; bursts coalesce in
// the wake channel.
func (e *Engine) requestFetch(col collection) {
	select {
	case e.wake <- col:
	default:
	}
}

func (e *Engine) fetchWorker(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case col := <-e.wake:
			e.fetch(ctx, col)
		}
	}
}

func (e *Engine) fetch(ctx context.Context, col collection) {
	var msg any
	var err error
	switch col {
	case colSignals:
		var signals []model.Signal
		if signals, err = e.fetcher.FetchSignals(ctx, e.pageLimit, 0); err == nil {
			msg = signalsResult{signals: signals}
		}
	case colExecutions:
		var execs []model.Execution
		if execs, err = e.fetcher.FetchExecutions(ctx, e.pageLimit, 0); err == nil {
			msg = execsResult{execs: execs}
		}
	}
	if err != nil {
		metrics.SnapshotFetchesTotal.WithLabelValues(string(col), "error").Inc()
		msg = fetchFailed{col: col, err: err}
	} else {
		metrics.SnapshotFetchesTotal.WithLabelValues(string(col), "ok").Inc()
	}
	select {
	case e.results <- msg:
	case <-ctx.Done():
	}
}

func (e *Engine) statusLoop(ctx context.Context) {
	ticker := time.NewTicker(e.statusInterval)
	defer ticker.Stop()

	e.pollStatus(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.pollStatus(ctx)
		}
	}
}

func (e *Engine) pollStatus(ctx context.Context) {
	status, err := e.fetcher.FetchStatus(ctx)
	if err != nil {
		metrics.SnapshotFetchesTotal.WithLabelValues("status", "error").Inc()
		select {
		case e.results <- fetchFailed{col: "status", err: err}:
		case <-ctx.Done():
		}
		return
	}
	metrics.SnapshotFetchesTotal.WithLabelValues("status", "ok").Inc()
	select {
	case e.results <- statusResult{status: status}:
	case <-ctx.Done():
	}
}

func (e *Engine) applyResult(msg any) {
	switch m := msg.(type) {
	case signalsResult:
		e.store.replaceSignals(m.signals)
	case execsResult:
		e.store.replaceExecutions(m.execs)
	case statusResult:
		e.store.status = m.status
	case fetchFailed:
		// Snapshot failures leave current state untouched: stale beats blank.
		e.log.Warn().Err(m.err).Str("collection", string(m.col)).Msg("snapshot fetch failed")
		e.journal.Appendf(model.LevelWarning, fmt.Sprintf("Fetch %s failed: %v", m.col, m.err), "")
	case journaled:
		// Journal already updated by a command path; publish only.
	}
}

func (e *Engine) applyConnChange(connected bool) {
	if connected == e.connected {
		return
	}
	e.connected = connected
	if connected {
		e.journal.Appendf(model.LevelSuccess, "Connected to backend", "")
		// Reconnect trigger: rebuild the whole view from snapshots.
		e.requestFetch(colSignals)
		e.requestFetch(colExecutions)
	} else {
		e.journal.Appendf(model.LevelWarning, "Disconnected from backend", "")
	}
}

func (e *Engine) applyEvent(ev stream.Event) {
	switch t := ev.(type) {
	case stream.SignalReceived:
		e.onSignalReceived(t)
	case stream.SignalUpdate:
		// The payload is a hint, not authoritative.
		e.requestFetch(colSignals)
	case stream.ApprovalRequired:
		e.onApprovalRequired(t)
	case stream.ExecutionUpdate:
		e.onExecutionUpdate(t)
	case stream.PositionUpdate:
		e.onPositionUpdate(t)
	case stream.PositionClosed:
		e.onPositionClosed(t)
	case stream.ErrorEvent:
		e.journal.Appendf(model.LevelError, t.Message, t.ExecutionID)
		e.requestFetch(colExecutions)
	case stream.LogEvent:
		e.journal.Appendf(model.ParseLogLevel(t.Level), t.Message, "")
	case stream.UnknownEvent:
		// Forward-compatible: journal and move on.
		e.log.Debug().Str("kind", t.Type).Msg("unrecognized event kind")
		e.journal.Appendf(model.LevelInfo, "Event: "+t.Type, "")
	default:
		e.log.Warn().Str("kind", ev.Kind()).Msg("event kind with no handler")
	}
}

func (e *Engine) onSignalReceived(t stream.SignalReceived) {
	if t.Signal.ID == "" {
		e.log.Warn().Msg("signal_received without id, waiting for snapshot")
		e.requestFetch(colSignals)
		return
	}
	sig := e.store.upsertSignal(t.Signal)
	msg := fmt.Sprintf("New Signal: %s %s", sig.Symbol, strings.ToUpper(sig.SignalType))
	e.journal.Appendf(model.LevelInfo, msg, "")
	notify.Dispatch(e.notifier, model.Alert{
		Kind:  t.Kind(),
		Title: "New signal",
		Body:  fmt.Sprintf("%s %s", sig.Symbol, strings.ToUpper(sig.SignalType)),
	})
	// The embedded payload omits fields (raw message, confidence); fill them in.
	e.requestFetch(colSignals)
}

func (e *Engine) onApprovalRequired(t stream.ApprovalRequired) {
	ex := e.store.observeExecution(model.Execution{
		ID:         t.ExecutionID,
		SignalID:   t.SignalID,
		Symbol:     t.Symbol,
		Side:       t.Side,
		EntryPrice: t.EntryPrice,
		StopLoss:   t.StopLoss,
		TakeProfit: t.TakeProfit,
	})
	advance(ex, model.ExecPendingApproval)
	msg := fmt.Sprintf("Approval required: %s %s", ex.Symbol, strings.ToUpper(ex.Side))
	e.journal.Appendf(model.LevelWarning, msg, ex.ID)
	notify.Dispatch(e.notifier, model.Alert{
		Kind:        t.Kind(),
		Title:       "Approval required",
		Body:        fmt.Sprintf("%s %s", ex.Symbol, strings.ToUpper(ex.Side)),
		ExecutionID: ex.ID,
	})
	e.requestFetch(colExecutions)
}

func (e *Engine) onExecutionUpdate(t stream.ExecutionUpdate) {
	status, ok := model.ParseExecStatus(t.Status)
	if !ok {
		e.log.Warn().Str("status", t.Status).Str("execution_id", t.ExecutionID).Msg("unknown execution status")
		e.requestFetch(colExecutions)
		return
	}

	ex := e.store.observeExecution(model.Execution{ID: t.ExecutionID, Symbol: t.Symbol, Status: status})
	if advance(ex, status) || ex.Status == status {
		if t.Ticket != nil {
			ex.Ticket = t.Ticket
		}
		if status == model.ExecExecuted && ex.ExecutedAt == nil {
			now := time.Now().UTC()
			ex.ExecutedAt = &now
		}
	}

	msg := fmt.Sprintf("Execution %s: %s", ex.ID, ex.Status)
	if t.Message != "" {
		msg += " - " + t.Message
	}
	level := model.LevelInfo
	if ex.Status == model.ExecFailed {
		level = model.LevelError
	} else if ex.Status == model.ExecExecuted {
		level = model.LevelSuccess
	}
	e.journal.Appendf(level, msg, ex.ID)

	e.requestFetch(colExecutions)
	if !t.Confirmed {
		// execution_update may accompany a signal status change.
		e.requestFetch(colSignals)
	}
}

func (e *Engine) onPositionUpdate(t stream.PositionUpdate) {
	// The one field updated without a re-fetch: live P/L ticks too often to
	// hit the REST API for each.
	ex := e.store.execution(t.ExecutionID)
	if ex == nil {
		e.log.Debug().Str("execution_id", t.ExecutionID).Msg("position_update for unknown execution")
		return
	}
	pl := t.ProfitLoss
	ex.ProfitLoss = &pl
}

func (e *Engine) onPositionClosed(t stream.PositionClosed) {
	ex := e.store.observeExecution(model.Execution{ID: t.ExecutionID, Status: model.ExecExecuted})
	if advance(ex, model.ExecClosed) || ex.Status == model.ExecClosed {
		pl, cp := t.ProfitLoss, t.ClosePrice
		ex.ProfitLoss = &pl
		ex.ClosePrice = &cp
		if ex.ClosedAt == nil {
			now := time.Now().UTC()
			ex.ClosedAt = &now
		}
	}
	e.journal.Appendf(model.LevelInfo, fmt.Sprintf("Position closed, P/L: %.2f", t.ProfitLoss), ex.ID)
	notify.Dispatch(e.notifier, model.Alert{
		Kind:        t.Kind(),
		Title:       "Position closed",
		Body:        fmt.Sprintf("%s P/L %.2f", ex.Symbol, t.ProfitLoss),
		ExecutionID: ex.ID,
	})
	e.requestFetch(colExecutions)
}
