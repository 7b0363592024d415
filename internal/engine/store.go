package engine

import (
	"time"

	"github.com/ZE-BOSS/telegram-bot/internal/model"
)

// store holds the reconciled collections. It is owned exclusively by the
// engine's run goroutine; no locking here.
type store struct {
	signals   []model.Signal
	signalIdx map[string]int
	execs     []model.Execution
	execIdx   map[string]int
	status    model.SystemStatus
}

func newStore() *store {
	return &store{
		signalIdx: make(map[string]int),
		execIdx:   make(map[string]int),
	}
}

// upsertSignal merges a partial signal payload carried by a stream event.
// A later snapshot overwrites everything set here.
func (s *store) upsertSignal(in model.Signal) *model.Signal {
	if in.Status == "" {
		in.Status = model.SignalPending
	}
	if i, ok := s.signalIdx[in.ID]; ok {
		if in.ReceivedAt.IsZero() {
			in.ReceivedAt = s.signals[i].ReceivedAt
		}
		s.signals[i] = in
		return &s.signals[i]
	}
	if in.ReceivedAt.IsZero() {
		in.ReceivedAt = time.Now().UTC()
	}
	s.signalIdx[in.ID] = len(s.signals)
	s.signals = append(s.signals, in)
	return &s.signals[len(s.signals)-1]
}

// execution returns the record for id, or nil when it was never observed.
func (s *store) execution(id string) *model.Execution {
	if i, ok := s.execIdx[id]; ok {
		return &s.execs[i]
	}
	return nil
}

// observeExecution returns the record for id, creating it from the partial
// event payload on first observation.
func (s *store) observeExecution(partial model.Execution) *model.Execution {
	if ex := s.execution(partial.ID); ex != nil {
		return ex
	}
	if partial.Status == "" {
		partial.Status = model.ExecReceived
	}
	s.execIdx[partial.ID] = len(s.execs)
	s.execs = append(s.execs, partial)
	return &s.execs[len(s.execs)-1]
}

// advance applies a status transition to ex under the monotonic rule:
// duplicates and regressions are ignored. Returns whether status moved.
func advance(ex *model.Execution, to model.ExecStatus) bool {
	if !ex.Status.Before(to) {
		return false
	}
	ex.Status = to
	return true
}

// replaceSignals installs a full snapshot of the signal collection. The
// snapshot is authoritative: records absent from it are dropped (the GC
// rule) and every field comes from the server.
func (s *store) replaceSignals(snapshot []model.Signal) {
	s.signals = append(s.signals[:0:0], snapshot...)
	s.signalIdx = make(map[string]int, len(s.signals))
	for i := range s.signals {
		s.signalIdx[s.signals[i].ID] = i
	}
}

// replaceExecutions installs a full snapshot of the execution collection.
// Same GC semantics as replaceSignals, with one carve-out: a snapshot never
// lowers an execution's status rank, so a stale page racing a newer stream
// event cannot roll the lifecycle backwards.
func (s *store) replaceExecutions(snapshot []model.Execution) {
	held := make(map[string]model.Execution, len(s.execs))
	for i := range s.execs {
		held[s.execs[i].ID] = s.execs[i]
	}

	s.execs = append(s.execs[:0:0], snapshot...)
	s.execIdx = make(map[string]int, len(s.execs))
	for i := range s.execs {
		ex := &s.execs[i]
		if prev, ok := held[ex.ID]; ok && !prev.Status.Before(ex.Status) && ex.Status != prev.Status {
			// Stale page: keep the advanced status and the fill fields that
			// arrived with it, so ticket stays set once executed.
			ex.Status = prev.Status
			if ex.Ticket == nil {
				ex.Ticket = prev.Ticket
			}
			if ex.ActualEntryPrice == nil {
				ex.ActualEntryPrice = prev.ActualEntryPrice
			}
			if ex.ExecutedAt == nil {
				ex.ExecutedAt = prev.ExecutedAt
			}
		}
		s.execIdx[ex.ID] = i
	}
}

func (s *store) signalsCopy() []model.Signal {
	out := make([]model.Signal, len(s.signals))
	copy(out, s.signals)
	return out
}

func (s *store) execsCopy() []model.Execution {
	out := make([]model.Execution, len(s.execs))
	copy(out, s.execs)
	return out
}
