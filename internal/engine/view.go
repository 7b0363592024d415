package engine

import (
	"sync"

	"github.com/ZE-BOSS/telegram-bot/internal/model"
)

// View is one immutable observation of the reconciled state. Slices are
// copies in display order (server order for snapshots, arrival order for
// records first seen via events).
type View struct {
	Signals    []model.Signal
	Executions []model.Execution
	Status     model.SystemStatus
	Connected  bool
	Logs       []model.LogEntry
}

// Signal returns the signal with the given id, if present.
func (v View) Signal(id string) (model.Signal, bool) {
	for _, s := range v.Signals {
		if s.ID == id {
			return s, true
		}
	}
	return model.Signal{}, false
}

// Execution returns the execution with the given id, if present.
func (v View) Execution(id string) (model.Execution, bool) {
	for _, ex := range v.Executions {
		if ex.ID == id {
			return ex, true
		}
	}
	return model.Execution{}, false
}

// subscribers fans reconciled views out to observers. Each subscriber
// channel holds one pending view; a stale unread view is replaced rather
// than queued, so slow observers see the latest state instead of a backlog.
type subscribers struct {
	mu     sync.Mutex
	seq    int
	chans  map[int]chan View
	closed bool
}

func newSubscribers() *subscribers {
	return &subscribers{chans: make(map[int]chan View)}
}

func (s *subscribers) add() (<-chan View, func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	id := s.seq
	ch := make(chan View, 1)
	if s.closed {
		close(ch)
		return ch, func() {}
	}
	s.chans[id] = ch
	return ch, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if c, ok := s.chans[id]; ok {
			delete(s.chans, id)
			close(c)
		}
	}
}

func (s *subscribers) send(v View) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ch := range s.chans {
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- v:
		default:
		}
	}
}

func (s *subscribers) closeAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	for id, ch := range s.chans {
		delete(s.chans, id)
		close(ch)
	}
}

// Subscribe registers an observer of reconciled updates. The returned cancel
// function must be called when done; the channel closes on engine shutdown.
func (e *Engine) Subscribe() (<-chan View, func()) {
	return e.subs.add()
}

// publish snapshots current state and fans it out. Called only from the run
// goroutine after each reconciled update.
func (e *Engine) publish() {
	e.subs.send(View{
		Signals:    e.store.signalsCopy(),
		Executions: e.store.execsCopy(),
		Status:     e.store.status,
		Connected:  e.connected,
		Logs:       e.journal.Snapshot(),
	})
}
