// Package notify maps selected stream events to user-facing alerts. Dispatch
// is fire-and-forget: a notifier must never block the reconciler and its
// failures are swallowed.
package notify

import (
	"github.com/rs/zerolog"

	"github.com/ZE-BOSS/telegram-bot/internal/metrics"
	"github.com/ZE-BOSS/telegram-bot/internal/model"
)

// Notifier displays an alert to the user. Implementations must return
// quickly; delivery problems are theirs to swallow.
type Notifier interface {
	Notify(alert model.Alert)
}

// Func adapts a function to the Notifier interface.
type Func func(model.Alert)

func (f Func) Notify(alert model.Alert) { f(alert) }

// Noop discards every alert.
type Noop struct{}

func (Noop) Notify(model.Alert) {}

// LogNotifier writes alerts to the application log. It is the default sink
// when no desktop integration is wired in.
type LogNotifier struct {
	log zerolog.Logger
}

// NewLogNotifier wraps a logger as an alert sink.
func NewLogNotifier(log zerolog.Logger) *LogNotifier {
	return &LogNotifier{log: log}
}

func (n *LogNotifier) Notify(alert model.Alert) {
	n.log.Info().
		Str("kind", alert.Kind).
		Str("execution_id", alert.ExecutionID).
		Str("body", alert.Body).
		Msg(alert.Title)
}

// Dispatch forwards the alert to the notifier, counting it and absorbing
// panics so a broken display path can never take down reconciliation.
func Dispatch(n Notifier, alert model.Alert) {
	if n == nil {
		return
	}
	defer func() {
		_ = recover()
	}()
	metrics.NotificationsTotal.WithLabelValues(alert.Kind).Inc()
	n.Notify(alert)
}
