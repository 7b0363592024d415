// Package model defines the records the sync engine keeps in view: trading
// signals parsed from Telegram channels, broker-side trade executions, journal
// entries, and the backend process status. Field names and JSON tags follow
// the backend wire format.
package model

import "time"

// SignalStatus is the lifecycle of a parsed signal.
type SignalStatus string

const (
	SignalPending   SignalStatus = "pending"
	SignalProcessed SignalStatus = "processed"
	SignalRejected  SignalStatus = "rejected"
)

// Signal is a trading instruction parsed from a channel message. Immutable
// once recorded except for Status/ProcessedAt.
type Signal struct {
	ID              string       `json:"id"`
	Symbol          string       `json:"symbol"`
	SignalType      string       `json:"signal_type"` // buy, sell
	EntryPrice      *float64     `json:"entry_price,omitempty"`
	EntryRange      []float64    `json:"entry_range,omitempty"`
	StopLoss        *float64     `json:"stop_loss,omitempty"`
	TakeProfit      *float64     `json:"take_profit,omitempty"`
	TakeProfits     []float64    `json:"take_profits,omitempty"`
	ConfidenceScore *float64     `json:"confidence_score,omitempty"`
	RawMessage      string       `json:"raw_message,omitempty"`
	Status          SignalStatus `json:"status"`
	ReceivedAt      time.Time    `json:"received_at"`
	ProcessedAt     *time.Time   `json:"processed_at,omitempty"`
}

// Execution is one attempt to act on a Signal against a broker account.
type Execution struct {
	ID               string     `json:"execution_id"`
	SignalID         string     `json:"signal_id"`
	Symbol           string     `json:"symbol"`
	Side             string     `json:"side"`
	Status           ExecStatus `json:"status"`
	Ticket           *int64     `json:"ticket,omitempty"`
	Volume           *float64   `json:"volume,omitempty"`
	EntryPrice       *float64   `json:"entry_price,omitempty"`
	ActualEntryPrice *float64   `json:"actual_entry_price,omitempty"`
	StopLoss         *float64   `json:"stop_loss,omitempty"`
	TakeProfit       *float64   `json:"take_profit,omitempty"`
	ProfitLoss       *float64   `json:"profit_loss,omitempty"`
	ClosePrice       *float64   `json:"close_price,omitempty"`
	Error            string     `json:"error,omitempty"`
	ExecutedAt       *time.Time `json:"executed_at,omitempty"`
	ClosedAt         *time.Time `json:"closed_at,omitempty"`
}

// LogLevel tags a journal entry.
type LogLevel string

const (
	LevelInfo    LogLevel = "info"
	LevelWarning LogLevel = "warning"
	LevelError   LogLevel = "error"
	LevelSuccess LogLevel = "success"
)

// ParseLogLevel maps a wire level string onto a LogLevel, defaulting to info.
func ParseLogLevel(s string) LogLevel {
	switch LogLevel(s) {
	case LevelWarning, LevelError, LevelSuccess:
		return LogLevel(s)
	default:
		return LevelInfo
	}
}

// LogEntry is one line of the activity journal. Ordering is arrival order.
type LogEntry struct {
	Time        time.Time `json:"time"`
	Level       LogLevel  `json:"level"`
	Message     string    `json:"message"`
	ExecutionID string    `json:"execution_id,omitempty"`
}

// SystemStatus describes the backend listener process. Replaced wholesale on
// every fetch, never merged.
type SystemStatus struct {
	Status  string `json:"status"` // running, stopped, error
	PID     *int   `json:"pid,omitempty"`
	Message string `json:"message,omitempty"`
}

// Alert is a user-facing notification derived from a stream event.
type Alert struct {
	Kind        string
	Title       string
	Body        string
	ExecutionID string
}
