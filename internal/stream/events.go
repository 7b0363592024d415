package stream

import (
	"encoding/json"
	"fmt"

	"github.com/ZE-BOSS/telegram-bot/internal/model"
)

// Event is one decoded frame from the backend stream. Kind returns the wire
// type tag; the reconciler switches on the concrete type.
type Event interface {
	Kind() string
}

// SignalReceived announces a freshly parsed signal. The embedded payload is a
// partial record; the reconciler re-fetches the collection for the rest.
type SignalReceived struct {
	Signal model.Signal `json:"signal"`
}

func (SignalReceived) Kind() string { return "signal_received" }

// SignalUpdate hints that a signal changed server-side. The payload is not
// authoritative; it only triggers a re-fetch.
type SignalUpdate struct {
	SignalID string `json:"signal_id"`
	Status   string `json:"status"`
}

func (SignalUpdate) Kind() string { return "signal_update" }

// ApprovalRequired asks the user to confirm or reject an execution before the
// broker order is placed.
type ApprovalRequired struct {
	SignalID    string   `json:"signal_id"`
	ExecutionID string   `json:"execution_id"`
	Symbol      string   `json:"symbol"`
	Side        string   `json:"side"`
	EntryPrice  *float64 `json:"entry_price"`
	StopLoss    *float64 `json:"stop_loss"`
	TakeProfit  *float64 `json:"take_profit"`
}

func (ApprovalRequired) Kind() string { return "signal_approval_required" }

// ExecutionUpdate carries a status transition for an execution. The backend
// emits both execution_update and execution_confirmed with this shape; the
// confirmed variant marks the order as accepted by the broker.
type ExecutionUpdate struct {
	Confirmed   bool   `json:"-"`
	ExecutionID string `json:"execution_id"`
	Status      string `json:"status"`
	Symbol      string `json:"symbol,omitempty"`
	Ticket      *int64 `json:"ticket,omitempty"`
	Message     string `json:"message,omitempty"`
}

func (e ExecutionUpdate) Kind() string {
	if e.Confirmed {
		return "execution_confirmed"
	}
	return "execution_update"
}

// PositionUpdate patches the live profit/loss of an open position. This is
// the only event applied without a follow-up snapshot fetch.
type PositionUpdate struct {
	ExecutionID  string  `json:"execution_id"`
	ProfitLoss   float64 `json:"profit_loss"`
	PriceCurrent float64 `json:"price_current"`
}

func (PositionUpdate) Kind() string { return "position_update" }

// PositionClosed reports a position leaving the broker book with its final
// profit/loss.
type PositionClosed struct {
	ExecutionID string  `json:"execution_id"`
	ProfitLoss  float64 `json:"profit_loss"`
	ClosePrice  float64 `json:"close_price"`
}

func (PositionClosed) Kind() string { return "position_closed" }

// ErrorEvent signals a server-side execution failure; local state may be
// inconsistent until the triggered re-fetch lands.
type ErrorEvent struct {
	ExecutionID string `json:"execution_id"`
	Message     string `json:"message"`
}

func (ErrorEvent) Kind() string { return "error" }

// LogEvent is a backend log line forwarded verbatim to the journal.
type LogEvent struct {
	Level   string `json:"level"`
	Message string `json:"message"`
}

func (LogEvent) Kind() string { return "log" }

// UnknownEvent preserves frames with unrecognized type tags. They reach the
// journal but never the merge path, so new server event kinds stay harmless.
type UnknownEvent struct {
	Type string
	Raw  json.RawMessage
}

func (e UnknownEvent) Kind() string { return e.Type }

// DecodeError wraps a frame that could not be parsed. The connection
// survives; the frame is logged and dropped.
type DecodeError struct {
	Frame []byte
	Err   error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode frame: %v", e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

type envelope struct {
	Type string `json:"type"`
}

// Decode parses one raw frame into a typed Event.
func Decode(frame []byte) (Event, error) {
	var env envelope
	if err := json.Unmarshal(frame, &env); err != nil {
		return nil, &DecodeError{Frame: frame, Err: err}
	}
	if env.Type == "" {
		return nil, &DecodeError{Frame: frame, Err: fmt.Errorf("missing type tag")}
	}

	var (
		ev  Event
		err error
	)
	switch env.Type {
	case "signal_received":
		var e SignalReceived
		err = json.Unmarshal(frame, &e)
		ev = e
	case "signal_update":
		var e SignalUpdate
		err = json.Unmarshal(frame, &e)
		ev = e
	case "signal_approval_required":
		var e ApprovalRequired
		err = json.Unmarshal(frame, &e)
		ev = e
	case "execution_update", "execution_confirmed":
		var e ExecutionUpdate
		err = json.Unmarshal(frame, &e)
		e.Confirmed = env.Type == "execution_confirmed"
		ev = e
	case "position_update":
		var e PositionUpdate
		err = json.Unmarshal(frame, &e)
		ev = e
	case "position_closed":
		var e PositionClosed
		err = json.Unmarshal(frame, &e)
		ev = e
	case "error":
		var e ErrorEvent
		err = json.Unmarshal(frame, &e)
		ev = e
	case "log":
		var e LogEvent
		err = json.Unmarshal(frame, &e)
		ev = e
	default:
		raw := make(json.RawMessage, len(frame))
		copy(raw, frame)
		return UnknownEvent{Type: env.Type, Raw: raw}, nil
	}
	if err != nil {
		return nil, &DecodeError{Frame: frame, Err: err}
	}
	return ev, nil
}
