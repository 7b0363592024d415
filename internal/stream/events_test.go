package stream

import (
	"errors"
	"testing"
)

func TestDecodeKnownKinds(t *testing.T) {
	cases := []struct {
		name  string
		frame string
		check func(t *testing.T, ev Event)
	}{
		{
			name:  "signal_received",
			frame: `{"type":"signal_received","signal":{"id":"S1","symbol":"EURUSD","signal_type":"buy","entry_price":1.08}}`,
			check: func(t *testing.T, ev Event) {
				e, ok := ev.(SignalReceived)
				if !ok {
					t.Fatalf("wrong type %T", ev)
				}
				if e.Signal.ID != "S1" || e.Signal.Symbol != "EURUSD" || e.Signal.SignalType != "buy" {
					t.Fatalf("bad payload: %+v", e.Signal)
				}
				if e.Signal.EntryPrice == nil || *e.Signal.EntryPrice != 1.08 {
					t.Fatalf("entry price missing: %+v", e.Signal)
				}
			},
		},
		{
			name:  "signal_update",
			frame: `{"type":"signal_update","signal_id":"S1","status":"processed"}`,
			check: func(t *testing.T, ev Event) {
				e := ev.(SignalUpdate)
				if e.SignalID != "S1" || e.Status != "processed" {
					t.Fatalf("bad payload: %+v", e)
				}
			},
		},
		{
			name:  "signal_approval_required",
			frame: `{"type":"signal_approval_required","signal_id":"S1","execution_id":"E1","symbol":"XAUUSD","side":"sell","stop_loss":2410.5}`,
			check: func(t *testing.T, ev Event) {
				e := ev.(ApprovalRequired)
				if e.ExecutionID != "E1" || e.Side != "sell" || e.StopLoss == nil || *e.StopLoss != 2410.5 {
					t.Fatalf("bad payload: %+v", e)
				}
			},
		},
		{
			name:  "execution_update",
			frame: `{"type":"execution_update","execution_id":"E1","status":"executing","symbol":"XAUUSD"}`,
			check: func(t *testing.T, ev Event) {
				e := ev.(ExecutionUpdate)
				if e.Confirmed || e.Kind() != "execution_update" || e.Status != "executing" {
					t.Fatalf("bad payload: %+v", e)
				}
			},
		},
		{
			name:  "execution_confirmed",
			frame: `{"type":"execution_confirmed","execution_id":"E1","status":"executed","ticket":991234}`,
			check: func(t *testing.T, ev Event) {
				e := ev.(ExecutionUpdate)
				if !e.Confirmed || e.Kind() != "execution_confirmed" {
					t.Fatalf("confirmed flag lost: %+v", e)
				}
				if e.Ticket == nil || *e.Ticket != 991234 {
					t.Fatalf("ticket missing: %+v", e)
				}
			},
		},
		{
			name:  "position_update",
			frame: `{"type":"position_update","execution_id":"E1","profit_loss":-12.4,"price_current":1.0801}`,
			check: func(t *testing.T, ev Event) {
				e := ev.(PositionUpdate)
				if e.ProfitLoss != -12.4 || e.PriceCurrent != 1.0801 {
					t.Fatalf("bad payload: %+v", e)
				}
			},
		},
		{
			name:  "position_closed",
			frame: `{"type":"position_closed","execution_id":"E1","profit_loss":35.0,"close_price":1.083}`,
			check: func(t *testing.T, ev Event) {
				e := ev.(PositionClosed)
				if e.ProfitLoss != 35.0 {
					t.Fatalf("bad payload: %+v", e)
				}
			},
		},
		{
			name:  "error",
			frame: `{"type":"error","execution_id":"E1","message":"order rejected"}`,
			check: func(t *testing.T, ev Event) {
				e := ev.(ErrorEvent)
				if e.Message != "order rejected" {
					t.Fatalf("bad payload: %+v", e)
				}
			},
		},
		{
			name:  "log",
			frame: `{"type":"log","level":"warning","message":"slippage high"}`,
			check: func(t *testing.T, ev Event) {
				e := ev.(LogEvent)
				if e.Level != "warning" || e.Message != "slippage high" {
					t.Fatalf("bad payload: %+v", e)
				}
			},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ev, err := Decode([]byte(tc.frame))
			if err != nil {
				t.Fatalf("Decode returned error: %v", err)
			}
			if ev.Kind() != tc.name {
				t.Fatalf("Kind() = %q, want %q", ev.Kind(), tc.name)
			}
			tc.check(t, ev)
		})
	}
}

func TestDecodeUnknownKindIsPreserved(t *testing.T) {
	frame := `{"type":"telegram_message","channel":"gold-vip","text":"..."}`
	ev, err := Decode([]byte(frame))
	if err != nil {
		t.Fatalf("unknown kind must not error: %v", err)
	}
	unk, ok := ev.(UnknownEvent)
	if !ok {
		t.Fatalf("wrong type %T", ev)
	}
	if unk.Kind() != "telegram_message" {
		t.Fatalf("Kind() = %q", unk.Kind())
	}
	if string(unk.Raw) != frame {
		t.Fatalf("raw frame not preserved: %s", unk.Raw)
	}
}

func TestDecodeMalformedFrames(t *testing.T) {
	for _, frame := range []string{
		`not json at all`,
		`{"no_type":"here"}`,
		`{"type":"position_update","profit_loss":"NaN-ish"}`,
	} {
		_, err := Decode([]byte(frame))
		var de *DecodeError
		if !errors.As(err, &de) {
			t.Fatalf("frame %q: expected DecodeError, got %v", frame, err)
		}
	}
}
