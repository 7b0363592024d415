package engine

import (
	"context"
	"fmt"

	"github.com/ZE-BOSS/telegram-bot/internal/api"
	"github.com/ZE-BOSS/telegram-bot/internal/metrics"
	"github.com/ZE-BOSS/telegram-bot/internal/model"
)

// Confirm approves a pending execution, optionally overriding stop-loss and
// take-profit. State is not touched locally; the backend's stream events and
// the triggered snapshots reflect the outcome.
func (e *Engine) Confirm(ctx context.Context, id string, o api.Overrides) error {
	err := e.commander.ConfirmExecution(ctx, id, o)
	e.recordCommand("confirm", id, err)
	return err
}

// Reject declines a pending execution.
func (e *Engine) Reject(ctx context.Context, id string) error {
	err := e.commander.RejectExecution(ctx, id)
	e.recordCommand("reject", id, err)
	return err
}

// Modify updates protective levels on an open position.
func (e *Engine) Modify(ctx context.Context, id string, o api.Overrides) error {
	err := e.commander.ModifyExecution(ctx, id, o)
	e.recordCommand("modify", id, err)
	return err
}

// CloseExec closes an open position at market.
func (e *Engine) CloseExec(ctx context.Context, id string) error {
	err := e.commander.CloseExecution(ctx, id)
	e.recordCommand("close", id, err)
	return err
}

func (e *Engine) recordCommand(command, id string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
		e.journal.Appendf(model.LevelError, fmt.Sprintf("Command %s failed: %v", command, err), id)
	} else {
		e.journal.Appendf(model.LevelInfo, fmt.Sprintf("Command %s sent", command), id)
	}
	metrics.CommandsTotal.WithLabelValues(command, result).Inc()

	// Wake the run loop so subscribers see the journal entry.
	select {
	case e.results <- journaled{}:
	default:
	}
}
