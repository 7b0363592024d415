package model

// ExecStatus is one state of the execution lifecycle:
//
//	received → pending_approval → executing → {executed | rejected | failed} → closed
//
// Transitions only move forward; see Before.
type ExecStatus string

const (
	ExecReceived        ExecStatus = "received"
	ExecPendingApproval ExecStatus = "pending_approval"
	ExecExecuting       ExecStatus = "executing"
	ExecExecuted        ExecStatus = "executed"
	ExecRejected        ExecStatus = "rejected"
	ExecFailed          ExecStatus = "failed"
	ExecClosed          ExecStatus = "closed"
)

// statusRank orders states for the monotonic-merge rule. Executed, rejected,
// and failed share a rank: they are alternative terminal outcomes of the
// approval step, none of which may overwrite another.
var statusRank = map[ExecStatus]int{
	ExecReceived:        0,
	ExecPendingApproval: 1,
	ExecExecuting:       2,
	ExecExecuted:        3,
	ExecRejected:        3,
	ExecFailed:          3,
	ExecClosed:          4,
}

// statusAliases maps backend status strings onto the canonical set.
var statusAliases = map[string]ExecStatus{
	"pending":      ExecReceived,
	"validated":    ExecExecuting,
	"falling_back": ExecExecuting,
	"cancelled":    ExecRejected,
}

// ParseExecStatus normalizes a wire status string. The second return is false
// when the string names no known state.
func ParseExecStatus(s string) (ExecStatus, bool) {
	if st, ok := statusAliases[s]; ok {
		return st, true
	}
	st := ExecStatus(s)
	if _, ok := statusRank[st]; ok {
		return st, true
	}
	return "", false
}

// Rank returns the order of the status; unknown statuses rank lowest.
func (s ExecStatus) Rank() int {
	return statusRank[s]
}

// Before reports whether s is strictly earlier than other in the lifecycle.
// A transition to other is allowed only when s.Before(other); equal-rank
// duplicates and regressions are ignored by the reconciler.
func (s ExecStatus) Before(other ExecStatus) bool {
	return statusRank[s] < statusRank[other]
}

// Terminal reports whether no further transition except close is expected.
func (s ExecStatus) Terminal() bool {
	return statusRank[s] >= statusRank[ExecExecuted]
}
