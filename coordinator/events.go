package coordinator

import (
	"github.com/BaSui01/runledger/audit"
	"github.com/BaSui01/runledger/lock"
	"github.com/BaSui01/runledger/run"
)

// Audit entry constructors for coordination lifecycle events. They only
// populate domain fields; identifiers, timestamps and chain position are
// assigned by the audit log on append.

// LockAcquiredEvent records a successful run-lock acquisition.
func LockAcquiredEvent(actor audit.Actor, r *run.Run, l *lock.RunLock) audit.Entry {
	return audit.Entry{
		Actor:    actor,
		Action:   audit.Action{Category: "lock", Name: "lock.acquired"},
		Resource: audit.Resource{Type: "run", ID: r.ID},
		Outcome:  audit.Outcome{Status: "success"},
		Context:  audit.Context{RunID: r.ID},
		Details: map[string]any{
			"holder_id":  l.HolderID,
			"fence":      l.Fence,
			"expires_at": l.ExpiresAt,
		},
	}
}

// LockDeniedEvent records a failed run-lock acquisition.
func LockDeniedEvent(actor audit.Actor, r *run.Run, err error) audit.Entry {
	return audit.Entry{
		Actor:    actor,
		Action:   audit.Action{Category: "lock", Name: "lock.denied"},
		Resource: audit.Resource{Type: "run", ID: r.ID},
		Outcome:  audit.Outcome{Status: "denied", Reason: err.Error()},
		Context:  audit.Context{RunID: r.ID},
	}
}

// LockReleasedEvent records a run-lock release.
func LockReleasedEvent(actor audit.Actor, r *run.Run, l *lock.RunLock) audit.Entry {
	return audit.Entry{
		Actor:    actor,
		Action:   audit.Action{Category: "lock", Name: "lock.released"},
		Resource: audit.Resource{Type: "run", ID: r.ID},
		Outcome:  audit.Outcome{Status: "success"},
		Context:  audit.Context{RunID: r.ID},
		Details: map[string]any{
			"holder_id": l.HolderID,
			"fence":     l.Fence,
		},
	}
}

// ForceReleaseEvent records an administrative lock override. Overrides
// bypass ownership checks, so the entry is flagged high-risk.
func ForceReleaseEvent(actor audit.Actor, runID, reason string) audit.Entry {
	return audit.Entry{
		Actor:    actor,
		Action:   audit.Action{Category: "lock", Name: "lock.force_released"},
		Resource: audit.Resource{Type: "run", ID: runID},
		Outcome:  audit.Outcome{Status: "success", Reason: reason},
		Context:  audit.Context{RunID: runID},
		HighRisk: true,
	}
}

// StepStartedEvent records the beginning of a step execution attempt.
func StepStartedEvent(actor audit.Actor, r *run.Run, step run.Step) audit.Entry {
	return audit.Entry{
		Actor:    actor,
		Action:   audit.Action{Category: "step", Name: "step.started"},
		Resource: audit.Resource{Type: "step", ID: step.ID},
		Outcome:  audit.Outcome{Status: "success"},
		Context:  audit.Context{RunID: r.ID, StepID: step.ID},
		Details:  map[string]any{"step_name": step.Name},
	}
}

// StepCompletedEvent records a successful step execution. replayed is
// true when the result came from the idempotency cache rather than a
// fresh execution.
func StepCompletedEvent(actor audit.Actor, r *run.Run, step run.Step, replayed bool) audit.Entry {
	return audit.Entry{
		Actor:    actor,
		Action:   audit.Action{Category: "step", Name: "step.completed"},
		Resource: audit.Resource{Type: "step", ID: step.ID},
		Outcome:  audit.Outcome{Status: "success"},
		Context:  audit.Context{RunID: r.ID, StepID: step.ID},
		Details: map[string]any{
			"step_name": step.Name,
			"replayed":  replayed,
		},
	}
}

// StepFailedEvent records a failed step execution.
func StepFailedEvent(actor audit.Actor, r *run.Run, step run.Step, err error) audit.Entry {
	return audit.Entry{
		Actor:    actor,
		Action:   audit.Action{Category: "step", Name: "step.failed"},
		Resource: audit.Resource{Type: "step", ID: step.ID},
		Outcome:  audit.Outcome{Status: "failure", Reason: err.Error()},
		Context:  audit.Context{RunID: r.ID, StepID: step.ID},
		Details:  map[string]any{"step_name": step.Name},
	}
}
