package server

import (
	"duskmoo/db"
	"duskmoo/task"
	"duskmoo/types"
	"duskmoo/vm"
	"fmt"
)

// maxTxConflictRetries bounds how many times a task's current transaction
// attempt is re-run after losing a first-committer-wins race (spec.md
// §4.4: "up to a configurable retry limit (e.g. 3)").
const maxTxConflictRetries = 3

// taskSnapshot captures everything runTask mutates on a *task.Task so a
// conflicting attempt can be rewound before retrying. It does NOT replay
// the whole task from its first statement — only the current transaction
// segment (the portion since the last suspend, or since task start if this
// is the first attempt), matching spec.md §4.4's "suspend commits
// immediately" boundary.
type taskSnapshot struct {
	callStack   []task.ActivationFrame
	ticksUsed   int64
	secondsUsed float64
	stmtIndex   int
	state       task.TaskState
	bytecodeVM  *vm.VM // nil if the task had no saved VM yet
}

func snapshotTask(t *task.Task) *taskSnapshot {
	snap := &taskSnapshot{
		callStack:   append([]task.ActivationFrame(nil), t.GetCallStack()...),
		ticksUsed:   t.TicksUsed,
		secondsUsed: t.SecondsUsed,
		stmtIndex:   t.StmtIndex,
		state:       t.GetState(),
	}
	if bcVM, ok := t.BytecodeVM.(*vm.VM); ok && bcVM != nil {
		snap.bytecodeVM = bcVM.Clone()
	}
	return snap
}

func restoreTask(t *task.Task, snap *taskSnapshot) {
	t.CallStack = append([]task.ActivationFrame(nil), snap.callStack...)
	t.TicksUsed = snap.ticksUsed
	t.SecondsUsed = snap.secondsUsed
	t.StmtIndex = snap.stmtIndex
	t.SetState(snap.state)
	if snap.bytecodeVM != nil {
		// Clone again so a second retry doesn't mutate the same snapshot
		// the first retry is still using.
		t.BytecodeVM = snap.bytecodeVM.Clone()
	} else {
		t.BytecodeVM = nil
	}
}

// runTaskWithRetry runs t against a fresh db.Tx, commits, and on conflict
// rewinds the task to its pre-attempt snapshot and tries again, up to
// maxTxConflictRetries times (spec.md §4.4/§5/§8 scenario 6). Non-conflict
// errors and normal completion both return immediately.
func (s *Scheduler) runTaskWithRetry(t *task.Task) error {
	for attempt := 0; ; attempt++ {
		snap := snapshotTask(t)
		tx := s.store.Begin()

		timer := startMetricsTimer()
		err := s.runTask(t, tx)
		timer.observe()

		if err != nil {
			tx.Abort()
			return err
		}

		// Suspension and forking both need their side effects visible to
		// other tasks immediately (spec.md §4.4 "suspend ... commits the
		// current transaction immediately"), so they go through the same
		// commit-or-retry path as a normal completion.
		commitErr := tx.Commit()
		if commitErr == nil {
			taskTicksUsed.Observe(float64(t.TicksUsed))
			recordTaskOutcome(t)
			return nil
		}
		if commitErr != db.ErrConflict {
			return commitErr
		}

		t.TxConflicts++
		taskConflictsTotal.Inc()
		if attempt >= maxTxConflictRetries {
			t.SetState(task.TaskKilled)
			t.Result = types.Result{Flow: types.FlowException, Error: types.E_QUOTA}
			tasksCompletedTotal.WithLabelValues("quota").Inc()
			return fmt.Errorf("task %d exceeded conflict retry limit (%d attempts)", t.ID, attempt+1)
		}
		restoreTask(t, snap)
	}
}

func recordTaskOutcome(t *task.Task) {
	switch {
	case t.GetState() == task.TaskSuspended:
		tasksCompletedTotal.WithLabelValues("suspended").Inc()
	case t.Result.Flow == types.FlowException:
		tasksCompletedTotal.WithLabelValues("exception").Inc()
	case t.GetState() == task.TaskKilled:
		tasksCompletedTotal.WithLabelValues("killed").Inc()
	default:
		tasksCompletedTotal.WithLabelValues("completed").Inc()
	}
}
