package server

import (
	"duskmoo/db"
	"duskmoo/parser"
	"duskmoo/task"
	"duskmoo/types"
	"sync"
	"testing"
)

// newIncrementTask parses code and wires up a task owned by owner, with
// wizard permissions so the property write below isn't blocked by
// ownership checks (the tasks here belong to different player objects, not
// to #0's owner).
func newIncrementTask(t *testing.T, owner types.ObjID, code string) *task.Task {
	t.Helper()
	p := parser.NewParser(code)
	stmts, err := p.ParseProgram()
	if err != nil {
		t.Fatalf("parse error: %v", err)
	}

	mgr := task.GetManager()
	tk := mgr.CreateTask(owner, 300000, 30.0)
	tk.Programmer = owner
	tk.Code = stmts

	ctx := types.NewTaskContext()
	ctx.Player = owner
	ctx.Programmer = owner
	ctx.IsWizard = true
	tk.Context = ctx

	return tk
}

// TestSchedulerConcurrentIncrementsNoLostUpdates runs the worker pool's
// actual conflict-retry path (runTaskWithRetry, via CallVerb.go 3) across two
// players each incrementing a shared counter on #0, and asserts no increment
// is lost to an overlapping pair of transactions.
func TestSchedulerConcurrentIncrementsNoLostUpdates(t *testing.T) {
	store := db.NewStore()

	bank := db.NewObject(0, 0)
	bank.Properties = map[string]*db.Property{
		"balance": {Name: "balance", Value: types.NewInt(0), Owner: 0, Defined: true},
	}
	if err := store.Add(bank); err != nil {
		t.Fatalf("Add(#0) failed: %v", err)
	}

	alice := db.NewObject(1, 1)
	alice.Flags = alice.Flags.Set(db.FlagWizard | db.FlagUser)
	if err := store.Add(alice); err != nil {
		t.Fatalf("Add(#1) failed: %v", err)
	}

	bob := db.NewObject(2, 2)
	bob.Flags = bob.Flags.Set(db.FlagWizard | db.FlagUser)
	if err := store.Add(bob); err != nil {
		t.Fatalf("Add(#2) failed: %v", err)
	}

	s := NewScheduler(store)

	const incrementsPerTask = 25
	code := `for i in [1..25] #0.balance = #0.balance + 1; endfor return 0;`

	tasks := []*task.Task{
		newIncrementTask(t, alice.ID, code),
		newIncrementTask(t, bob.ID, code),
	}

	var wg sync.WaitGroup
	for _, tk := range tasks {
		tk := tk
		wg.Add(1)
		s.pool.Submit(func() {
			defer wg.Done()
			if err := s.runTaskWithRetry(tk); err != nil {
				t.Errorf("runTaskWithRetry(task %d) = %v", tk.ID, err)
			}
		})
	}
	wg.Wait()
	s.pool.Wait()

	final := store.Get(0)
	got := final.Properties["balance"].Value.(types.IntValue).Val
	want := int64(2 * incrementsPerTask)
	if got != want {
		t.Errorf("final balance = %d, want %d (lost update across concurrent tasks)", got, want)
	}
}

// TestSchedulerSuspendCommitsBeforeYielding exercises spec.md §4.4's "suspend
// commits the current transaction immediately" rule: a task that writes to
// an object and then calls suspend() must have that write visible to a
// second, independently-run task before the first task ever resumes.
func TestSchedulerSuspendCommitsBeforeYielding(t *testing.T) {
	store := db.NewStore()

	obj := db.NewObject(0, 0)
	obj.Properties = map[string]*db.Property{
		"value": {Name: "value", Value: types.NewInt(0), Owner: 0, Defined: true},
	}
	if err := store.Add(obj); err != nil {
		t.Fatalf("Add(#0) failed: %v", err)
	}

	owner := db.NewObject(1, 1)
	owner.Flags = owner.Flags.Set(db.FlagWizard | db.FlagUser)
	if err := store.Add(owner); err != nil {
		t.Fatalf("Add(#1) failed: %v", err)
	}

	s := NewScheduler(store)

	suspender := newIncrementTask(t, owner.ID, `#0.value = 42; suspend(100); return 0;`)
	if err := s.runTaskWithRetry(suspender); err != nil {
		t.Fatalf("runTaskWithRetry(suspender) = %v", err)
	}
	if suspender.GetState() != task.TaskSuspended {
		t.Fatalf("suspender state = %v, want TaskSuspended", suspender.GetState())
	}

	reader := newIncrementTask(t, owner.ID, `return #0.value;`)
	if err := s.runTaskWithRetry(reader); err != nil {
		t.Fatalf("runTaskWithRetry(reader) = %v", err)
	}

	if reader.Result.Flow != types.FlowReturn && reader.Result.Flow != types.FlowNormal {
		t.Fatalf("reader did not return normally: flow=%v err=%v", reader.Result.Flow, reader.Result.Error)
	}
	got := reader.Result.Val.(types.IntValue).Val
	if got != 42 {
		t.Errorf("reader observed #0.value = %d, want 42 (suspender's write should be committed before suspend yields)", got)
	}
}
