package vm

import "duskmoo/types"

// Clone deep-copies a VM's execution state (operand stack, call frames, and
// every frame's locals/loop/exception stacks) without touching Store or
// Builtins, which are shared references.
//
// This exists for the scheduler's transaction-conflict retry path
// (spec.md §4.4/§5/§8.6): when a task's commit loses to a concurrent writer,
// the whole attempt re-runs against a fresh db.Tx. A suspended or forked
// task's continuation is a live *VM, not source code, so "re-run the attempt"
// means "restore the VM to what it looked like before this attempt started"
// and swap in the new transaction. Cloning before the attempt and restoring
// the clone on conflict gives exactly that, without mutating the snapshot
// in place while the attempt runs.
func (v *VM) Clone() *VM {
	clone := &VM{
		Stack:       append([]types.Value(nil), v.Stack...),
		SP:          v.SP,
		FP:          v.FP,
		Store:       v.Store,
		Builtins:    v.Builtins,
		Context:     v.Context,
		TickLimit:   v.TickLimit,
		Ticks:       v.Ticks,
		yielded:     v.yielded,
		yieldResult: v.yieldResult,
	}
	clone.Frames = make([]*StackFrame, len(v.Frames))
	for i, f := range v.Frames {
		clone.Frames[i] = cloneFrame(f)
	}
	return clone
}

func cloneFrame(f *StackFrame) *StackFrame {
	if f == nil {
		return nil
	}
	nf := *f
	nf.Locals = append([]types.Value(nil), f.Locals...)
	nf.Args = append([]types.Value(nil), f.Args...)
	nf.LoopStack = make([]LoopState, len(f.LoopStack))
	copy(nf.LoopStack, f.LoopStack)
	nf.ExceptStack = make([]Handler, len(f.ExceptStack))
	for i, h := range f.ExceptStack {
		nh := h
		nh.Codes = append([]types.ErrorCode(nil), h.Codes...)
		nf.ExceptStack[i] = nh
	}
	return &nf
}
