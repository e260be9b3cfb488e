// Package bpf composes the memory-region table, call-stack manager and
// instruction-cost table into the validator's sandboxed execution runtime.
//
// Execute drives a program given as a slice of opcodes: it charges each
// opcode against the compute budget and runs an optional per-step access
// check. LoadModule compiles WASM bytecode with wasmer-go, but this package
// neither instantiates nor runs the compiled module and registers no host
// functions for it.
package bpf

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/sirupsen/logrus"
	"github.com/wasmerio/wasmer-go/wasmer"

	"slonana-validator-core/internal/bpf/callstack"
	"slonana-validator-core/internal/bpf/costtable"
	"slonana-validator-core/internal/bpf/region"
)

var log = logrus.WithField("component", "bpf")

// FaultKind classifies why a transaction's program execution aborted.
type FaultKind int

const (
	FaultNone FaultKind = iota
	FaultMemory
	FaultCompute
	FaultStack
	FaultOpcode
)

func (k FaultKind) String() string {
	switch k {
	case FaultMemory:
		return "memory"
	case FaultCompute:
		return "compute"
	case FaultStack:
		return "stack"
	case FaultOpcode:
		return "opcode"
	default:
		return "none"
	}
}

// Fault is returned by any runtime operation that aborts execution. It
// carries enough information for the banking stage to roll back the
// transaction and report a reason.
type Fault struct {
	Kind           FaultKind
	ComputeUsed    uint64
	Err            error
}

func (f *Fault) Error() string {
	return fmt.Sprintf("bpf fault (%s): %v, compute_used=%d", f.Kind, f.Err, f.ComputeUsed)
}

var (
	errMemoryAccess  = errors.New("memory access denied")
	errComputeBudget = errors.New("compute budget exhausted")
)

// AccountMutation is a single write made by a program during execution.
// Mutations are buffered per transaction and only applied on commit;
// a faulting transaction never publishes any of them.
type AccountMutation struct {
	Address common.Address
	Key     string
	Value   []byte
}

// Runtime executes BPF programs against a caller-supplied compute budget,
// gating every memory access and opcode through the region table, call
// stack and cost table. A Runtime is single-owner per execution context:
// callers must not share one across concurrent transactions.
type Runtime struct {
	regions   *region.Table
	stack     *callstack.Manager
	costs     *costtable.Table
	engine    *wasmer.Engine
	budget    uint64
	consumed  uint64
	mutations []AccountMutation
}

// New constructs a Runtime with a fresh region table, call stack and cost
// table, and the given compute budget.
func New(computeBudget uint64) *Runtime {
	return &Runtime{
		regions: region.New(),
		stack:   callstack.New(callstack.MaxDepth),
		costs:   costtable.New(),
		engine:  wasmer.NewEngine(),
		budget:  computeBudget,
	}
}

// AddRegion exposes the underlying region table's Add during program setup.
func (r *Runtime) AddRegion(start, size uint64, perms region.Perm, label string) error {
	return r.regions.Add(start, size, perms, label)
}

// ValidateAccess checks addr/len against the region table. On failure it
// returns a Fault of kind FaultMemory; the caller must abort the
// transaction.
func (r *Runtime) ValidateAccess(addr, length uint64, required region.Perm) error {
	if !r.regions.Validate(addr, length, required) {
		return &Fault{Kind: FaultMemory, ComputeUsed: r.consumed, Err: errMemoryAccess}
	}
	return nil
}

// Charge subtracts the opcode's cost from the remaining compute budget. It
// faults with FaultCompute on underflow, leaving the budget unchanged.
func (r *Runtime) Charge(op costtable.Opcode) error {
	cost := r.costs.Cost(op)
	remaining := r.budget - r.consumed
	if cost > remaining {
		return &Fault{Kind: FaultCompute, ComputeUsed: r.consumed, Err: errComputeBudget}
	}
	r.consumed += cost
	return nil
}

// RemainingComputeUnits returns the unspent portion of the compute budget.
func (r *Runtime) RemainingComputeUnits() uint64 { return r.budget - r.consumed }

// ConsumedComputeUnits returns the amount of budget spent so far.
func (r *Runtime) ConsumedComputeUnits() uint64 { return r.consumed }

// EnterCall charges the CALL opcode and pushes a new stack frame. It faults
// with FaultStack on overflow (after the compute charge has already been
// applied — compute spent before a stack fault is not refunded, matching
// the "all faults report consumed compute units" invariant).
func (r *Runtime) EnterCall(target common.Address, framePointer uint64) error {
	if err := r.Charge(costtable.OpCall); err != nil {
		return err
	}
	if err := r.stack.Push(uint64(target[0])<<56, framePointer, r.consumed); err != nil {
		return &Fault{Kind: FaultStack, ComputeUsed: r.consumed, Err: err}
	}
	return nil
}

// ExitCall pops the current stack frame. It faults with FaultStack on
// underflow.
func (r *Runtime) ExitCall() (callstack.Frame, error) {
	f, ok := r.stack.Pop()
	if !ok {
		return callstack.Frame{}, &Fault{Kind: FaultStack, ComputeUsed: r.consumed, Err: errors.New("call stack underflow")}
	}
	return f, nil
}

// StackDepth reports the runtime's current call-stack depth.
func (r *Runtime) StackDepth() uint64 { return r.stack.Depth() }

// RecordMutation buffers an account write made during execution. Buffered
// mutations are only returned to the caller via Mutations after execution
// completes without a fault; a faulting Execute call discards them.
func (r *Runtime) RecordMutation(m AccountMutation) {
	r.mutations = append(r.mutations, m)
}

// Mutations returns the buffered account writes accumulated since the
// runtime was constructed or last reset.
func (r *Runtime) Mutations() []AccountMutation {
	return append([]AccountMutation(nil), r.mutations...)
}

// Reset clears buffered mutations and consumed compute, readying the
// Runtime's region table and stack for another transaction while keeping
// the loaded program's region map intact. Used between transactions that
// share an already-validated account layout.
func (r *Runtime) Reset(computeBudget uint64) {
	r.consumed = 0
	r.budget = computeBudget
	r.mutations = r.mutations[:0]
	r.stack.Clear()
}

// ExecuteResult is the outcome of a single program invocation.
type ExecuteResult struct {
	Fault         *Fault
	ComputeUsed   uint64
	Mutations     []AccountMutation
}

// Execute runs the given instruction stream's cost accounting by charging
// each opcode in order and applying memory-access checks the caller
// supplies via accessFn; it is the thin driver the banking stage's
// execution stage calls per transaction. Any Fault aborts immediately,
// rolls back all buffered mutations so no partial state escapes a faulting
// transaction, and is reported with the compute consumed up to that point.
func (r *Runtime) Execute(program []costtable.Opcode, accessFn func(step int) error) ExecuteResult {
	for i, op := range program {
		if accessFn != nil {
			if err := accessFn(i); err != nil {
				var f *Fault
				if errors.As(err, &f) {
					r.mutations = nil
					return ExecuteResult{Fault: f, ComputeUsed: r.consumed}
				}
				f = &Fault{Kind: FaultMemory, ComputeUsed: r.consumed, Err: err}
				r.mutations = nil
				return ExecuteResult{Fault: f, ComputeUsed: r.consumed}
			}
		}
		if err := r.Charge(op); err != nil {
			var f *Fault
			errors.As(err, &f)
			r.mutations = nil
			return ExecuteResult{Fault: f, ComputeUsed: r.consumed}
		}
	}
	return ExecuteResult{ComputeUsed: r.consumed, Mutations: r.Mutations()}
}

// LoadModule compiles raw WASM bytecode with the runtime's wasmer engine.
// This is the only point where wasmer-go is exercised directly; host
// functions exposed to the module are expected to call back into
// ValidateAccess/Charge/EnterCall/ExitCall before touching guest memory.
func (r *Runtime) LoadModule(wasmBytes []byte) (*wasmer.Module, error) {
	store := wasmer.NewStore(r.engine)
	mod, err := wasmer.NewModule(store, wasmBytes)
	if err != nil {
		log.WithError(err).Warn("failed to compile BPF program module")
		return nil, fmt.Errorf("compile module: %w", err)
	}
	return mod, nil
}

// HashMessage derives the sender-proxy hash used elsewhere in the pipeline
// (MEV detection, similarity heuristics) from a signature, via the same
// Keccak256 already pulled in through go-ethereum's crypto package.
func HashMessage(sig []byte) common.Hash {
	return crypto.Keccak256Hash(sig)
}
