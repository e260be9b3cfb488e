// Package costtable holds the BPF runtime's opcode -> compute-unit cost
// schedule.
//
// The table is a 256-entry array populated once at startup from the fixed
// schedule below, the same build-once-array shape used for EVM-style
// opcode costs elsewhere, rebuilt here for BPF opcode classes. After New
// the table is read-only and requires no synchronization; Cost is a
// constant-time array lookup and must not branch on the caller's behalf.
package costtable

// Opcode identifies a BPF instruction class.
type Opcode uint8

// Named opcode classes with explicit schedule entries. Only division, modulo,
// call and exit differ from the default cost of 1.
const (
	OpALUAdd Opcode = iota
	OpALUSub
	OpALUMul
	OpALUDiv
	OpALUMod
	OpALUAnd
	OpALUOr
	OpALUXor
	OpLoad
	OpStore
	OpJump
	OpJumpConditional
	OpCall
	OpExit
)

const (
	// costALU is charged for simple arithmetic/logic opcodes.
	costALU uint64 = 1
	// costDivMod is charged for division and modulo, which cost more cycles.
	costDivMod uint64 = 4
	// costLoadStore is charged for memory load/store opcodes.
	costLoadStore uint64 = 1
	// costJump is charged for control-flow opcodes.
	costJump uint64 = 1
	// costCall is charged when entering a new call frame.
	costCall uint64 = 100
	// costExit is charged on program exit.
	costExit uint64 = 0
	// defaultCost is charged for any opcode with no explicit entry.
	defaultCost uint64 = 1
)

// Table is a 256-entry opcode -> cost mapping. The zero value is not usable;
// construct one with New.
type Table struct {
	costs [256]uint64
}

// New builds the cost table from the fixed schedule. It is intended to be
// called once at program start; the returned Table is safe for unsynchronized
// concurrent reads thereafter.
func New() *Table {
	t := &Table{}
	for i := range t.costs {
		t.costs[i] = defaultCost
	}

	set := func(op Opcode, cost uint64) { t.costs[op] = cost }

	set(OpALUAdd, costALU)
	set(OpALUSub, costALU)
	set(OpALUMul, costALU)
	set(OpALUDiv, costDivMod)
	set(OpALUMod, costDivMod)
	set(OpALUAnd, costALU)
	set(OpALUOr, costALU)
	set(OpALUXor, costALU)
	set(OpLoad, costLoadStore)
	set(OpStore, costLoadStore)
	set(OpJump, costJump)
	set(OpJumpConditional, costJump)
	set(OpCall, costCall)
	set(OpExit, costExit)

	return t
}

// Cost returns the base compute-unit cost for a single opcode. The lookup is
// a plain array index and never branches.
func (t *Table) Cost(op Opcode) uint64 {
	return t.costs[op]
}
