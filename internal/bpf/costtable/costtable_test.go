package costtable_test

import (
	"testing"

	"slonana-validator-core/internal/bpf/costtable"
)

func TestNamedOpcodeCosts(t *testing.T) {
	tbl := costtable.New()
	cases := []struct {
		op   costtable.Opcode
		want uint64
	}{
		{costtable.OpALUAdd, 1},
		{costtable.OpALUDiv, 4},
		{costtable.OpALUMod, 4},
		{costtable.OpLoad, 1},
		{costtable.OpStore, 1},
		{costtable.OpCall, 100},
		{costtable.OpExit, 0},
	}
	for _, c := range cases {
		if got := tbl.Cost(c.op); got != c.want {
			t.Fatalf("cost(%d) = %d, want %d", c.op, got, c.want)
		}
	}
}

func TestUnknownOpcodeDefaultsToOne(t *testing.T) {
	tbl := costtable.New()
	if got := tbl.Cost(costtable.Opcode(250)); got != 1 {
		t.Fatalf("unpriced opcode cost = %d, want default 1", got)
	}
}
