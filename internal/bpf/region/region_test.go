package region_test

import (
	"testing"

	"slonana-validator-core/internal/bpf/region"
)

func TestValidateHitMiss(t *testing.T) {
	tbl := region.New()
	if err := tbl.Add(0x1000, 4096, region.PermRead|region.PermWrite, "heap"); err != nil {
		t.Fatalf("add region: %v", err)
	}

	cases := []struct {
		addr, length uint64
		perm         region.Perm
		want         bool
	}{
		{0x1000, 100, region.PermRead, true},
		{0x1FFF, 1, region.PermRead, true},
		{0x2000, 1, region.PermRead, false},
		{0x1000, 100, region.PermExecute, false},
	}
	for _, c := range cases {
		if got := tbl.Validate(c.addr, c.length, c.perm); got != c.want {
			t.Fatalf("validate(%#x,%d,%d) = %v, want %v", c.addr, c.length, c.perm, got, c.want)
		}
	}
}

func TestAddRejectsOverflow(t *testing.T) {
	tbl := region.New()
	start := ^uint64(0) - 10
	if err := tbl.Add(start, 100, region.PermRead, "overflow"); err != region.ErrInvalidRegion {
		t.Fatalf("expected ErrInvalidRegion, got %v", err)
	}
}

func TestTableFull(t *testing.T) {
	tbl := region.New()
	for i := 0; i < region.MaxRegions; i++ {
		start := uint64(i) * 0x10000
		if err := tbl.Add(start, 4096, region.PermRead, "r"); err != nil {
			t.Fatalf("add %d: %v", i, err)
		}
	}
	if err := tbl.Add(uint64(region.MaxRegions)*0x10000, 4096, region.PermRead, "overflow"); err != region.ErrTableFull {
		t.Fatalf("expected ErrTableFull, got %v", err)
	}
}

func TestClearThenAddIsIdempotent(t *testing.T) {
	tbl := region.New()
	add := func() {
		if err := tbl.Add(0x1000, 4096, region.PermRead|region.PermWrite, "heap"); err != nil {
			t.Fatalf("add: %v", err)
		}
	}
	add()
	before := tbl.Validate(0x1000, 100, region.PermRead)

	tbl.Clear()
	add()
	after := tbl.Validate(0x1000, 100, region.PermRead)

	if before != after || !after {
		t.Fatalf("clear+add changed validation behaviour: before=%v after=%v", before, after)
	}
}

func TestValidateBatchMatchesScalar(t *testing.T) {
	tbl := region.New()
	if err := tbl.Add(0x1000, 4096, region.PermRead, "r"); err != nil {
		t.Fatalf("add: %v", err)
	}
	addrs := []uint64{0x1000, 0x1100, 0x2000, 0x1F00}
	batch := tbl.ValidateBatch(addrs, 10, region.PermRead)
	for i, a := range addrs {
		want := tbl.Validate(a, 10, region.PermRead)
		if batch[i] != want {
			t.Fatalf("batch[%d] = %v, want %v", i, batch[i], want)
		}
	}
}

func TestZeroLengthConsistent(t *testing.T) {
	tbl := region.New()
	if err := tbl.Add(0x1000, 4096, region.PermRead, "r"); err != nil {
		t.Fatalf("add: %v", err)
	}
	a := tbl.Validate(0x1500, 0, region.PermRead)
	b := tbl.Validate(0x1500, 0, region.PermRead)
	if a != b {
		t.Fatalf("zero-length validation inconsistent: %v vs %v", a, b)
	}
}
