package callstack_test

import (
	"testing"

	"slonana-validator-core/internal/bpf/callstack"
)

func TestPushPopRoundTrip(t *testing.T) {
	m := callstack.New(0)
	if err := m.Push(0x1234, 0x2000, 100); err != nil {
		t.Fatalf("push: %v", err)
	}
	f, ok := m.Pop()
	if !ok {
		t.Fatalf("expected pop to succeed")
	}
	if f.ReturnAddr != 0x1234 || f.FramePointer != 0x2000 || f.ComputeUnits != 100 {
		t.Fatalf("unexpected frame: %+v", f)
	}
	if m.Depth() != 0 {
		t.Fatalf("depth not restored: %d", m.Depth())
	}
}

func TestOverflowLeavesDepthUnchanged(t *testing.T) {
	m := callstack.New(3)
	for i := 0; i < 3; i++ {
		if err := m.Push(0x1000+uint64(i), 0x2000+uint64(i), 100+uint64(i)); err != nil {
			t.Fatalf("push %d: %v", i, err)
		}
	}
	if err := m.Push(0x9999, 0x9999, 0); err != callstack.ErrOverflow {
		t.Fatalf("expected ErrOverflow, got %v", err)
	}
	if m.Depth() != 3 {
		t.Fatalf("depth changed on failed push: %d", m.Depth())
	}

	for i := 2; i >= 0; i-- {
		f, ok := m.Pop()
		if !ok {
			t.Fatalf("pop %d: expected frame", i)
		}
		want := callstack.Frame{ReturnAddr: 0x1000 + uint64(i), FramePointer: 0x2000 + uint64(i), ComputeUnits: 100 + uint64(i)}
		if f != want {
			t.Fatalf("pop %d: got %+v want %+v", i, f, want)
		}
	}
}

func TestPopUnderflow(t *testing.T) {
	m := callstack.New(0)
	if _, ok := m.Pop(); ok {
		t.Fatalf("expected pop on empty stack to fail")
	}
	if m.Depth() != 0 {
		t.Fatalf("depth mutated on failed pop: %d", m.Depth())
	}
}

func TestAtMaxDepthBoundary(t *testing.T) {
	m := callstack.New(3)
	for i := 0; i < 2; i++ {
		_ = m.Push(uint64(i), uint64(i), uint64(i))
	}
	if m.AtMaxDepth() {
		t.Fatalf("should not be at max depth with 2/3 pushed")
	}
	_ = m.Push(2, 2, 2)
	if !m.AtMaxDepth() {
		t.Fatalf("should be at max depth with 3/3 pushed")
	}
}
