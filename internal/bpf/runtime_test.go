package bpf_test

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"slonana-validator-core/internal/bpf"
	"slonana-validator-core/internal/bpf/costtable"
	"slonana-validator-core/internal/bpf/region"
)

func TestValidateAccessFaultsOutsideRegion(t *testing.T) {
	rt := bpf.New(1000)
	if err := rt.AddRegion(0x1000, 4096, region.PermRead, "heap"); err != nil {
		t.Fatalf("add region: %v", err)
	}
	if err := rt.ValidateAccess(0x1000, 10, region.PermRead); err != nil {
		t.Fatalf("expected in-range access to succeed: %v", err)
	}
	err := rt.ValidateAccess(0x5000, 10, region.PermRead)
	if err == nil {
		t.Fatalf("expected fault for out-of-range access")
	}
	fault, ok := err.(*bpf.Fault)
	if !ok || fault.Kind != bpf.FaultMemory {
		t.Fatalf("expected memory fault, got %v", err)
	}
}

func TestChargeFaultsOnComputeExhaustion(t *testing.T) {
	rt := bpf.New(3)
	if err := rt.Charge(costtable.OpALUAdd); err != nil {
		t.Fatalf("charge 1: %v", err)
	}
	if err := rt.Charge(costtable.OpALUDiv); err == nil {
		t.Fatalf("expected compute fault: budget=3, spent=1, div costs 4")
	} else if f, ok := err.(*bpf.Fault); !ok || f.Kind != bpf.FaultCompute {
		t.Fatalf("expected compute fault, got %v", err)
	}
	if rt.ConsumedComputeUnits() != 1 {
		t.Fatalf("compute consumed should be unchanged by failed charge, got %d", rt.ConsumedComputeUnits())
	}
}

func TestEnterExitCallRoundTrip(t *testing.T) {
	rt := bpf.New(1_000_000)
	target := common.HexToAddress("0x1")
	if err := rt.EnterCall(target, 0x2000); err != nil {
		t.Fatalf("enter call: %v", err)
	}
	if rt.StackDepth() != 1 {
		t.Fatalf("expected depth 1, got %d", rt.StackDepth())
	}
	if _, err := rt.ExitCall(); err != nil {
		t.Fatalf("exit call: %v", err)
	}
	if rt.StackDepth() != 0 {
		t.Fatalf("expected depth 0 after exit, got %d", rt.StackDepth())
	}
}

func TestExitCallUnderflowFaults(t *testing.T) {
	rt := bpf.New(1000)
	if _, err := rt.ExitCall(); err == nil {
		t.Fatalf("expected stack fault on empty exit")
	} else if f, ok := err.(*bpf.Fault); !ok || f.Kind != bpf.FaultStack {
		t.Fatalf("expected stack fault, got %v", err)
	}
}

func TestFaultingExecutionDiscardsMutations(t *testing.T) {
	rt := bpf.New(5)
	rt.RecordMutation(bpf.AccountMutation{Key: "balance", Value: []byte{1}})
	program := []costtable.Opcode{costtable.OpALUAdd, costtable.OpALUDiv, costtable.OpALUDiv}
	result := rt.Execute(program, nil)
	if result.Fault == nil {
		t.Fatalf("expected fault: budget 5 cannot cover 1+4+4")
	}
	if len(result.Mutations) != 0 {
		t.Fatalf("expected no mutations to escape a faulting execution")
	}
	if len(rt.Mutations()) != 0 {
		t.Fatalf("runtime should have discarded buffered mutations after fault")
	}
}
