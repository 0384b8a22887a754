package token

import "testing"

func TestArbiterReserveAndRelease(t *testing.T) {
	a := NewArbiter(2)
	defer a.Close()

	if err := a.Reserve(1, 0, ResourceAESOp); err != nil {
		t.Fatalf("Reserve: %v", err)
	}
	if err := a.Reserve(2, 0, ResourceAESOp); err == nil {
		t.Fatalf("expected StatusOperationActive for a conflicting reservation")
	}
	if err := a.Release(1, 0, ResourceAESOp); err != nil {
		t.Fatalf("Release: %v", err)
	}
	if err := a.Reserve(2, 0, ResourceAESOp); err != nil {
		t.Fatalf("Reserve after Release: %v", err)
	}
}

func TestArbiterReserveIsIdempotentForSameSession(t *testing.T) {
	a := NewArbiter(1)
	defer a.Close()

	if err := a.Reserve(7, 0, ResourceDigestOp0); err != nil {
		t.Fatalf("Reserve: %v", err)
	}
	if err := a.Reserve(7, 0, ResourceDigestOp0); err != nil {
		t.Fatalf("re-Reserve by the same session should succeed: %v", err)
	}
}

func TestArbiterReleaseRejectsWrongOwner(t *testing.T) {
	a := NewArbiter(1)
	defer a.Close()

	if err := a.Reserve(1, 0, ResourceAuthOp0); err != nil {
		t.Fatalf("Reserve: %v", err)
	}
	if err := a.Release(2, 0, ResourceAuthOp0); err == nil {
		t.Fatalf("expected error releasing a cell owned by a different session")
	}
}

func TestArbiterReserveRejectsOutOfRangeSlot(t *testing.T) {
	a := NewArbiter(1)
	defer a.Close()

	if err := a.Reserve(1, 5, ResourceAESOp); err == nil {
		t.Fatalf("expected StatusArgumentsBad for an out-of-range slot")
	}
}

func TestArbiterReleaseAllDropsEverySlot(t *testing.T) {
	a := NewArbiter(2)
	defer a.Close()

	if err := a.Reserve(9, 0, ResourceAESOp); err != nil {
		t.Fatalf("Reserve slot 0: %v", err)
	}
	if err := a.Reserve(9, 1, ResourceDigestOp0); err != nil {
		t.Fatalf("Reserve slot 1: %v", err)
	}
	a.ReleaseAll(9)
	if err := a.Reserve(1, 0, ResourceAESOp); err != nil {
		t.Fatalf("slot 0 still reserved after ReleaseAll: %v", err)
	}
	if err := a.Reserve(1, 1, ResourceDigestOp0); err != nil {
		t.Fatalf("slot 1 still reserved after ReleaseAll: %v", err)
	}
}
