package evctx

import "testing"

func TestContext(t *testing.T) {
	if None.Valid() {
		t.Error("None should not be bound to a slot")
	}

	ctx := New(3, 17)
	if !ctx.Valid() {
		t.Fatal("context with slot 3 should be valid")
	}
	if ctx.String() != "s: 3  e: 17" {
		t.Errorf("unexpected string %q", ctx.String())
	}

	next := ctx.Next()
	if next.Slot != 3 || next.EventNumber != 18 {
		t.Errorf("Next() = %+v", next)
	}
	if None.String() != "s: INVALID" {
		t.Errorf("unexpected string %q", None.String())
	}
}
