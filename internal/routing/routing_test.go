package routing

import "testing"

func TestLookupMissBeforeBind(t *testing.T) {
	tbl := New(2)
	if _, ok := tbl.Lookup(0); ok {
		t.Fatal("expected a miss on a fresh table")
	}
}

func TestBindThenLookup(t *testing.T) {
	tbl := New(2)
	if err := tbl.Bind(1, 7); err != nil {
		t.Fatal(err)
	}
	port, ok := tbl.Lookup(1)
	if !ok || port != 7 {
		t.Fatalf("got (%d, %v), want (7, true)", port, ok)
	}
}

func TestUnbindClearsTarget(t *testing.T) {
	tbl := New(1)
	if err := tbl.Bind(0, 3); err != nil {
		t.Fatal(err)
	}
	if err := tbl.Unbind(0); err != nil {
		t.Fatal(err)
	}
	if _, ok := tbl.Lookup(0); ok {
		t.Fatal("expected a miss after unbind")
	}
}

func TestSetTargetThenActivate(t *testing.T) {
	tbl := New(1)
	if err := tbl.SetTarget(0, 5); err != nil {
		t.Fatal(err)
	}
	if _, ok := tbl.Lookup(0); ok {
		t.Fatal("expected a miss before activation")
	}
	if err := tbl.Activate(0); err != nil {
		t.Fatal(err)
	}
	port, ok := tbl.Lookup(0)
	if !ok || port != 5 {
		t.Fatalf("got (%d, %v), want (5, true)", port, ok)
	}
}

func TestDeactivatePreservesTargetForReactivation(t *testing.T) {
	tbl := New(1)
	if err := tbl.Bind(0, 9); err != nil {
		t.Fatal(err)
	}
	if err := tbl.Deactivate(0); err != nil {
		t.Fatal(err)
	}
	if _, ok := tbl.Lookup(0); ok {
		t.Fatal("expected a miss while deactivated")
	}
	if err := tbl.Activate(0); err != nil {
		t.Fatal(err)
	}
	port, ok := tbl.Lookup(0)
	if !ok || port != 9 {
		t.Fatalf("got (%d, %v), want (9, true): target should survive deactivate", port, ok)
	}
}

func TestOutOfRangeIsError(t *testing.T) {
	tbl := New(1)
	if err := tbl.Bind(5, 0); err == nil {
		t.Fatal("expected an out-of-range error")
	}
	if _, ok := tbl.Lookup(-1); ok {
		t.Fatal("expected a miss for a negative vppb")
	}
}
