package affinity

import "testing"

func TestPinCurrentThreadEmptyIsNoop(t *testing.T) {
	if err := PinCurrentThread(nil); err != nil {
		t.Fatalf("empty cpu set should be a no-op, got %v", err)
	}
	if err := PinCurrentThread([]int{}); err != nil {
		t.Fatalf("empty cpu set should be a no-op, got %v", err)
	}
}

func TestPinCurrentThreadCPU0(t *testing.T) {
	if err := PinCurrentThread([]int{0}); err != nil {
		t.Fatalf("pinning to cpu 0 should always be possible: %v", err)
	}
}
