package metrics

import "testing"

func TestCountersIncrement(t *testing.T) {
	r := New()
	r.BindTotal.Inc()
	r.UnbindTotal.Inc()
	r.CCIDispatch.WithLabelValues("0x5400").Inc()
	r.RouterMisses.WithLabelValues("io").Inc()
	r.QueueDepth.WithLabelValues("1", "0", "io", "host_to_target").Set(3)

	mfs, err := r.Gatherer().Gather()
	if err != nil {
		t.Fatal(err)
	}
	if len(mfs) == 0 {
		t.Fatal("expected at least one metric family after recording activity")
	}
}
