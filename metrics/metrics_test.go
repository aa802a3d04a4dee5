package metrics

import (
	"slices"
	"sync"
	"testing"
	"time"
)

func TestCounter_IncAndAdd(t *testing.T) {
	c := NewCounter("test.counter")
	c.Inc()
	c.Add(9)
	if c.Value() != 10 {
		t.Fatalf("value = %d, want 10", c.Value())
	}
	c.Add(-5)
	c.Add(0)
	if c.Value() != 10 {
		t.Fatalf("after non-positive adds value = %d, want 10", c.Value())
	}
	if c.Name() != "test.counter" {
		t.Fatalf("name = %q", c.Name())
	}
}

func TestGauge_SetIncDec(t *testing.T) {
	g := NewGauge("test.gauge")
	g.Set(42)
	g.Inc()
	g.Dec()
	g.Dec()
	if g.Value() != 41 {
		t.Fatalf("value = %d, want 41", g.Value())
	}
	g.Set(-10)
	if g.Value() != -10 {
		t.Fatalf("value = %d, want -10", g.Value())
	}
}

func TestHistogram_Snapshot(t *testing.T) {
	h := NewHistogram("test.hist")
	if s := h.Snapshot(); s != (HistogramSnapshot{}) {
		t.Fatalf("empty snapshot = %+v", s)
	}
	for _, v := range []float64{10, -2, 20} {
		h.Observe(v)
	}
	want := HistogramSnapshot{Count: 3, Sum: 28, Min: -2, Max: 20, Mean: 28.0 / 3}
	if s := h.Snapshot(); s != want {
		t.Fatalf("snapshot = %+v, want %+v", s, want)
	}
	if h.Count() != 3 || h.Min() != -2 || h.Max() != 20 {
		t.Errorf("accessors disagree with snapshot")
	}
}

func TestTimer_Stop(t *testing.T) {
	h := NewHistogram("test.timer")
	tm := NewTimer(h)
	time.Sleep(2 * time.Millisecond)
	d := tm.Stop()
	if d < 2*time.Millisecond {
		t.Fatalf("duration = %v", d)
	}
	if h.Count() != 1 || h.Sum() < 2 {
		t.Fatalf("recorded %+v", h.Snapshot())
	}
	if d := NewTimer(nil).Stop(); d < 0 {
		t.Fatalf("nil-hist duration = %v", d)
	}
}

func TestRegistry_GetOrCreate(t *testing.T) {
	r := NewRegistry()
	if r.Counter("ops") != r.Counter("ops") {
		t.Error("Counter returned a different instance")
	}
	if r.Gauge("ops") != r.Gauge("ops") {
		t.Error("Gauge returned a different instance")
	}
	if r.Histogram("lat") != r.Histogram("lat") {
		t.Error("Histogram returned a different instance")
	}
	r.Counter("ops").Inc()
	if r.Gauge("ops").Value() != 0 {
		t.Error("counter and gauge share a namespace")
	}
	if got := r.Names(); !slices.Equal(got, []string{"lat", "ops"}) {
		t.Errorf("Names = %v", got)
	}
}

func TestRegistry_Snapshot(t *testing.T) {
	r := NewRegistry()
	r.Counter("c").Add(5)
	r.Gauge("g").Set(42)
	r.Histogram("h").Observe(10)
	r.Histogram("h").Observe(20)

	snap := r.Snapshot()
	if snap["c"] != int64(5) {
		t.Errorf("c = %v", snap["c"])
	}
	if snap["g"] != int64(42) {
		t.Errorf("g = %v", snap["g"])
	}
	want := HistogramSnapshot{Count: 2, Sum: 30, Min: 10, Max: 20, Mean: 15}
	if snap["h"] != want {
		t.Errorf("h = %v, want %+v", snap["h"], want)
	}

	r.Counter("c").Inc()
	if snap["c"] != int64(5) {
		t.Error("snapshot changed after a later write")
	}
}

func TestRegistry_Concurrency(t *testing.T) {
	r := NewRegistry()
	const goroutines, iterations = 50, 1000

	var wg sync.WaitGroup
	for range goroutines {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := range iterations {
				r.Counter("n").Inc()
				r.Gauge("g").Inc()
				r.Gauge("g").Dec()
				r.Histogram("h").Observe(float64(j))
				_ = r.Snapshot()
			}
		}()
	}
	wg.Wait()

	want := int64(goroutines * iterations)
	if r.Counter("n").Value() != want {
		t.Errorf("counter = %d, want %d", r.Counter("n").Value(), want)
	}
	if r.Gauge("g").Value() != 0 {
		t.Errorf("gauge = %d, want 0", r.Gauge("g").Value())
	}
	if r.Histogram("h").Count() != want {
		t.Errorf("histogram count = %d, want %d", r.Histogram("h").Count(), want)
	}
}

func TestStandardMetrics_Registered(t *testing.T) {
	names := DefaultRegistry.Names()
	for _, name := range []string{
		EVMExecutions.Name(), EVMGasUsed.Name(), EVMFailures.Name(), TxRejected.Name(),
		TxExecTime.Name(), AuthorizationsApplied.Name(), AuthorizationsSkipped.Name(),
	} {
		if !slices.Contains(names, name) {
			t.Errorf("%s not in DefaultRegistry", name)
		}
	}
}
