package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestInMemoryCollector(t *testing.T) {
	c := NewInMemoryCollector()

	t.Run("Counter", func(t *testing.T) {
		c.CounterInc(PolicyDecisionsTotal.Name, "decision", "BLOCKED", "stage", "blocklist")
		c.CounterInc(PolicyDecisionsTotal.Name, "decision", "BLOCKED", "stage", "blocklist")
		c.CounterAdd(PolicyDecisionsTotal.Name, 3, "decision", "BLOCKED", "stage", "blocklist")

		if got := c.GetCounter(PolicyDecisionsTotal.Name, "decision", "BLOCKED", "stage", "blocklist"); got != 5 {
			t.Errorf("Counter = %v, want 5", got)
		}
		if got := c.GetCounter(PolicyDecisionsTotal.Name, "decision", "ALLOWED", "stage", "scope"); got != 0 {
			t.Errorf("other label set = %v, want 0", got)
		}
	})

	t.Run("Gauge", func(t *testing.T) {
		c.GaugeSet(BatchInFlight.Name, 3)
		c.GaugeSet(BatchInFlight.Name, 2)
		if got := c.GetGauge(BatchInFlight.Name); got != 2 {
			t.Errorf("Gauge = %v, want 2", got)
		}
	})

	t.Run("Histogram", func(t *testing.T) {
		c.HistogramObserve(TriageFinalScore.Name, 0.1)
		c.HistogramObserve(TriageFinalScore.Name, 0.9)

		got := c.GetHistogram(TriageFinalScore.Name)
		if len(got) != 2 {
			t.Fatalf("observations = %d, want 2", len(got))
		}
		got[0] = 42
		if c.GetHistogram(TriageFinalScore.Name)[0] != 0.1 {
			t.Error("GetHistogram must return a copy")
		}
	})
}

func TestNopCollector(t *testing.T) {
	c := OrNop(nil)
	if _, ok := c.(*NopCollector); !ok {
		t.Fatalf("OrNop(nil) = %T", c)
	}
	c.CounterInc("x")
	c.CounterAdd("x", 1)
	c.GaugeSet("x", 1)
	c.HistogramObserve("x", 1)
	if c.Handler() == nil {
		t.Error("Handler should not be nil")
	}
}

func TestTimer(t *testing.T) {
	c := NewInMemoryCollector()
	timer := NewTimer(c, ArbitrationDuration.Name)
	time.Sleep(5 * time.Millisecond)
	d := timer.ObserveDuration()

	if d < 5*time.Millisecond {
		t.Errorf("duration = %v", d)
	}
	obs := c.GetHistogram(ArbitrationDuration.Name)
	if len(obs) != 1 || obs[0] < 0.005 {
		t.Errorf("observations = %v", obs)
	}
}

func TestPrometheusCollector(t *testing.T) {
	c, err := NewPrometheusCollector(nil)
	if err != nil {
		t.Fatalf("NewPrometheusCollector: %v", err)
	}

	c.CounterInc(PolicyDecisionsTotal.Name, "decision", "UNKNOWN", "stage", "arbitration")
	c.CounterInc(ArbitrationFailuresTotal.Name, "kind", "timeout")
	c.HistogramObserve(ArbitrationDuration.Name, 0.3)
	c.GaugeSet(BatchInFlight.Name, 1)
	c.CounterInc("not_registered")

	if err := c.Register(PolicyDecisionsTotal); err != nil {
		t.Errorf("re-registering should be a no-op: %v", err)
	}

	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)
	out := string(body)

	for _, want := range []string{
		`scopeguard_policy_decisions_total{decision="UNKNOWN",stage="arbitration"} 1`,
		`scopeguard_arbitration_failures_total{kind="timeout"} 1`,
		`scopeguard_arbitration_duration_seconds_count 1`,
		`scopeguard_batch_in_flight 1`,
	} {
		if !strings.Contains(out, want) {
			t.Errorf("metrics output missing %q", want)
		}
	}
	if strings.Contains(out, "not_registered") {
		t.Error("unregistered metric should not be exported")
	}
}

func TestLabelsToValues(t *testing.T) {
	got := labelsToValues([]string{"decision", "ALLOWED", "stage", "scope"})
	if len(got) != 2 || got[0] != "ALLOWED" || got[1] != "scope" {
		t.Errorf("labelsToValues = %v", got)
	}
	if labelsToValues(nil) != nil {
		t.Error("nil labels should yield nil")
	}
}
