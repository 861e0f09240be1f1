package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	eventbus "github.com/najoast/msgbus"
)

type fakeStatsSource struct {
	stats eventbus.Stats
}

func (f fakeStatsSource) Stats() eventbus.Stats { return f.stats }

func TestCountersIncrement(t *testing.T) {
	c := NewCounters()
	reg := prometheus.NewRegistry()
	if err := reg.Register(c); err != nil {
		t.Fatalf("Register: %v", err)
	}

	c.ObserveSend()
	c.ObserveSend()
	c.ObservePublish()
	c.ObserveNoHandlers()
	c.ObserveTimeout()
	c.ObserveRecipientFailure()

	if got := testutil.ToFloat64(c.sends); got != 2 {
		t.Fatalf("sends = %v, want 2", got)
	}
	if got := testutil.ToFloat64(c.publishes); got != 1 {
		t.Fatalf("publishes = %v, want 1", got)
	}
	if got := testutil.ToFloat64(c.noHandlers); got != 1 {
		t.Fatalf("noHandlers = %v, want 1", got)
	}
	if got := testutil.ToFloat64(c.timeouts); got != 1 {
		t.Fatalf("timeouts = %v, want 1", got)
	}
	if got := testutil.ToFloat64(c.recipientFailures); got != 1 {
		t.Fatalf("recipientFailures = %v, want 1", got)
	}
}

func TestOccupancyCollectorReflectsCurrentStats(t *testing.T) {
	source := &fakeStatsSource{stats: eventbus.Stats{Addresses: 3, TotalHandlers: 7, OpenConnections: 2, PendingFrames: 4}}
	collector := NewOccupancyCollector(source)

	reg := prometheus.NewRegistry()
	if err := reg.Register(collector); err != nil {
		t.Fatalf("Register: %v", err)
	}

	count, err := testutil.GatherAndCount(reg)
	if err != nil {
		t.Fatalf("GatherAndCount: %v", err)
	}
	if count != 4 {
		t.Fatalf("metric count = %d, want 4", count)
	}

	source.stats = eventbus.Stats{Addresses: 5, TotalHandlers: 9, OpenConnections: 1, PendingFrames: 0}
	count, err = testutil.GatherAndCount(reg)
	if err != nil {
		t.Fatalf("GatherAndCount: %v", err)
	}
	if count != 4 {
		t.Fatalf("metric count after update = %d, want 4", count)
	}
}

func TestRegisterWiresBothCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	counters := NewCounters()
	source := fakeStatsSource{stats: eventbus.Stats{Addresses: 1, TotalHandlers: 1, OpenConnections: 0}}

	if err := Register(reg, counters, source); err != nil {
		t.Fatalf("Register: %v", err)
	}

	if _, err := testutil.GatherAndCount(reg); err != nil {
		t.Fatalf("GatherAndCount: %v", err)
	}
}
