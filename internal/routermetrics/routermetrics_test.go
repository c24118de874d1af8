package routermetrics

import (
	"testing"
	"time"
)

func TestRecordResultAndScore(t *testing.T) {
	tr := New(DefaultScoreWeights())

	tr.RecordResult("srv-1", 10*time.Millisecond, true)
	tr.RecordResult("srv-1", 20*time.Millisecond, true)
	tr.RecordResult("srv-1", 30*time.Millisecond, false)

	score := tr.Score("srv-1")
	if score <= 0 || score > 1 {
		t.Fatalf("Score() = %v, want in (0, 1]", score)
	}
}

func TestScoreDefaultsToFullSuccessRateWhenNoRequests(t *testing.T) {
	tr := New(DefaultScoreWeights())
	score := tr.Score("never-seen")
	// successRate defaults to 1, latency/capacity scores are both 1 at zero
	// load, so the score should equal the sum of the weights (1.0).
	if score < 0.99 || score > 1.01 {
		t.Fatalf("Score() for unseen server = %v, want ~1.0", score)
	}
}

func TestActiveConnectionsTracking(t *testing.T) {
	tr := New(DefaultScoreWeights())
	tr.IncrementConnections("srv-1")
	tr.IncrementConnections("srv-1")
	if got := tr.ActiveConnections("srv-1"); got != 2 {
		t.Fatalf("ActiveConnections() = %d, want 2", got)
	}
	tr.DecrementConnections("srv-1")
	if got := tr.ActiveConnections("srv-1"); got != 1 {
		t.Fatalf("ActiveConnections() = %d, want 1", got)
	}
	tr.DecrementConnections("srv-1")
	tr.DecrementConnections("srv-1")
	if got := tr.ActiveConnections("srv-1"); got != 0 {
		t.Fatalf("ActiveConnections() floored at %d, want 0", got)
	}
}

func TestSnapshotReflectsRecordedStats(t *testing.T) {
	tr := New(DefaultScoreWeights())
	tr.RecordResult("srv-1", 50*time.Millisecond, true)
	tr.RecordResult("srv-1", 150*time.Millisecond, false)

	snap := tr.Snapshot()
	s, ok := snap["srv-1"]
	if !ok {
		t.Fatal("Snapshot() missing srv-1")
	}
	if s.Total != 2 || s.Success != 1 || s.Failed != 1 {
		t.Fatalf("Snapshot() counts = %+v, want total=2 success=1 failed=1", s)
	}
	if s.AvgLatency != 100 {
		t.Fatalf("Snapshot() avg latency = %v, want 100", s.AvgLatency)
	}
}

func TestSweepDropsUnkeptAndIdleServers(t *testing.T) {
	tr := New(DefaultScoreWeights())
	tr.RecordResult("keep", time.Millisecond, true)
	tr.RecordResult("drop", time.Millisecond, true)

	tr.Sweep(map[string]struct{}{"keep": {}}, time.Hour)

	snap := tr.Snapshot()
	if _, ok := snap["drop"]; ok {
		t.Fatal("Sweep() left a server not in the keep set")
	}
	if _, ok := snap["keep"]; !ok {
		t.Fatal("Sweep() dropped a server that should have been kept")
	}
}
