package transport

import (
	"context"
	"testing"
	"time"
)

func TestMetricsHubRunAndShutdown(t *testing.T) {
	calls := 0
	hub := NewMetricsHub(func() MetricsSnapshot {
		calls++
		return MetricsSnapshot{Routers: []string{"r1"}, CPULoad: map[string]float64{"0": 1.5}, Timestamp: time.Time{}}
	}, 5*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)

	time.Sleep(30 * time.Millisecond)
	cancel()
	time.Sleep(10 * time.Millisecond)

	if calls == 0 {
		t.Fatalf("expected snapshot to be called at least once")
	}
}
