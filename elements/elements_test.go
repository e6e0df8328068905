package elements

import "testing"

func TestEatCpuWorkAlwaysReportsDone(t *testing.T) {
	e := NewEatCpu(50)
	if !e.Work() {
		t.Fatalf("expected EatCpu.Work() to always report work done")
	}
}

func TestNewEatCpuDefaultsN(t *testing.T) {
	e := NewEatCpu(0)
	if e.N != 10 {
		t.Fatalf("expected default N=10, got %d", e.N)
	}
}

func TestSimpleQueuePushPullRoundTrip(t *testing.T) {
	q := NewSimpleQueue(2)
	if !q.Push() {
		t.Fatalf("expected first push to succeed")
	}
	if !q.Push() {
		t.Fatalf("expected second push to succeed")
	}
	if q.Push() {
		t.Fatalf("expected third push to be dropped at capacity 2")
	}
	if q.Drops() != 1 {
		t.Fatalf("expected 1 drop, got %d", q.Drops())
	}
	if q.Len() != 2 {
		t.Fatalf("expected len 2, got %d", q.Len())
	}
	if !q.Pull() {
		t.Fatalf("expected pull to succeed")
	}
	if q.Len() != 1 {
		t.Fatalf("expected len 1 after pull, got %d", q.Len())
	}
}

func TestSimpleQueuePullEmptyFails(t *testing.T) {
	q := NewSimpleQueue(1)
	if q.Pull() {
		t.Fatalf("expected pull on empty queue to fail")
	}
}

func TestRatedSourcePushesIntoQueue(t *testing.T) {
	q := NewSimpleQueue(10)
	src := NewRatedSource(q, 1000, 10)
	fired := false
	for i := 0; i < 10; i++ {
		if src.Work() {
			fired = true
		}
	}
	if !fired {
		t.Fatalf("expected at least one successful push within burst")
	}
	if q.Len() == 0 {
		t.Fatalf("expected queue to have received at least one token")
	}
}
