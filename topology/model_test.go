package topology

import "testing"

func TestParseTopologyBasicChain(t *testing.T) {
	recs, err := ParseTopology("src,,q1,mid,q1,q2,sink,q2,")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(recs) != 3 {
		t.Fatalf("expected 3 records, got %d", len(recs))
	}
	if recs[0].Name != "src" || len(recs[0].Inputs) != 0 || len(recs[0].Outputs) != 1 {
		t.Fatalf("unexpected src record: %+v", recs[0])
	}
	if recs[1].Name != "mid" || recs[1].Inputs[0] != "q1" || recs[1].Outputs[0] != "q2" {
		t.Fatalf("unexpected mid record: %+v", recs[1])
	}
}

func TestParseTopologyRejectsBadFieldCount(t *testing.T) {
	_, err := ParseTopology("src,,q1,mid,q1")
	if err == nil {
		t.Fatalf("expected error for malformed topology string")
	}
}

func TestBuildKahnOrdersSourceFirst(t *testing.T) {
	m, err := Build("src,,q1,mid,q1,q2,sink,q2,")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	ids := m.TaskIDs()
	if ids[0] != "src" {
		t.Fatalf("expected source first, got %v", ids)
	}
	if len(ids) != 3 {
		t.Fatalf("expected 3 tasks, got %d", len(ids))
	}
}

func TestBuildRejectsNoSource(t *testing.T) {
	_, err := Build("a,q1,q2,b,q2,q1")
	if err == nil {
		t.Fatalf("expected error: no source task (every record has inputs)")
	}
}

type fakeQueue struct {
	pushRate int
	drops    int
}

func (q *fakeQueue) PushRate() int   { return q.pushRate }
func (q *fakeQueue) PullRate() int   { return 0 }
func (q *fakeQueue) PushCycles() int { return 0 }
func (q *fakeQueue) PullCycles() int { return 0 }
func (q *fakeQueue) Drops() int      { return q.drops }

func TestUpdateInfoPropagatesRatesAlongSingleChain(t *testing.T) {
	m, err := Build("src,,q1,mid,q1,q2,sink,q2,")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	q1 := &fakeQueue{pushRate: 100}
	q2 := &fakeQueue{pushRate: 100}
	queues := map[string]Queue{"q1": q1, "q2": q2}
	m.UpdateInfo(1000, func(name string) Queue { return queues[name] })

	rates := m.Rates()
	if rates[0] != 1000 {
		t.Fatalf("expected src rate 1000, got %v", rates[0])
	}
	if rates[1] != 1000 {
		t.Fatalf("expected mid rate fully inherited (single output, weight 1.0), got %v", rates[1])
	}
	if rates[2] != 1000 {
		t.Fatalf("expected sink rate fully inherited, got %v", rates[2])
	}
}

func TestUpdateInfoSplitsWeightAcrossFanOut(t *testing.T) {
	m, err := Build("src,,qa qb,a,qa,,b,qb,")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	qa := &fakeQueue{pushRate: 75}
	qb := &fakeQueue{pushRate: 25}
	queues := map[string]Queue{"qa": qa, "qb": qb}
	m.UpdateInfo(400, func(name string) Queue { return queues[name] })

	rates := m.Rates()
	ids := m.TaskIDs()
	var rateA, rateB float64
	for i, id := range ids {
		if id == "a" {
			rateA = rates[i]
		}
		if id == "b" {
			rateB = rates[i]
		}
	}
	if rateA != 300 {
		t.Fatalf("expected a's rate = 400*0.75 = 300, got %v", rateA)
	}
	if rateB != 100 {
		t.Fatalf("expected b's rate = 400*0.25 = 100, got %v", rateB)
	}
}
