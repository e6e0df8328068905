package transport

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/itskum47/taskforge/control"
)

func TestPostCommandEnqueuesAndAssignsID(t *testing.T) {
	q := control.NewMsgQueue()
	ct := control.NewCommandThread(q, 1000, 100)
	api := NewAPI(q, ct)

	req := httptest.NewRequest(http.MethodPost, "/command", strings.NewReader(`{"cmd":"addnf","arg":"r1"}`))
	w := httptest.NewRecorder()
	api.PostCommand(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	msg, ok := q.Get()
	if !ok || msg.Cmd != "addnf" || msg.Arg != "r1" {
		t.Fatalf("expected enqueued message addnf/r1, got %+v ok=%v", msg, ok)
	}
}

func TestPostCommandRejectsMissingCmd(t *testing.T) {
	q := control.NewMsgQueue()
	ct := control.NewCommandThread(q, 1000, 100)
	api := NewAPI(q, ct)

	req := httptest.NewRequest(http.MethodPost, "/command", strings.NewReader(`{"arg":"r1"}`))
	w := httptest.NewRecorder()
	api.PostCommand(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}

func TestGetStatusReflectsCommandThread(t *testing.T) {
	q := control.NewMsgQueue()
	ct := control.NewCommandThread(q, 1000, 100)
	ct.Register("addnf", func(ctx context.Context, arg string) error { return nil })
	api := NewAPI(q, ct)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go ct.Run(ctx)

	q.Add(control.Message{Cmd: "addnf", Arg: "r1", ID: 5})
	deadline := time.Now().Add(time.Second)
	for ct.Status(5) == control.OutcomeUnknown && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}

	req := httptest.NewRequest(http.MethodGet, "/status?id=5", nil)
	w := httptest.NewRecorder()
	api.GetStatus(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), `"status":"ok"`) {
		t.Fatalf("expected status ok in body, got %s", w.Body.String())
	}
}
