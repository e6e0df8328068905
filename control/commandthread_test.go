package control

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestMsgQueueFIFO(t *testing.T) {
	q := NewMsgQueue()
	q.Add(Message{Cmd: "addnf", Arg: "r1", ID: 1})
	q.Add(Message{Cmd: "delnf", Arg: "r2", ID: 2})

	msg, ok := q.Get()
	if !ok || msg.ID != 1 {
		t.Fatalf("expected first message id=1, got %+v ok=%v", msg, ok)
	}
	msg, ok = q.Get()
	if !ok || msg.ID != 2 {
		t.Fatalf("expected second message id=2, got %+v ok=%v", msg, ok)
	}
}

func TestMsgQueueGetBlocksUntilAdd(t *testing.T) {
	q := NewMsgQueue()
	done := make(chan Message, 1)
	go func() {
		msg, _ := q.Get()
		done <- msg
	}()

	time.Sleep(10 * time.Millisecond)
	q.Add(Message{Cmd: "balance", Arg: "r1", ID: 7})

	select {
	case msg := <-done:
		if msg.ID != 7 {
			t.Fatalf("expected id=7, got %d", msg.ID)
		}
	case <-time.After(time.Second):
		t.Fatalf("Get never returned")
	}
}

func TestMsgQueueCloseUnblocksGet(t *testing.T) {
	q := NewMsgQueue()
	done := make(chan bool, 1)
	go func() {
		_, ok := q.Get()
		done <- ok
	}()

	time.Sleep(10 * time.Millisecond)
	q.Close()

	select {
	case ok := <-done:
		if ok {
			t.Fatalf("expected ok=false after close")
		}
	case <-time.After(time.Second):
		t.Fatalf("Get never unblocked on close")
	}
}

func TestCommandThreadDispatchesToHandler(t *testing.T) {
	q := NewMsgQueue()
	ct := NewCommandThread(q, 1000, 100)

	var gotArg string
	ct.Register("addnf", func(ctx context.Context, arg string) error {
		gotArg = arg
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	go ct.Run(ctx)

	q.Add(Message{Cmd: "addnf", Arg: "r1 0", ID: 1})

	deadline := time.Now().Add(time.Second)
	for ct.Status(1) == OutcomeUnknown && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	cancel()

	if gotArg != "r1 0" {
		t.Fatalf("expected handler invoked with arg 'r1 0', got %q", gotArg)
	}
	if ct.Status(1) != OutcomeOK {
		t.Fatalf("expected OutcomeOK, got %v", ct.Status(1))
	}
}

func TestCommandThreadUnknownCommandFails(t *testing.T) {
	q := NewMsgQueue()
	ct := NewCommandThread(q, 1000, 100)

	ctx, cancel := context.WithCancel(context.Background())
	go ct.Run(ctx)
	defer cancel()

	q.Add(Message{Cmd: "nosuchcmd", Arg: "", ID: 2})

	deadline := time.Now().Add(time.Second)
	for ct.Status(2) == OutcomeUnknown && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if ct.Status(2) != OutcomeFail {
		t.Fatalf("expected OutcomeFail for unknown command, got %v", ct.Status(2))
	}
}

func TestCommandThreadHandlerErrorMarksFailed(t *testing.T) {
	q := NewMsgQueue()
	ct := NewCommandThread(q, 1000, 100)
	ct.Register("delnf", func(ctx context.Context, arg string) error {
		return errors.New("router not found")
	})

	ctx, cancel := context.WithCancel(context.Background())
	go ct.Run(ctx)
	defer cancel()

	q.Add(Message{Cmd: "delnf", Arg: "ghost", ID: 3})

	deadline := time.Now().Add(time.Second)
	for ct.Status(3) == OutcomeUnknown && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if ct.Status(3) != OutcomeFail {
		t.Fatalf("expected OutcomeFail, got %v", ct.Status(3))
	}
}
