package control

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/itskum47/taskforge/audit"
	"github.com/itskum47/taskforge/observability"
)

// Handler dispatches a single control command. arg carries the
// command-specific argument string (router name, thread id, ticket count,
// etc, space-separated exactly as posted). Returning an error marks the
// message StatusFail; a nil return marks it StatusOK.
type Handler func(ctx context.Context, arg string) error

// CommandThread consumes Messages from a MsgQueue and dispatches them to
// registered Handlers, the Go analog of the Click control thread that runs
// "addnf", "delnf", "movenf" and friends without stopping the data plane
// (spec.md §4.3), run-loop shape grounded on the teacher's
// coordination.LeaderElector.loop ticker+select skeleton.
type CommandThread struct {
	queue    *MsgQueue
	handlers map[string]Handler
	limiter  *rate.Limiter
	auditLog audit.Log

	statusMu sync.Mutex
	status   map[int]MsgOutcome
}

// MsgOutcome mirrors runtime.MsgStatus without importing runtime, so that
// control never needs to know about worker threads directly.
type MsgOutcome int

const (
	OutcomeUnknown MsgOutcome = iota
	OutcomeRunning
	OutcomeOK
	OutcomeFail
)

// NewCommandThread builds a CommandThread over queue. burst and rps bound
// how fast externally-posted commands may be admitted, so a runaway script
// posting "balance" in a loop cannot starve the data plane of CPU spent
// servicing control-plane rebalances.
func NewCommandThread(queue *MsgQueue, rps float64, burst int) *CommandThread {
	return &CommandThread{
		queue:    queue,
		handlers: make(map[string]Handler),
		limiter:  rate.NewLimiter(rate.Limit(rps), burst),
		auditLog: audit.NoopLog{},
		status:   make(map[int]MsgOutcome),
	}
}

// Register installs a Handler for cmd (e.g. "addnf", "movenf", "balance").
func (ct *CommandThread) Register(cmd string, h Handler) {
	ct.handlers[cmd] = h
}

// SetAuditLog points the command thread at a durable audit.Log; every
// dispatch appends a "command" Entry once the handler returns (spec.md §3b:
// a durable append-only log of every control command). Defaults to a no-op
// log if never called.
func (ct *CommandThread) SetAuditLog(l audit.Log) {
	ct.auditLog = l
}

// Status returns the last known outcome of message id.
func (ct *CommandThread) Status(id int) MsgOutcome {
	ct.statusMu.Lock()
	defer ct.statusMu.Unlock()
	if s, ok := ct.status[id]; ok {
		return s
	}
	return OutcomeUnknown
}

func (ct *CommandThread) setStatus(id int, s MsgOutcome) {
	ct.statusMu.Lock()
	ct.status[id] = s
	ct.statusMu.Unlock()
}

// Run services ct.queue until ctx is cancelled or the queue is closed. Run
// closes ct.queue itself once ctx is done, which unblocks a pending Get.
func (ct *CommandThread) Run(ctx context.Context) {
	go func() {
		<-ctx.Done()
		ct.queue.Close()
	}()
	for {
		msg, ok := ct.queue.Get()
		if !ok {
			return
		}
		ct.dispatch(ctx, msg)
	}
}

func (ct *CommandThread) dispatch(ctx context.Context, msg Message) {
	ct.setStatus(msg.ID, OutcomeRunning)

	if err := ct.limiter.Wait(ctx); err != nil {
		ct.setStatus(msg.ID, OutcomeFail)
		ct.recordMetric(msg.Cmd, "rate_limited")
		ct.appendAudit(msg, "rate_limited")
		return
	}

	h, ok := ct.handlers[msg.Cmd]
	if !ok {
		log.Printf("control: no handler registered for command %q (id=%d)", msg.Cmd, msg.ID)
		ct.setStatus(msg.ID, OutcomeFail)
		ct.recordMetric(msg.Cmd, "unknown_command")
		ct.appendAudit(msg, "unknown_command")
		return
	}

	if err := h(ctx, msg.Arg); err != nil {
		log.Printf("control: command %q (id=%d) failed: %v", msg.Cmd, msg.ID, err)
		ct.setStatus(msg.ID, OutcomeFail)
		ct.recordMetric(msg.Cmd, "error")
		ct.appendAudit(msg, "error: "+err.Error())
		return
	}

	ct.setStatus(msg.ID, OutcomeOK)
	ct.recordMetric(msg.Cmd, "ok")
	ct.appendAudit(msg, "ok")
}

// appendAudit records every dispatched command to the durable audit trail,
// regardless of outcome, so postmortems can see rejected and failed
// commands alongside successful ones.
func (ct *CommandThread) appendAudit(msg Message, outcome string) {
	err := ct.auditLog.Append(context.Background(), audit.Entry{
		Kind:      "command",
		Router:    msg.Cmd,
		Detail:    msg.Arg,
		Outcome:   outcome,
		CreatedAt: time.Now(),
	})
	if err != nil {
		log.Printf("control: appending audit entry for command %q (id=%d): %v", msg.Cmd, msg.ID, err)
	}
}

func (ct *CommandThread) recordMetric(cmd, status string) {
	if !observability.Enabled() {
		return
	}
	observability.ControlCommands.WithLabelValues(cmd, status).Inc()
}

// ErrBadArg reports a malformed command argument, used by Handlers that
// parse msg.Arg (e.g. "movenf router.task 2" into router, task, thread).
func ErrBadArg(cmd, arg string) error {
	return fmt.Errorf("control: malformed argument for %q: %q", cmd, arg)
}
