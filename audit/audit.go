// Package audit provides the durable command/balance decision trail and
// the HA leader-election coordination the control plane needs to run
// safely across multiple processes, grounded on the teacher's
// control_plane/store package (Store/Coordinator interfaces,
// pgxpool-backed Postgres, go-redis-backed Redis) and
// control_plane/coordination/leader.go's lease renewal idiom.
package audit

import (
	"context"
	"time"
)

// Entry is one recorded control-plane decision: a dispatched command or an
// executed balance run, kept for postmortems and the dashboard timeline,
// grounded on the teacher's control_plane/timeline/store.go decision log.
type Entry struct {
	ID        int64
	Kind      string // "command" or "balance"
	Router    string
	Detail    string
	Outcome   string
	CreatedAt time.Time
}

// Log is a durable, append-only audit trail. It is intentionally not the
// data plane's scheduling state — losing it delays forensics, never
// correctness.
type Log interface {
	Append(ctx context.Context, e Entry) error
	Recent(ctx context.Context, limit int) ([]Entry, error)
}

// Coordinator provides the lease primitives behind HA leader election (see
// LeaderElector).
type Coordinator interface {
	AcquireLease(ctx context.Context, key, value string, ttl time.Duration) (bool, error)
	RenewLease(ctx context.Context, key, value string, ttl time.Duration) (bool, error)
	ReleaseLease(ctx context.Context, key, value string) error
}

// NoopLog discards every Entry, for deployments with no durable audit
// store configured.
type NoopLog struct{}

func (NoopLog) Append(ctx context.Context, e Entry) error             { return nil }
func (NoopLog) Recent(ctx context.Context, limit int) ([]Entry, error) { return nil, nil }
