package elements

import (
	"context"

	"golang.org/x/time/rate"
)

// RatedSource is a source-task work function that pushes tokens onto a
// SimpleQueue at a token-bucket-limited rate, standing in for Click's
// RatedSource element (a fixed-rate packet generator feeding the head of
// a topology chain).
type RatedSource struct {
	Queue   *SimpleQueue
	limiter *rate.Limiter
	ctx     context.Context
}

// NewRatedSource returns a RatedSource that admits up to ratePerSec tokens
// per second into queue, with burst headroom of burst tokens.
func NewRatedSource(queue *SimpleQueue, ratePerSec float64, burst int) *RatedSource {
	return &RatedSource{
		Queue:   queue,
		limiter: rate.NewLimiter(rate.Limit(ratePerSec), burst),
		ctx:     context.Background(),
	}
}

// Work implements runtime.Fire: pushes one token if the limiter currently
// allows it, reporting work-done accordingly.
func (s *RatedSource) Work() bool {
	if !s.limiter.Allow() {
		return false
	}
	return s.Queue.Push()
}
