// Package elements holds minimal stand-in elements — EatCpu, SimpleQueue,
// RatedSource — resembling real packet-processing work. They are exercised
// by this package's own tests; no other package imports them. Grounded on
// _examples/original_source/elements/local/eatcpu.{hh,cc} and the
// SimpleQueue forward-declared in routerbox.hh. This is not a general
// element/config-language framework (spec.md Non-goals).
package elements

import "math"

// EatCpu burns a configurable amount of CPU per fire by counting primes up
// to N, the same trial-division loop as the original eatcpu.cc
// simple_action. It implements runtime.Fire via Work.
type EatCpu struct {
	N int
}

// NewEatCpu returns an EatCpu configured to do N units of work per fire.
// n <= 0 defaults to 10, matching the original element's default.
func NewEatCpu(n int) *EatCpu {
	if n <= 0 {
		n = 10
	}
	return &EatCpu{N: n}
}

// Work runs the CPU-eating loop and always reports work done; this is a
// pure CPU sink with no upstream/downstream queue, useful for exercising
// stride fairness without network or queueing noise.
func (e *EatCpu) Work() bool {
	count := 0
	for i := 1; i <= e.N; i++ {
		s := int(math.Sqrt(float64(i)))
		isPrimeLike := true
		for j := 2; j <= s; j++ {
			if j == 0 {
				continue
			}
			k := i / j
			if j*k == i {
				isPrimeLike = false
				break
			}
		}
		if isPrimeLike {
			count++
		}
	}
	return true
}
