// Package remote defines the boundary to the simulated remote system. All
// "network" round trips in this process go through a Remote; nothing in the
// core opens a real connection.
package remote

import (
	"context"
	"errors"
	"math/rand/v2"
	"sync"
	"time"
)

// ErrNetwork is the simulated network failure returned by a round trip.
var ErrNetwork = errors.New("remote: network error")

// Remote performs one simulated round trip. op names the operation (for
// logging only); the returned error is ErrNetwork-wrapped on failure.
type Remote interface {
	Roundtrip(ctx context.Context, op string) error
}

// Simulated is the default Remote: it sleeps for a latency drawn uniformly
// from [MinLatency, MaxLatency] and then fails with probability
// 1-SuccessRate. The rate is a fault-injection placeholder, not a contract.
type Simulated struct {
	MinLatency  time.Duration
	MaxLatency  time.Duration
	SuccessRate float64 // 0..1; zero value means always succeed
}

// NewSimulated returns a Simulated with the conventional demo latencies
// (300ms-800ms) and a 0.9 success rate.
func NewSimulated() *Simulated {
	return &Simulated{
		MinLatency:  300 * time.Millisecond,
		MaxLatency:  800 * time.Millisecond,
		SuccessRate: 0.9,
	}
}

func (s *Simulated) Roundtrip(ctx context.Context, op string) error {
	delay := s.MinLatency
	if s.MaxLatency > s.MinLatency {
		delay += time.Duration(rand.Int64N(int64(s.MaxLatency - s.MinLatency)))
	}
	if delay > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
	if s.SuccessRate > 0 && s.SuccessRate < 1 && rand.Float64() >= s.SuccessRate {
		return ErrNetwork
	}
	return nil
}

// Scripted is a Remote for tests: it returns the queued outcomes in order
// and succeeds once the script is exhausted. Zero latency, safe for
// concurrent use.
type Scripted struct {
	mu       sync.Mutex
	Outcomes []error
	calls    int
}

func (s *Scripted) Roundtrip(_ context.Context, _ string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.calls
	s.calls++
	if i < len(s.Outcomes) {
		return s.Outcomes[i]
	}
	return nil
}

// Calls returns how many round trips have been attempted.
func (s *Scripted) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}
