// The terminal nodes' stochastic availability model: a two-state machine
// that fails on a periodic self-check with fixed probability and recovers
// autonomously once its drawn recovery deadline passes.

package pipeline

import (
	"math/rand"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// AvailabilityState is the terminal node's two-valued availability.
type AvailabilityState int

const (
	Available AvailabilityState = iota
	Failed
)

func (s AvailabilityState) String() string {
	if s == Failed {
		return "FAILED"
	}
	return "AVAILABLE"
}

// FailureSimulator owns one node's availability state. Only the owning node
// mutates it: the periodic self-check goroutine drives failure draws, and
// recovery is checked both there and lazily on incoming work. A node in
// Failed never starts a second failed window; the recovery deadline is always
// within [now+min, now+max] of the failure instant.
type FailureSimulator struct {
	mu       sync.Mutex
	nodeID   string
	state    AvailabilityState
	deadline time.Time // recovery deadline, meaningful only while Failed

	probability float64
	minRecovery time.Duration
	maxRecovery time.Duration
	rng         *rand.Rand
}

// NewFailureSimulator creates an Available simulator for the named node.
// The rng is owned by the simulator; draws happen only under its lock.
func NewFailureSimulator(nodeID string, cfg FailureConfig, rng *rand.Rand) *FailureSimulator {
	return &FailureSimulator{
		nodeID:      nodeID,
		state:       Available,
		probability: cfg.Probability,
		minRecovery: cfg.MinDuration(),
		maxRecovery: cfg.MaxDuration(),
		rng:         rng,
	}
}

// SelfCheck runs one periodic availability check: a Failed node past its
// deadline recovers; an Available node fails with the configured probability
// and draws a recovery duration uniformly from [min, max].
func (f *FailureSimulator) SelfCheck(now time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.state == Failed {
		f.recoverIfDueLocked(now)
		return
	}
	if f.rng.Float64() < f.probability {
		duration := UniformDuration(f.rng, f.minRecovery, f.maxRecovery)
		f.state = Failed
		f.deadline = now.Add(duration)
		logrus.Warnf("%s going DOWN for %s", f.nodeID, duration.Round(time.Millisecond))
	}
}

// Available reports whether the node can take work right now, applying lazy
// recovery first so a past-deadline node never rejects a request.
func (f *FailureSimulator) Available(now time.Time) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.recoverIfDueLocked(now)
	return f.state == Available
}

// State returns the current availability without applying lazy recovery.
func (f *FailureSimulator) State() AvailabilityState {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

// Deadline returns the recovery deadline; the zero time while Available.
func (f *FailureSimulator) Deadline() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.state != Failed {
		return time.Time{}
	}
	return f.deadline
}

// ForceFail puts the node into Failed with an explicit recovery duration.
// Used by the failure-tolerance scenario and tests.
func (f *FailureSimulator) ForceFail(now time.Time, duration time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.state = Failed
	f.deadline = now.Add(duration)
	logrus.Warnf("%s forced DOWN for %s", f.nodeID, duration)
}

func (f *FailureSimulator) recoverIfDueLocked(now time.Time) {
	if f.state == Failed && !now.Before(f.deadline) {
		f.state = Available
		f.deadline = time.Time{}
		logrus.Infof("%s recovered and back online", f.nodeID)
	}
}
