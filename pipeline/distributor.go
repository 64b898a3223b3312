// The entry node's round-robin target selection. The rotation index and the
// routing table form a single critical section: the dispatch path reads and
// advances the index while the scaling controller appends targets.

package pipeline

import (
	"errors"
	"sync"
)

// ErrNoTargets signals an empty routing table.
var ErrNoTargets = errors.New("distributor has no targets")

// Target is one downstream endpoint in the routing table.
type Target struct {
	ID   string
	Addr string
}

// CyclicDistributor selects targets in strict rotation, independent of
// request content. Over any n consecutive calls against a table of size m,
// each target is chosen either floor(n/m) or ceil(n/m) times. A table that
// grows mid-stream does not rebalance already-dispatched requests; fairness
// is asymptotic.
type CyclicDistributor struct {
	mu      sync.Mutex
	targets []Target
	next    int // rotation index into targets
}

// NewCyclicDistributor creates a distributor over the initial target set.
func NewCyclicDistributor(targets ...Target) *CyclicDistributor {
	return &CyclicDistributor{targets: append([]Target(nil), targets...)}
}

// Next returns the next target in rotation and advances the index.
func (d *CyclicDistributor) Next() (Target, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.targets) == 0 {
		return Target{}, ErrNoTargets
	}
	t := d.targets[d.next%len(d.targets)]
	d.next = (d.next + 1) % len(d.targets)
	return t, nil
}

// AddTarget appends a target to the routing table. Duplicate ids are ignored
// so a re-sent REGISTER cannot skew the rotation.
func (d *CyclicDistributor) AddTarget(t Target) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, existing := range d.targets {
		if existing.ID == t.ID {
			return false
		}
	}
	d.targets = append(d.targets, t)
	return true
}

// Targets returns a copy of the current routing table.
func (d *CyclicDistributor) Targets() []Target {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]Target(nil), d.targets...)
}

// Len returns the current table size.
func (d *CyclicDistributor) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.targets)
}
