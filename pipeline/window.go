package pipeline

import (
	"sync"
	"time"
)

// WaitTimeWindow is a fixed-capacity, order-preserving ring of the most
// recent wait-time samples. The oldest sample is evicted when the window is
// full. The worker's processing loop records samples while heartbeat handlers
// read them, so access is mutex-guarded.
type WaitTimeWindow struct {
	mu       sync.Mutex
	samples  []time.Duration
	start    int // index of the oldest sample
	count    int
	capacity int
}

// NewWaitTimeWindow creates a window holding up to capacity samples.
func NewWaitTimeWindow(capacity int) *WaitTimeWindow {
	if capacity <= 0 {
		capacity = 1
	}
	return &WaitTimeWindow{
		samples:  make([]time.Duration, capacity),
		capacity: capacity,
	}
}

// Record appends a sample, evicting the oldest when full.
func (w *WaitTimeWindow) Record(d time.Duration) {
	w.mu.Lock()
	defer w.mu.Unlock()
	idx := (w.start + w.count) % w.capacity
	w.samples[idx] = d
	if w.count < w.capacity {
		w.count++
	} else {
		w.start = (w.start + 1) % w.capacity
	}
}

// Samples returns the current contents, oldest first.
func (w *WaitTimeWindow) Samples() []time.Duration {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]time.Duration, w.count)
	for i := 0; i < w.count; i++ {
		out[i] = w.samples[(w.start+i)%w.capacity]
	}
	return out
}

// Drain returns the current contents, oldest first, and empties the window.
// Heartbeat replies use it so a sample is reported to the scaling controller
// at most once.
func (w *WaitTimeWindow) Drain() []time.Duration {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]time.Duration, w.count)
	for i := 0; i < w.count; i++ {
		out[i] = w.samples[(w.start+i)%w.capacity]
	}
	w.start = 0
	w.count = 0
	return out
}

// Mean returns the arithmetic mean of the window, or zero when empty.
func (w *WaitTimeWindow) Mean() time.Duration {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.count == 0 {
		return 0
	}
	var sum time.Duration
	for i := 0; i < w.count; i++ {
		sum += w.samples[(w.start+i)%w.capacity]
	}
	return sum / time.Duration(w.count)
}

// Len returns the number of samples currently held.
func (w *WaitTimeWindow) Len() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.count
}

// MeanDuration computes the arithmetic mean of a sample slice, used by the
// scaling controller on samples fetched over heartbeats.
func MeanDuration(samples []time.Duration) time.Duration {
	if len(samples) == 0 {
		return 0
	}
	var sum time.Duration
	for _, s := range samples {
		sum += s
	}
	return sum / time.Duration(len(samples))
}
