package pipeline

import (
	"fmt"
	"sync"
	"time"
)

// Statistics tracks per-node counters: requests received, processed,
// forwarded, cumulative queue wait, and sampled queue lengths. Handlers and
// processing loops update it concurrently.
type Statistics struct {
	mu sync.Mutex

	nodeID       string
	received     int
	processed    int
	forwarded    int
	totalWait    time.Duration
	queueLengths []int
}

// NewStatistics creates a statistics tracker for the named node.
func NewStatistics(nodeID string) *Statistics {
	return &Statistics{nodeID: nodeID}
}

// AddReceived counts one inbound request.
func (s *Statistics) AddReceived() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.received++
}

// AddProcessed counts one processed request and accumulates its queue wait.
func (s *Statistics) AddProcessed(wait time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.processed++
	s.totalWait += wait
}

// AddForwarded counts one downstream forward.
func (s *Statistics) AddForwarded() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.forwarded++
}

// RecordQueueLength samples the node's current queue depth.
func (s *Statistics) RecordQueueLength(length int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queueLengths = append(s.queueLengths, length)
}

// AvgWaitTime returns the mean queue wait across processed requests.
func (s *Statistics) AvgWaitTime() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.processed == 0 {
		return 0
	}
	return s.totalWait / time.Duration(s.processed)
}

// AvgQueueLength returns the mean of the sampled queue depths.
func (s *Statistics) AvgQueueLength() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.queueLengths) == 0 {
		return 0
	}
	sum := 0
	for _, l := range s.queueLengths {
		sum += l
	}
	return float64(sum) / float64(len(s.queueLengths))
}

// Counts returns the received/processed/forwarded counters.
func (s *Statistics) Counts() (received, processed, forwarded int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.received, s.processed, s.forwarded
}

func (s *Statistics) String() string {
	received, processed, forwarded := s.Counts()
	return fmt.Sprintf("%s: received=%d processed=%d forwarded=%d avg_wait=%s avg_queue_len=%.2f",
		s.nodeID, received, processed, forwarded, s.AvgWaitTime(), s.AvgQueueLength())
}
