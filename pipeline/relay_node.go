// Second-tier relay: a single FIFO queue in front of one fixed terminal
// peer. Routing here is degenerate (1:1), but the queue decouples the fan-out
// node from a slow or failed terminal.

package pipeline

import (
	"net"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// RelayNode queues requests for exactly one terminal peer.
type RelayNode struct {
	node     *Node
	queue    chan QueueEntry
	terminal Target
	stats    *Statistics

	stop chan struct{}
	loop sync.WaitGroup
}

// NewRelayNode creates a relay bound to its fixed terminal peer, with a
// FIFO queue bounded to maxQueue entries.
func NewRelayNode(id, addr string, terminal Target, maxQueue int) *RelayNode {
	r := &RelayNode{
		queue:    make(chan QueueEntry, maxQueue),
		terminal: terminal,
		stats:    NewStatistics(id),
		stop:     make(chan struct{}),
	}
	r.node = NewNode(id, addr, r.handle)
	return r
}

// Start begins accepting connections and launches the forwarding loop.
func (r *RelayNode) Start() error {
	if err := r.node.Start(); err != nil {
		return err
	}
	r.loop.Add(1)
	go r.processLoop()
	return nil
}

// Stop halts the forwarding loop, then drains connection handlers.
func (r *RelayNode) Stop(grace time.Duration) {
	close(r.stop)
	r.loop.Wait()
	r.node.Stop(grace)
	logrus.Infof("%s", r.stats)
}

// Stats exposes the node's counters.
func (r *RelayNode) Stats() *Statistics { return r.stats }

func (r *RelayNode) handle(_ net.Conn, msg Message) {
	if msg.Kind != KindRequest {
		logrus.Warnf("%s ignoring %s message", r.node.ID, msg.Kind)
		return
	}
	var req Request
	if err := msg.DecodePayload(KindRequest, &req); err != nil {
		logrus.Errorf("%s: %v", r.node.ID, err)
		return
	}
	r.stats.AddReceived()
	req.AddHop(r.node.ID)

	select {
	case r.queue <- QueueEntry{Request: req, EnqueuedAt: time.Now()}:
		r.stats.RecordQueueLength(len(r.queue))
	default:
		logrus.Warnf("%s rejecting %s: queue full", r.node.ID, req.ID)
	}
}

func (r *RelayNode) processLoop() {
	defer r.loop.Done()
	for {
		select {
		case <-r.stop:
			return
		case entry := <-r.queue:
			wait := time.Since(entry.EnqueuedAt)
			r.stats.AddProcessed(wait)

			out, err := NewMessage(KindRequest, entry.Request)
			if err != nil {
				logrus.Errorf("%s: %v", r.node.ID, err)
				continue
			}
			// An unreachable terminal is the peer's failure window; no retry,
			// the client's timeout covers the lost response.
			if err := r.node.SendTo(r.terminal.Addr, out); err != nil {
				logrus.Warnf("%s forward %s to %s: %v", r.node.ID, entry.Request.ID, r.terminal.ID, err)
				continue
			}
			r.stats.AddForwarded()
		}
	}
}
