// First-tier worker: queues inbound requests by priority, processes them in
// get-next order on a single loop, records queue wait samples for the scaling
// controller, and forwards downstream to the fan-out node.

package pipeline

import (
	"errors"
	"math/rand"
	"net"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// idleSleep is the processing loop's backoff when all queue levels are empty.
const idleSleep = 10 * time.Millisecond

// WorkerNode is one first-tier processing instance.
type WorkerNode struct {
	node       *Node
	queue      *PriorityQueue
	window     *WaitTimeWindow
	stats      *Statistics
	downstream string // fan-out node address
	service    ServiceTimeRange
	rng        *rand.Rand // owned by the processing loop

	stop chan struct{}
	loop sync.WaitGroup
}

// NewWorkerNode creates a worker that forwards processed requests to
// downstream. The rng must not be shared with other goroutines.
func NewWorkerNode(id, addr, downstream string, service ServiceTimeRange, queueCfg QueueConfig, windowSize int, rng *rand.Rand) *WorkerNode {
	w := &WorkerNode{
		queue:      NewPriorityQueue(queueCfg.MaxLength),
		window:     NewWaitTimeWindow(windowSize),
		stats:      NewStatistics(id),
		downstream: downstream,
		service:    service,
		rng:        rng,
		stop:       make(chan struct{}),
	}
	w.node = NewNode(id, addr, w.handle)
	return w
}

// Start begins accepting connections and launches the processing loop.
func (w *WorkerNode) Start() error {
	if err := w.node.Start(); err != nil {
		return err
	}
	w.loop.Add(1)
	go w.processLoop()
	return nil
}

// Stop halts the processing loop, then drains connection handlers.
func (w *WorkerNode) Stop(grace time.Duration) {
	close(w.stop)
	w.loop.Wait()
	w.node.Stop(grace)
	logrus.Infof("%s", w.stats)
}

// ID returns the worker's node id.
func (w *WorkerNode) ID() string { return w.node.ID }

// ListenAddr returns the bound address, available after Start. Workers
// launched by the scaling controller bind port 0 and report the actual
// endpoint through this.
func (w *WorkerNode) ListenAddr() string { return w.node.ListenAddr() }

// Window exposes the wait-time window for tests.
func (w *WorkerNode) Window() *WaitTimeWindow { return w.window }

// Queue exposes the priority queue for tests.
func (w *WorkerNode) Queue() *PriorityQueue { return w.queue }

// Stats exposes the node's counters.
func (w *WorkerNode) Stats() *Statistics { return w.stats }

func (w *WorkerNode) handle(conn net.Conn, msg Message) {
	switch msg.Kind {
	case KindRequest:
		w.handleRequest(msg)
	case KindHeartbeat:
		w.handleHeartbeat(conn, msg)
	default:
		logrus.Warnf("%s ignoring %s message", w.node.ID, msg.Kind)
	}
}

func (w *WorkerNode) handleRequest(msg Message) {
	var req Request
	if err := msg.DecodePayload(KindRequest, &req); err != nil {
		logrus.Errorf("%s: %v", w.node.ID, err)
		return
	}
	w.stats.AddReceived()
	req.AddHop(w.node.ID)

	if err := w.queue.Enqueue(req, time.Now()); err != nil {
		// Capacity rejections drop the request; the client's timeout covers it.
		if errors.Is(err, ErrCapacityExceeded) {
			logrus.Warnf("%s rejecting %s: %v", w.node.ID, req.ID, err)
		} else {
			logrus.Errorf("%s enqueue %s: %v", w.node.ID, req.ID, err)
		}
		return
	}
	w.stats.RecordQueueLength(w.queue.Len())
}

// handleHeartbeat answers a scaling-controller probe with the worker's recent
// wait-time samples on the same connection. The window is drained so an idle
// worker cannot re-report the same samples on the next probe.
func (w *WorkerNode) handleHeartbeat(conn net.Conn, msg Message) {
	samples := w.window.Drain()
	ms := make([]float64, len(samples))
	for i, s := range samples {
		ms[i] = float64(s) / float64(time.Millisecond)
	}
	reply, err := NewMessage(KindHeartbeat, Heartbeat{NodeID: w.node.ID, SamplesMS: ms})
	if err != nil {
		logrus.Errorf("%s: %v", w.node.ID, err)
		return
	}
	w.node.Reply(conn, reply)
}

// processLoop consumes the priority queue: dequeue per the get-next rule,
// record the wait sample, hold for a uniform service time, forward to the
// fan-out node.
func (w *WorkerNode) processLoop() {
	defer w.loop.Done()
	for {
		select {
		case <-w.stop:
			return
		default:
		}

		entry, err := w.queue.DequeueNext()
		if err != nil {
			time.Sleep(idleSleep)
			continue
		}

		wait := time.Since(entry.EnqueuedAt)
		w.window.Record(wait)
		w.stats.AddProcessed(wait)

		serviceTime := UniformDuration(w.rng, w.service.Min(), w.service.Max())
		time.Sleep(serviceTime)
		logrus.Debugf("%s processed %s (wait %s, service %s)",
			w.node.ID, entry.Request.ID, wait.Round(time.Millisecond), serviceTime.Round(time.Millisecond))

		out, err := NewMessage(KindRequest, entry.Request)
		if err != nil {
			logrus.Errorf("%s: %v", w.node.ID, err)
			continue
		}
		if err := w.node.SendTo(w.downstream, out); err != nil {
			logrus.Errorf("%s forward %s: %v", w.node.ID, entry.Request.ID, err)
			continue
		}
		w.stats.AddForwarded()
	}
}
