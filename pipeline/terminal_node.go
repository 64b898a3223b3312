// Terminal-tier processing node: the end of the pipeline. While available it
// holds each request for a uniform service time and answers the originating
// client directly with a success response. While failed it silently drops
// inbound work — the client's timeout path treats a dropped request and an
// unreachable peer identically.

package pipeline

import (
	"fmt"
	"math/rand"
	"net"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// TerminalNode is one second-tier processing peer.
type TerminalNode struct {
	node        *Node
	failure     *FailureSimulator
	service     ServiceTimeRange
	clientAddrs map[string]string // client id -> response endpoint
	stats       *Statistics

	// Service-time draws happen on per-connection handler goroutines.
	rngMu sync.Mutex
	rng   *rand.Rand

	checkInterval time.Duration
	stop          chan struct{}
	loop          sync.WaitGroup
}

// NewTerminalNode creates a terminal node. clientAddrs maps every client id
// to the endpoint its responses are sent to. serviceRNG and failureRNG must be
// distinct streams: service draws happen on handler goroutines under rngMu
// while the failure simulator draws under its own lock.
func NewTerminalNode(id, addr string, service ServiceTimeRange, failureCfg FailureConfig, clientAddrs map[string]string, serviceRNG, failureRNG *rand.Rand) *TerminalNode {
	t := &TerminalNode{
		failure:       NewFailureSimulator(id, failureCfg, failureRNG),
		service:       service,
		clientAddrs:   clientAddrs,
		stats:         NewStatistics(id),
		rng:           serviceRNG,
		checkInterval: failureCfg.CheckInterval(),
		stop:          make(chan struct{}),
	}
	t.node = NewNode(id, addr, t.handle)
	return t
}

// Start begins accepting connections and launches the failure self-check
// ticker.
func (t *TerminalNode) Start() error {
	if err := t.node.Start(); err != nil {
		return err
	}
	t.loop.Add(1)
	go t.failureLoop()
	return nil
}

// Stop halts the self-check ticker, then drains connection handlers.
func (t *TerminalNode) Stop(grace time.Duration) {
	close(t.stop)
	t.loop.Wait()
	t.node.Stop(grace)
	logrus.Infof("%s", t.stats)
}

// ID returns the terminal node's id.
func (t *TerminalNode) ID() string { return t.node.ID }

// Failure exposes the availability state machine (scenario tests force
// failures through it).
func (t *TerminalNode) Failure() *FailureSimulator { return t.failure }

// Stats exposes the node's counters.
func (t *TerminalNode) Stats() *Statistics { return t.stats }

func (t *TerminalNode) failureLoop() {
	defer t.loop.Done()
	ticker := time.NewTicker(t.checkInterval)
	defer ticker.Stop()
	for {
		select {
		case <-t.stop:
			return
		case now := <-ticker.C:
			t.failure.SelfCheck(now)
		}
	}
}

func (t *TerminalNode) handle(_ net.Conn, msg Message) {
	if msg.Kind != KindRequest {
		logrus.Warnf("%s ignoring %s message", t.node.ID, msg.Kind)
		return
	}
	var req Request
	if err := msg.DecodePayload(KindRequest, &req); err != nil {
		logrus.Errorf("%s: %v", t.node.ID, err)
		return
	}
	t.stats.AddReceived()

	if !t.failure.Available(time.Now()) {
		logrus.Warnf("%s is DOWN, dropping %s", t.node.ID, req.ID)
		return
	}

	t.rngMu.Lock()
	serviceTime := UniformDuration(t.rng, t.service.Min(), t.service.Max())
	t.rngMu.Unlock()
	time.Sleep(serviceTime)
	t.stats.AddProcessed(0) // no queue at this tier

	resp := Response{
		RequestID:   req.ID,
		Type:        req.Type,
		ClientID:    req.ClientID,
		ProcessedBy: append(append([]string(nil), req.Hops...), t.node.ID),
		Timestamp:   time.Now().UnixMilli(),
		Success:     true,
	}
	if err := t.sendResponse(resp); err != nil {
		logrus.Errorf("%s respond %s to %s: %v", t.node.ID, req.ID, req.ClientID, err)
		return
	}
	t.stats.AddForwarded()
	logrus.Debugf("%s responded to %s for %s (service %s)",
		t.node.ID, req.ClientID, req.ID, serviceTime.Round(time.Millisecond))
}

func (t *TerminalNode) sendResponse(resp Response) error {
	addr, ok := t.clientAddrs[resp.ClientID]
	if !ok {
		return fmt.Errorf("unknown client %q", resp.ClientID)
	}
	msg, err := NewMessage(KindResponse, resp)
	if err != nil {
		return err
	}
	return t.node.SendTo(addr, msg)
}
