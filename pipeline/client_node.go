// Client node: submits typed requests into the pipeline at a fixed interval
// and aggregates the responses the terminal peers send back to its listener.

package pipeline

import (
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// expirySweep is how often the client checks pending records for elapsed
// deadlines.
const expirySweep = 100 * time.Millisecond

// Summary is the client's final per-run tally.
type Summary struct {
	ClientID string
	Success  int
	Failed   int
}

// SuccessRate returns the fraction of finalized requests that succeeded.
func (s Summary) SuccessRate() float64 {
	total := s.Success + s.Failed
	if total == 0 {
		return 0
	}
	return float64(s.Success) / float64(total)
}

func (s Summary) String() string {
	return fmt.Sprintf("%s: success=%d failed=%d rate=%.1f%%",
		s.ClientID, s.Success, s.Failed, 100*s.SuccessRate())
}

// ClientNode runs a response listener plus the submission loop.
type ClientNode struct {
	node      *Node
	agg       *ResponseAggregator
	entryAddr string
	cfg       ClientConfig

	stop    chan struct{}
	sweeper sync.WaitGroup
}

// NewClientNode creates a client that submits to entryAddr and expects one
// response per terminal peer for each request.
func NewClientNode(id, addr, entryAddr string, terminalPeers []string, cfg ClientConfig) *ClientNode {
	c := &ClientNode{
		agg:       NewResponseAggregator(terminalPeers, cfg.ResponseTimeout()),
		entryAddr: entryAddr,
		cfg:       cfg,
		stop:      make(chan struct{}),
	}
	c.node = NewNode(id, addr, c.handle)
	return c
}

// Start launches the response listener and the deadline sweeper.
func (c *ClientNode) Start() error {
	if err := c.node.Start(); err != nil {
		return err
	}
	c.sweeper.Add(1)
	go c.expiryLoop()
	return nil
}

// Stop halts the sweeper and the listener.
func (c *ClientNode) Stop(grace time.Duration) {
	close(c.stop)
	c.sweeper.Wait()
	c.node.Stop(grace)
}

// ID returns the client's node id.
func (c *ClientNode) ID() string { return c.node.ID }

// Aggregator exposes the response aggregator for tests.
func (c *ClientNode) Aggregator() *ResponseAggregator { return c.agg }

func (c *ClientNode) handle(_ net.Conn, msg Message) {
	if msg.Kind != KindResponse {
		logrus.Warnf("%s ignoring %s message", c.node.ID, msg.Kind)
		return
	}
	var resp Response
	if err := msg.DecodePayload(KindResponse, &resp); err != nil {
		logrus.Errorf("%s: %v", c.node.ID, err)
		return
	}
	outcome := c.agg.AddResponse(resp, time.Now())
	logrus.Debugf("%s got response for %s from %s (outcome %s)",
		c.node.ID, resp.RequestID, resp.ProcessedByNode(), outcome)
}

func (c *ClientNode) expiryLoop() {
	defer c.sweeper.Done()
	ticker := time.NewTicker(expirySweep)
	defer ticker.Stop()
	for {
		select {
		case <-c.stop:
			return
		case now := <-ticker.C:
			for _, id := range c.agg.ExpireDue(now) {
				logrus.Warnf("%s request %s timed out", c.node.ID, id)
			}
		}
	}
}

// Submit creates, registers, and sends one request of the given type.
// An unknown type fails before anything is registered or sent.
func (c *ClientNode) Submit(reqType string, seq int) (string, error) {
	now := time.Now()
	id := fmt.Sprintf("%s_%d_%d", c.node.ID, seq, now.UnixMilli())
	req, err := NewRequest(id, reqType, c.node.ID, now)
	if err != nil {
		return "", err
	}

	c.agg.Submit(id, now)
	msg, err := NewMessage(KindRequest, req)
	if err != nil {
		return id, err
	}
	if err := c.node.SendTo(c.entryAddr, msg); err != nil {
		return id, err
	}
	logrus.Debugf("%s submitted %s request %s", c.node.ID, reqType, id)
	return id, nil
}

// Run submits the configured number of requests, rotating through the request
// types, then blocks until every record is finalized (by responses or by
// timeout) and returns the summary.
func (c *ClientNode) Run() Summary {
	for i := 0; i < c.cfg.NumRequests; i++ {
		reqType := RequestTypes[i%len(RequestTypes)]
		if _, err := c.Submit(reqType, i); err != nil {
			logrus.Errorf("%s submit: %v", c.node.ID, err)
		}
		select {
		case <-c.stop:
			return c.Summary()
		case <-time.After(c.cfg.RequestInterval()):
		}
	}
	c.waitFinalized()
	return c.Summary()
}

// waitFinalized blocks until no records are pending. Every record carries a
// deadline, so this terminates within one response timeout of the last
// submission.
func (c *ClientNode) waitFinalized() {
	for {
		_, _, pending := c.agg.Counts()
		if pending == 0 {
			return
		}
		select {
		case <-c.stop:
			return
		case <-time.After(expirySweep):
		}
	}
}

// Summary returns the current success/failure tally.
func (c *ClientNode) Summary() Summary {
	success, failed, _ := c.agg.Counts()
	return Summary{ClientID: c.node.ID, Success: success, Failed: failed}
}
