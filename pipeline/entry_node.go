// The entry distributor: first stop for every client request. Forwards each
// request round-robin across the first-tier workers and accepts REGISTER
// messages from the scaling controller to grow that set.

package pipeline

import (
	"net"
	"time"

	"github.com/sirupsen/logrus"
)

// EntryNode fronts the pipeline, spreading client requests over the
// first-tier workers via a CyclicDistributor.
type EntryNode struct {
	node  *Node
	dist  *CyclicDistributor
	stats *Statistics
}

// NewEntryNode creates the entry distributor over the initial worker set.
func NewEntryNode(id, addr string, workers []Target) *EntryNode {
	e := &EntryNode{
		dist:  NewCyclicDistributor(workers...),
		stats: NewStatistics(id),
	}
	e.node = NewNode(id, addr, e.handle)
	return e
}

// Start begins accepting connections.
func (e *EntryNode) Start() error { return e.node.Start() }

// Stop shuts the node down, draining in-flight handlers up to grace.
func (e *EntryNode) Stop(grace time.Duration) {
	e.node.Stop(grace)
	logrus.Infof("%s", e.stats)
}

// Distributor exposes the routing table for tests and monitoring.
func (e *EntryNode) Distributor() *CyclicDistributor { return e.dist }

// Stats exposes the node's counters.
func (e *EntryNode) Stats() *Statistics { return e.stats }

func (e *EntryNode) handle(conn net.Conn, msg Message) {
	switch msg.Kind {
	case KindRequest:
		e.handleRequest(msg)
	case KindRegister:
		e.handleRegister(conn, msg)
	default:
		logrus.Warnf("%s ignoring %s message", e.node.ID, msg.Kind)
	}
}

func (e *EntryNode) handleRequest(msg Message) {
	var req Request
	if err := msg.DecodePayload(KindRequest, &req); err != nil {
		logrus.Errorf("%s: %v", e.node.ID, err)
		return
	}
	e.stats.AddReceived()
	req.AddHop(e.node.ID)

	target, err := e.dist.Next()
	if err != nil {
		logrus.Errorf("%s cannot dispatch %s: %v", e.node.ID, req.ID, err)
		return
	}
	out, err := NewMessage(KindRequest, req)
	if err != nil {
		logrus.Errorf("%s: %v", e.node.ID, err)
		return
	}
	if err := e.node.SendTo(target.Addr, out); err != nil {
		logrus.Errorf("%s forward %s to %s: %v", e.node.ID, req.ID, target.ID, err)
		return
	}
	e.stats.AddForwarded()
	logrus.Debugf("%s forwarded %s to %s", e.node.ID, req.ID, target.ID)
}

// handleRegister adds a freshly-launched worker instance to the rotation and
// acknowledges on the same connection.
func (e *EntryNode) handleRegister(conn net.Conn, msg Message) {
	var reg Register
	if err := msg.DecodePayload(KindRegister, &reg); err != nil {
		logrus.Errorf("%s: %v", e.node.ID, err)
		return
	}
	added := e.dist.AddTarget(Target{ID: reg.NodeID, Addr: reg.Addr})
	if added {
		logrus.Infof("%s registered new target %s at %s (table size %d)",
			e.node.ID, reg.NodeID, reg.Addr, e.dist.Len())
	}
	ack, err := NewMessage(KindAck, Ack{NodeID: e.node.ID, OK: true})
	if err != nil {
		logrus.Errorf("%s: %v", e.node.ID, err)
		return
	}
	e.node.Reply(conn, ack)
}
