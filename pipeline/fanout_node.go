// The mid-tier fan-out node. Resolves the type-designated second-tier queue
// via the TypeRouter, then forwards the request to every second-tier queue,
// designated queue first: the originating client expects one response per
// terminal peer, so each relay/terminal pair must see the request.

package pipeline

import (
	"net"
	"time"

	"github.com/sirupsen/logrus"
)

// FanoutNode is the mid-tier distribution node.
type FanoutNode struct {
	node   *Node
	router *TypeRouter
	queues []Target // second-tier queues, fixed at construction
	stats  *Statistics
}

// NewFanoutNode creates the fan-out node over the fixed second-tier queue
// set. The router must map every request type to one of the queue ids.
func NewFanoutNode(id, addr string, router *TypeRouter, queues []Target) *FanoutNode {
	f := &FanoutNode{
		router: router,
		queues: append([]Target(nil), queues...),
		stats:  NewStatistics(id),
	}
	f.node = NewNode(id, addr, f.handle)
	return f
}

// Start begins accepting connections.
func (f *FanoutNode) Start() error { return f.node.Start() }

// Stop shuts the node down.
func (f *FanoutNode) Stop(grace time.Duration) {
	f.node.Stop(grace)
	logrus.Infof("%s", f.stats)
}

// Stats exposes the node's counters.
func (f *FanoutNode) Stats() *Statistics { return f.stats }

func (f *FanoutNode) handle(_ net.Conn, msg Message) {
	if msg.Kind != KindRequest {
		logrus.Warnf("%s ignoring %s message", f.node.ID, msg.Kind)
		return
	}
	var req Request
	if err := msg.DecodePayload(KindRequest, &req); err != nil {
		logrus.Errorf("%s: %v", f.node.ID, err)
		return
	}
	f.stats.AddReceived()
	req.AddHop(f.node.ID)

	designated, err := f.router.Route(req.Type)
	if err != nil {
		logrus.Errorf("%s cannot route %s: %v", f.node.ID, req.ID, err)
		return
	}

	out, err := NewMessage(KindRequest, req)
	if err != nil {
		logrus.Errorf("%s: %v", f.node.ID, err)
		return
	}
	for _, q := range f.orderedQueues(designated) {
		if err := f.node.SendTo(q.Addr, out); err != nil {
			logrus.Errorf("%s forward %s to %s: %v", f.node.ID, req.ID, q.ID, err)
			continue
		}
		f.stats.AddForwarded()
		logrus.Debugf("%s forwarded %s to %s", f.node.ID, req.ID, q.ID)
	}
}

// orderedQueues returns the queue set with the type-designated queue first.
func (f *FanoutNode) orderedQueues(designated string) []Target {
	ordered := make([]Target, 0, len(f.queues))
	for _, q := range f.queues {
		if q.ID == designated {
			ordered = append(ordered, q)
		}
	}
	for _, q := range f.queues {
		if q.ID != designated {
			ordered = append(ordered, q)
		}
	}
	return ordered
}
