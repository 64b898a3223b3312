// Per-node runtime scaffolding shared by every role: a TCP accept loop that
// spawns one handler goroutine per inbound connection, single-message
// dispatch by message kind, and cooperative shutdown with a drain grace
// period.

package pipeline

import (
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
)

// HandlerFunc processes one decoded inbound message. The connection is still
// open so control-plane handlers may write a reply frame; the runtime closes
// it when the handler returns.
type HandlerFunc func(conn net.Conn, msg Message)

// Node is the network identity of one pipeline role: an id, a bind address,
// and a message handler. All roles embed a Node and differ only in their
// handler and background loops.
type Node struct {
	ID   string
	Addr string

	handler  HandlerFunc
	listener net.Listener
	handlers sync.WaitGroup
	stopped  atomic.Bool
}

// NewNode creates a node runtime. The handler is invoked once per inbound
// connection with the single message read from it.
func NewNode(id, addr string, handler HandlerFunc) *Node {
	return &Node{ID: id, Addr: addr, handler: handler}
}

// Start binds the listener and begins accepting connections. Returns an
// error only if the bind itself fails; accept-loop errors are logged and
// never fatal to the node.
func (n *Node) Start() error {
	ln, err := net.Listen("tcp", n.Addr)
	if err != nil {
		return err
	}
	n.listener = ln
	logrus.Infof("%s listening on %s", n.ID, ln.Addr())
	go n.acceptLoop()
	return nil
}

func (n *Node) acceptLoop() {
	for {
		conn, err := n.listener.Accept()
		if err != nil {
			if n.stopped.Load() {
				return
			}
			logrus.Errorf("%s accept: %v", n.ID, err)
			continue
		}
		n.handlers.Add(1)
		go n.handleConn(conn)
	}
}

// handleConn reads one framed message and dispatches it. Malformed frames
// drop the connection; they never crash the node.
func (n *Node) handleConn(conn net.Conn) {
	defer n.handlers.Done()
	defer conn.Close()

	conn.SetDeadline(time.Now().Add(FrameIOTimeout))
	msg, err := ReadFrame(conn)
	if err != nil {
		logrus.Warnf("%s dropping connection from %s: %v", n.ID, conn.RemoteAddr(), err)
		return
	}
	n.handler(conn, msg)
}

// Stop closes the listener so no new connections are accepted, then waits up
// to grace for in-flight handlers to finish. Returns true if the drain
// completed within the grace period.
func (n *Node) Stop(grace time.Duration) bool {
	if !n.stopped.CompareAndSwap(false, true) {
		return true
	}
	if n.listener != nil {
		n.listener.Close()
	}

	done := make(chan struct{})
	go func() {
		n.handlers.Wait()
		close(done)
	}()
	select {
	case <-done:
		return true
	case <-time.After(grace):
		logrus.Warnf("%s stop: grace period elapsed with handlers still in flight", n.ID)
		return false
	}
}

// ListenAddr returns the actual bound address after Start. Nodes configured
// with port 0 use this to report the endpoint the kernel picked.
func (n *Node) ListenAddr() string {
	if n.listener == nil {
		return n.Addr
	}
	return n.listener.Addr().String()
}

// Stopping reports whether Stop has been called. Background loops use it to
// quiet error logging during shutdown.
func (n *Node) Stopping() bool {
	return n.stopped.Load()
}

// SendTo forwards a message to another node's address over a short-lived
// connection.
func (n *Node) SendTo(addr string, msg Message) error {
	return Send(addr, msg)
}

// Reply writes a frame back on the inbound connection. Used by handlers for
// the ACK and HEARTBEAT request/reply exchanges.
func (n *Node) Reply(conn net.Conn, msg Message) {
	if err := WriteFrame(conn, msg); err != nil {
		logrus.Warnf("%s reply to %s: %v", n.ID, conn.RemoteAddr(), err)
	}
}
