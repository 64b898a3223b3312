// Assembles the fixed three-tier topology from a TopologyConfig and owns the
// start/stop ordering: downstream tiers come up before the tiers that feed
// them, and shutdown runs in the reverse direction.

package pipeline

import (
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// StopGrace is the per-node drain grace period used on shutdown.
const StopGrace = 2 * time.Second

// System wires one complete pipeline: clients, entry distributor, first-tier
// workers, fan-out node, relay/terminal pairs, and the scaling controller.
type System struct {
	cfg *TopologyConfig
	rng *PartitionedRNG

	Entry     *EntryNode
	Workers   []*WorkerNode
	Fanout    *FanoutNode
	Relays    []*RelayNode
	Terminals []*TerminalNode
	Clients   []*ClientNode
	Scaler    *ScalingController

	mu       sync.Mutex
	launched []*WorkerNode // extra instances started by the scaling controller
}

// NewSystem builds all nodes of the default topology from cfg. Nothing is
// started yet.
func NewSystem(cfg *TopologyConfig) (*System, error) {
	s := &System{cfg: cfg, rng: NewPartitionedRNG(cfg.Seed)}

	entryAddr, err := cfg.Addr("Q1")
	if err != nil {
		return nil, err
	}
	fanoutAddr, err := cfg.Addr("D")
	if err != nil {
		return nil, err
	}

	clientAddrs := make(map[string]string, len(DefaultClients))
	for _, id := range DefaultClients {
		addr, err := cfg.Addr(id)
		if err != nil {
			return nil, err
		}
		clientAddrs[id] = addr
	}

	// Terminal tier.
	for _, id := range DefaultTerminals {
		addr, err := cfg.Addr(id)
		if err != nil {
			return nil, err
		}
		s.Terminals = append(s.Terminals, NewTerminalNode(
			id, addr, cfg.ServiceTime(id), cfg.Failure, clientAddrs,
			s.rng.ForSubsystem(id), s.rng.ForSubsystem(id+"-failure")))
	}

	// Relay tier, each bound to its fixed terminal peer.
	relayRouter := NewTypeRouter(DefaultRelayRoutes())
	for _, id := range DefaultRelays {
		addr, err := cfg.Addr(id)
		if err != nil {
			return nil, err
		}
		peerID, err := relayRouter.Route(id)
		if err != nil {
			return nil, err
		}
		peerAddr, err := cfg.Addr(peerID)
		if err != nil {
			return nil, err
		}
		s.Relays = append(s.Relays, NewRelayNode(
			id, addr, Target{ID: peerID, Addr: peerAddr}, cfg.Queue.MaxLength))
	}

	// Fan-out node over the relay queues.
	var queues []Target
	for _, id := range DefaultRelays {
		addr, err := cfg.Addr(id)
		if err != nil {
			return nil, err
		}
		queues = append(queues, Target{ID: id, Addr: addr})
	}
	s.Fanout = NewFanoutNode("D", fanoutAddr, NewTypeRouter(DefaultTypeRoutes()), queues)

	// First-tier workers.
	var workerTargets []Target
	for _, id := range DefaultWorkers {
		addr, err := cfg.Addr(id)
		if err != nil {
			return nil, err
		}
		s.Workers = append(s.Workers, NewWorkerNode(
			id, addr, fanoutAddr, cfg.ServiceTime(id), cfg.Queue, cfg.Scaling.WindowSize, s.rng.ForSubsystem(id)))
		workerTargets = append(workerTargets, Target{ID: id, Addr: addr})
	}

	// Entry distributor and the scaling controller feeding its table.
	s.Entry = NewEntryNode("Q1", entryAddr, workerTargets)
	s.Scaler = NewScalingController(cfg.Scaling, cfg.Queue, entryAddr, workerTargets, s.launchWorker)

	// Clients.
	for _, id := range DefaultClients {
		s.Clients = append(s.Clients, NewClientNode(
			id, clientAddrs[id], entryAddr, DefaultTerminals, cfg.Client))
	}
	return s, nil
}

// launchWorker starts one additional logical instance of a first-tier role on
// an ephemeral port, inheriting the role's service-time range.
func (s *System) launchWorker(role string, instance int) (Target, error) {
	fanoutAddr, err := s.cfg.Addr("D")
	if err != nil {
		return Target{}, err
	}
	id := fmt.Sprintf("%s-%d", role, instance)
	w := NewWorkerNode(id, s.cfg.Host+":0", fanoutAddr,
		s.cfg.ServiceTime(role), s.cfg.Queue, s.cfg.Scaling.WindowSize, s.rng.ForSubsystem(id))
	if err := w.Start(); err != nil {
		return Target{}, err
	}
	s.mu.Lock()
	s.launched = append(s.launched, w)
	s.mu.Unlock()
	return Target{ID: id, Addr: w.ListenAddr()}, nil
}

// Start brings the topology up, downstream tiers first, and starts the
// scaling controller. Client listeners start last; their traffic loops run
// separately via RunClients.
func (s *System) Start() error {
	for _, t := range s.Terminals {
		if err := t.Start(); err != nil {
			return fmt.Errorf("start %s: %w", t.ID(), err)
		}
	}
	for _, r := range s.Relays {
		if err := r.Start(); err != nil {
			return err
		}
	}
	if err := s.Fanout.Start(); err != nil {
		return err
	}
	for _, w := range s.Workers {
		if err := w.Start(); err != nil {
			return fmt.Errorf("start %s: %w", w.ID(), err)
		}
	}
	if err := s.Entry.Start(); err != nil {
		return err
	}
	s.Scaler.Start()
	for _, c := range s.Clients {
		if err := c.Start(); err != nil {
			return fmt.Errorf("start %s: %w", c.ID(), err)
		}
	}
	logrus.Info("system up")
	return nil
}

// RunClients runs every client's traffic loop concurrently and returns their
// summaries once all requests are finalized.
func (s *System) RunClients() []Summary {
	summaries := make([]Summary, len(s.Clients))
	var wg sync.WaitGroup
	for i, c := range s.Clients {
		wg.Add(1)
		go func(i int, c *ClientNode) {
			defer wg.Done()
			summaries[i] = c.Run()
		}(i, c)
	}
	wg.Wait()
	return summaries
}

// Stop shuts everything down in reverse dependency order.
func (s *System) Stop() {
	for _, c := range s.Clients {
		c.Stop(StopGrace)
	}
	s.Scaler.Stop()
	s.Entry.Stop(StopGrace)
	for _, w := range s.Workers {
		w.Stop(StopGrace)
	}
	s.mu.Lock()
	launched := append([]*WorkerNode(nil), s.launched...)
	s.mu.Unlock()
	for _, w := range launched {
		w.Stop(StopGrace)
	}
	s.Fanout.Stop(StopGrace)
	for _, r := range s.Relays {
		r.Stop(StopGrace)
	}
	for _, t := range s.Terminals {
		t.Stop(StopGrace)
	}
	logrus.Info("system down")
}

// LogStats dumps every node's counters, used by the periodic monitor in the
// run command.
func (s *System) LogStats() {
	logrus.Infof("%s", s.Entry.Stats())
	for _, w := range s.Workers {
		logrus.Infof("%s", w.Stats())
	}
	logrus.Infof("%s", s.Fanout.Stats())
	for _, r := range s.Relays {
		logrus.Infof("%s", r.Stats())
	}
	for _, t := range s.Terminals {
		logrus.Infof("%s", t.Stats())
	}
}
