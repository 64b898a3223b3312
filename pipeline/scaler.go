// The scale-up control loop. On each tick the controller probes every
// first-tier worker instance for its recent queue wait samples over a
// HEARTBEAT exchange, and when an instance's rolling mean exceeds the
// threshold it launches one additional instance of that role and REGISTERs
// the new endpoint with the entry distributor. Scale-down is deliberately
// absent; the table only grows.

package pipeline

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// LaunchFunc starts one new logical instance of a first-tier role and
// returns its endpoint. instance is 1-based within the role.
type LaunchFunc func(role string, instance int) (Target, error)

// ProbeFunc fetches a worker's recent wait-time samples.
type ProbeFunc func(addr string) ([]time.Duration, error)

// ScalingController monitors first-tier wait times and grows the entry
// distributor's routing table. Windows are interpreted per-instance, never
// aggregated across a role, so an idle newcomer cannot dilute an overloaded
// original.
type ScalingController struct {
	cfg       ScalingConfig
	threshold time.Duration // θ_wait × α_scale
	entryAddr string
	launch    LaunchFunc
	probe     ProbeFunc

	mu    sync.Mutex
	roles map[string][]Target // role -> running instances

	stop chan struct{}
	loop sync.WaitGroup
}

// NewScalingController creates a controller over the initial worker set: one
// role per base worker, each starting with itself as the only instance.
func NewScalingController(cfg ScalingConfig, queueCfg QueueConfig, entryAddr string, workers []Target, launch LaunchFunc) *ScalingController {
	roles := make(map[string][]Target, len(workers))
	for _, w := range workers {
		roles[w.ID] = []Target{w}
	}
	return &ScalingController{
		cfg:       cfg,
		threshold: secondsToDuration(queueCfg.AvgWaitThreshSec * cfg.ScaleUpThreshold),
		entryAddr: entryAddr,
		launch:    launch,
		probe:     ProbeWorker,
		roles:     roles,
		stop:      make(chan struct{}),
	}
}

// SetProbe replaces the sample-fetching function. Tests inject canned
// samples here.
func (s *ScalingController) SetProbe(probe ProbeFunc) { s.probe = probe }

// Start launches the periodic monitoring loop.
func (s *ScalingController) Start() {
	s.loop.Add(1)
	go func() {
		defer s.loop.Done()
		ticker := time.NewTicker(s.cfg.CheckInterval())
		defer ticker.Stop()
		for {
			select {
			case <-s.stop:
				return
			case <-ticker.C:
				s.Tick()
			}
		}
	}()
}

// Stop halts the monitoring loop.
func (s *ScalingController) Stop() {
	close(s.stop)
	s.loop.Wait()
}

// InstanceCount returns the number of running instances for a role.
func (s *ScalingController) InstanceCount(role string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.roles[role])
}

// Tick runs one monitoring pass: per role, probe each instance and scale up
// at most once if any instance's mean wait exceeds the threshold and the
// role is below its instance cap.
func (s *ScalingController) Tick() {
	for _, role := range s.roleNames() {
		s.checkRole(role)
	}
}

func (s *ScalingController) roleNames() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make([]string, 0, len(s.roles))
	for role := range s.roles {
		names = append(names, role)
	}
	sort.Strings(names)
	return names
}

func (s *ScalingController) checkRole(role string) {
	s.mu.Lock()
	instances := append([]Target(nil), s.roles[role]...)
	s.mu.Unlock()

	if len(instances) >= s.cfg.MaxInstances {
		return
	}
	for _, inst := range instances {
		samples, err := s.probe(inst.Addr)
		if err != nil {
			logrus.Warnf("scaler: probe %s: %v", inst.ID, err)
			continue
		}
		if len(samples) == 0 {
			continue
		}
		mean := MeanDuration(samples)
		if mean <= s.threshold {
			continue
		}
		logrus.Warnf("scaler: %s mean wait %s exceeds %s, scaling up %s",
			inst.ID, mean.Round(time.Millisecond), s.threshold, role)
		s.scaleUp(role, len(instances)+1)
		return // at most one new instance per role per tick
	}
}

func (s *ScalingController) scaleUp(role string, instance int) {
	target, err := s.launch(role, instance)
	if err != nil {
		logrus.Errorf("scaler: launch %s instance %d: %v", role, instance, err)
		return
	}
	if err := s.register(target); err != nil {
		logrus.Errorf("scaler: register %s: %v", target.ID, err)
		return
	}
	s.mu.Lock()
	s.roles[role] = append(s.roles[role], target)
	count := len(s.roles[role])
	s.mu.Unlock()
	logrus.Infof("scaler: %s now has %d instances (added %s at %s)",
		role, count, target.ID, target.Addr)
}

// register announces the new instance to the entry distributor and waits for
// the ACK.
func (s *ScalingController) register(target Target) error {
	msg, err := NewMessage(KindRegister, Register{NodeID: target.ID, Addr: target.Addr})
	if err != nil {
		return err
	}
	reply, err := Call(s.entryAddr, msg)
	if err != nil {
		return err
	}
	var ack Ack
	if err := reply.DecodePayload(KindAck, &ack); err != nil {
		return err
	}
	if !ack.OK {
		return fmt.Errorf("entry node refused registration of %s", target.ID)
	}
	return nil
}

// ProbeWorker is the default ProbeFunc: a HEARTBEAT request/reply exchange
// with the worker at addr.
func ProbeWorker(addr string) ([]time.Duration, error) {
	msg, err := NewMessage(KindHeartbeat, Heartbeat{NodeID: "scaling-controller"})
	if err != nil {
		return nil, err
	}
	reply, err := Call(addr, msg)
	if err != nil {
		return nil, err
	}
	var hb Heartbeat
	if err := reply.DecodePayload(KindHeartbeat, &hb); err != nil {
		return nil, err
	}
	samples := make([]time.Duration, len(hb.SamplesMS))
	for i, ms := range hb.SamplesMS {
		samples[i] = time.Duration(ms * float64(time.Millisecond))
	}
	return samples, nil
}
