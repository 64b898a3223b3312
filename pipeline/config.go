// Grouped configuration for the pipeline topology. Loaded from YAML by the
// cmd layer and handed to the core wholesale; DefaultConfig supplies the
// built-in local topology.

package pipeline

import (
	"fmt"
	"time"
)

// NodeIDs of the default topology. Ports are per-node and unique; port
// uniqueness across the deployment is an orchestration invariant, not
// enforced here.
var (
	DefaultClients   = []string{"K1", "K2"}
	DefaultWorkers   = []string{"P11", "P12", "P13"}
	DefaultRelays    = []string{"Q21", "Q22", "Q23"}
	DefaultTerminals = []string{"P21", "P22", "P23"}
)

// ServiceTimeRange is a uniform service-time interval in seconds.
type ServiceTimeRange struct {
	MinSec float64 `yaml:"min"`
	MaxSec float64 `yaml:"max"`
}

// Min returns the lower bound as a duration.
func (s ServiceTimeRange) Min() time.Duration { return secondsToDuration(s.MinSec) }

// Max returns the upper bound as a duration.
func (s ServiceTimeRange) Max() time.Duration { return secondsToDuration(s.MaxSec) }

// QueueConfig bounds the first-tier priority queues and carries the wait-time
// threshold the scaling controller compares rolling averages against.
type QueueConfig struct {
	MaxLength        int     `yaml:"max_length"`
	AvgWaitThreshSec float64 `yaml:"avg_wait_time_threshold"`
}

// ClientConfig drives the client traffic loop.
type ClientConfig struct {
	RequestIntervalSec float64 `yaml:"request_interval"`
	ResponseTimeoutSec float64 `yaml:"response_timeout"`
	NumRequests        int     `yaml:"num_requests"`
}

// RequestInterval returns the gap between consecutive submissions.
func (c ClientConfig) RequestInterval() time.Duration { return secondsToDuration(c.RequestIntervalSec) }

// ResponseTimeout returns the per-request aggregation deadline.
func (c ClientConfig) ResponseTimeout() time.Duration { return secondsToDuration(c.ResponseTimeoutSec) }

// FailureConfig parameterizes the terminal nodes' availability model.
type FailureConfig struct {
	Probability      float64 `yaml:"failure_probability"`
	MinDurationSec   float64 `yaml:"failure_duration_min"`
	MaxDurationSec   float64 `yaml:"failure_duration_max"`
	CheckIntervalSec float64 `yaml:"check_interval"`
}

// MinDuration returns the shortest possible recovery window.
func (f FailureConfig) MinDuration() time.Duration { return secondsToDuration(f.MinDurationSec) }

// MaxDuration returns the longest possible recovery window.
func (f FailureConfig) MaxDuration() time.Duration { return secondsToDuration(f.MaxDurationSec) }

// CheckInterval returns the self-check period.
func (f FailureConfig) CheckInterval() time.Duration { return secondsToDuration(f.CheckIntervalSec) }

// ScalingConfig parameterizes the scale-up control loop.
type ScalingConfig struct {
	CheckIntervalSec float64 `yaml:"check_interval"`
	WindowSize       int     `yaml:"window_size"`
	ScaleUpThreshold float64 `yaml:"scale_up_threshold"` // multiplier on QueueConfig.AvgWaitThreshSec
	MaxInstances     int     `yaml:"max_instances"`
}

// CheckInterval returns the controller tick period.
func (s ScalingConfig) CheckInterval() time.Duration { return secondsToDuration(s.CheckIntervalSec) }

// TopologyConfig is the opaque configuration object handed to every node at
// start time: the address table plus all tuning parameters.
type TopologyConfig struct {
	Host         string                      `yaml:"host"`
	Ports        map[string]int              `yaml:"ports"`
	ServiceTimes map[string]ServiceTimeRange `yaml:"service_times"`
	Queue        QueueConfig                 `yaml:"queue"`
	Client       ClientConfig                `yaml:"client"`
	Failure      FailureConfig               `yaml:"failure"`
	Scaling      ScalingConfig               `yaml:"scaling"`
	Seed         int64                       `yaml:"seed"`
}

// Addr returns the host:port endpoint for a node id.
// Returns an error for ids missing from the port table.
func (c *TopologyConfig) Addr(nodeID string) (string, error) {
	port, ok := c.Ports[nodeID]
	if !ok {
		return "", fmt.Errorf("no port configured for node %q", nodeID)
	}
	return fmt.Sprintf("%s:%d", c.Host, port), nil
}

// ServiceTime returns the configured service-time range for a node,
// falling back to a zero range for unknown ids.
func (c *TopologyConfig) ServiceTime(nodeID string) ServiceTimeRange {
	return c.ServiceTimes[nodeID]
}

// DefaultConfig returns the built-in local topology: two clients, one entry
// distributor, three first-tier workers, one fan-out node, and three
// relay/terminal pairs, all on localhost.
func DefaultConfig() *TopologyConfig {
	return &TopologyConfig{
		Host: "127.0.0.1",
		Ports: map[string]int{
			"K1": 5001, "K2": 5002,
			"Q1": 5010,
			"P11": 5011, "P12": 5012, "P13": 5013,
			"D": 5020,
			"Q21": 5021, "Q22": 5022, "Q23": 5023,
			"P21": 5031, "P22": 5032, "P23": 5033,
		},
		ServiceTimes: map[string]ServiceTimeRange{
			"P11": {MinSec: 0.1, MaxSec: 0.3},
			"P12": {MinSec: 0.1, MaxSec: 0.3},
			"P13": {MinSec: 0.1, MaxSec: 0.3},
			"P21": {MinSec: 0.2, MaxSec: 0.5},
			"P22": {MinSec: 0.2, MaxSec: 0.5},
			"P23": {MinSec: 0.2, MaxSec: 0.5},
		},
		Queue: QueueConfig{
			MaxLength:        50,
			AvgWaitThreshSec: 2.0,
		},
		Client: ClientConfig{
			RequestIntervalSec: 0.5,
			ResponseTimeoutSec: 10.0,
			NumRequests:        100,
		},
		Failure: FailureConfig{
			Probability:      0.01,
			MinDurationSec:   3.0,
			MaxDurationSec:   8.0,
			CheckIntervalSec: 2.0,
		},
		Scaling: ScalingConfig{
			CheckIntervalSec: 3.0,
			WindowSize:       10,
			ScaleUpThreshold: 1.5,
			MaxInstances:     3,
		},
		Seed: 1,
	}
}

func secondsToDuration(sec float64) time.Duration {
	return time.Duration(sec * float64(time.Second))
}
