package pipeline

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testConfig builds a full topology config on free loopback ports with
// timings compressed for tests: millisecond service times, no terminal
// failures, inert background tickers.
func testConfig(t *testing.T) *TopologyConfig {
	t.Helper()
	cfg := DefaultConfig()
	cfg.Ports = map[string]int{}
	for _, id := range []string{"K1", "K2", "Q1", "P11", "P12", "P13", "D", "Q21", "Q22", "Q23", "P21", "P22", "P23"} {
		cfg.Ports[id] = freePort(t)
	}
	for id := range cfg.ServiceTimes {
		cfg.ServiceTimes[id] = ServiceTimeRange{MinSec: 0.001, MaxSec: 0.002}
	}
	cfg.Client = ClientConfig{
		RequestIntervalSec: 0.01,
		ResponseTimeoutSec: 3.0,
		NumRequests:        6,
	}
	cfg.Failure = FailureConfig{
		Probability:      0,
		MinDurationSec:   0.1,
		MaxDurationSec:   0.2,
		CheckIntervalSec: 60, // self-checks stay out of the way
	}
	cfg.Scaling = ScalingConfig{
		CheckIntervalSec: 60,
		WindowSize:       10,
		ScaleUpThreshold: 100,
		MaxInstances:     3,
	}
	return cfg
}

// freePort reserves an ephemeral port and releases it for the node to bind.
func freePort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()
	return ln.Addr().(*net.TCPAddr).Port
}

func startTestSystem(t *testing.T) *System {
	t.Helper()
	sys, err := NewSystem(testConfig(t))
	require.NoError(t, err)
	require.NoError(t, sys.Start())
	t.Cleanup(sys.Stop)
	return sys
}

func TestPipeline_SingleRequestCompletesWithThreeResponses(t *testing.T) {
	// GIVEN a running pipeline with failures disabled
	sys := startTestSystem(t)
	client := sys.Clients[0]

	// WHEN the client submits one z3 request
	id, err := client.Submit(TypeZ3, 0)
	require.NoError(t, err)

	// THEN it finalizes SUCCESS with one response from each terminal peer
	require.Eventually(t, func() bool {
		return client.Aggregator().Outcome(id) == OutcomeSuccess
	}, 5*time.Second, 20*time.Millisecond)

	responses := client.Aggregator().Responses(id)
	require.Len(t, responses, 3)
	peers := map[string]bool{}
	for _, resp := range responses {
		assert.True(t, resp.Success)
		assert.Equal(t, id, resp.RequestID)
		peers[resp.ProcessedByNode()] = true
	}
	assert.Equal(t, map[string]bool{"P21": true, "P22": true, "P23": true}, peers)
}

func TestPipeline_ResponsePathRecordsEveryHop(t *testing.T) {
	sys := startTestSystem(t)
	client := sys.Clients[1]

	id, err := client.Submit(TypeZ1, 0)
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		return client.Aggregator().Outcome(id) == OutcomeSuccess
	}, 5*time.Second, 20*time.Millisecond)

	// Each path runs entry -> one first-tier worker -> fan-out -> one relay
	// -> the responding terminal.
	for _, resp := range client.Aggregator().Responses(id) {
		require.Len(t, resp.ProcessedBy, 5)
		assert.Equal(t, "Q1", resp.ProcessedBy[0])
		assert.Contains(t, DefaultWorkers, resp.ProcessedBy[1])
		assert.Equal(t, "D", resp.ProcessedBy[2])
		assert.Contains(t, DefaultRelays, resp.ProcessedBy[3])
		assert.Equal(t, resp.ProcessedByNode(), resp.ProcessedBy[4])
	}
}

func TestPipeline_FullClientRunAllSucceed(t *testing.T) {
	// GIVEN a healthy pipeline
	sys := startTestSystem(t)

	// WHEN both clients run their full traffic loops
	summaries := sys.RunClients()

	// THEN every request finalizes SUCCESS
	require.Len(t, summaries, 2)
	for _, summary := range summaries {
		assert.Equal(t, 6, summary.Success, "%s", summary)
		assert.Equal(t, 0, summary.Failed, "%s", summary)
		assert.Equal(t, 1.0, summary.SuccessRate())
	}
}

func TestPipeline_RequestsSpreadAcrossWorkers(t *testing.T) {
	sys := startTestSystem(t)
	sys.RunClients()

	// 12 requests round-robined over 3 workers: every worker saw some.
	for _, w := range sys.Workers {
		received, _, _ := w.Stats().Counts()
		assert.Positive(t, received, "worker %s never received a request", w.ID())
	}
}

func TestPipeline_FailedTerminalCausesTimeoutFailure(t *testing.T) {
	// GIVEN a pipeline where one terminal is down past the client timeout
	cfg := testConfig(t)
	cfg.Client.ResponseTimeoutSec = 1.0
	sys, err := NewSystem(cfg)
	require.NoError(t, err)
	require.NoError(t, sys.Start())
	t.Cleanup(sys.Stop)

	sys.Terminals[0].Failure().ForceFail(time.Now(), time.Minute)
	client := sys.Clients[0]

	// WHEN a request is submitted
	id, err := client.Submit(TypeZ2, 0)
	require.NoError(t, err)

	// THEN the missing third response forces a FAILED outcome at the deadline
	require.Eventually(t, func() bool {
		return client.Aggregator().Outcome(id) == OutcomeFailed
	}, 5*time.Second, 20*time.Millisecond)

	responses := client.Aggregator().Responses(id)
	assert.Len(t, responses, 2)
	for _, resp := range responses {
		assert.NotEqual(t, sys.Terminals[0].ID(), resp.ProcessedByNode())
	}
}

func TestPipeline_RecoveredTerminalServesAgain(t *testing.T) {
	// GIVEN a terminal that failed and recovered
	sys := startTestSystem(t)
	sys.Terminals[0].Failure().ForceFail(time.Now(), 50*time.Millisecond)
	time.Sleep(100 * time.Millisecond)

	// WHEN a request arrives after the recovery deadline
	client := sys.Clients[0]
	id, err := client.Submit(TypeZ1, 0)
	require.NoError(t, err)

	// THEN all three terminals respond again
	require.Eventually(t, func() bool {
		return client.Aggregator().Outcome(id) == OutcomeSuccess
	}, 5*time.Second, 20*time.Millisecond)
	assert.Len(t, client.Aggregator().Responses(id), 3)
}
