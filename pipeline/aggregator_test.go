package pipeline

import (
	"testing"
	"time"
)

var testPeers = []string{"P21", "P22", "P23"}

func peerResponse(requestID, peer string, success bool) Response {
	return Response{
		RequestID:   requestID,
		Type:        TypeZ1,
		ClientID:    "K1",
		ProcessedBy: []string{"Q1", "P11", "D", "Q21", peer},
		Timestamp:   time.Now().UnixMilli(),
		Success:     success,
	}
}

func TestAggregator_AllThreeSuccessesFinalizeSuccess(t *testing.T) {
	// GIVEN a pending request
	a := NewResponseAggregator(testPeers, time.Minute)
	now := time.Now()
	a.Submit("r1", now)

	// WHEN all three expected peers respond successfully
	a.AddResponse(peerResponse("r1", "P21", true), now)
	a.AddResponse(peerResponse("r1", "P22", true), now)
	outcome := a.AddResponse(peerResponse("r1", "P23", true), now)

	// THEN the record finalizes SUCCESS
	if outcome != OutcomeSuccess {
		t.Errorf("outcome = %s, want SUCCESS", outcome)
	}
	if got := a.Outcome("r1"); got != OutcomeSuccess {
		t.Errorf("Outcome() = %s, want SUCCESS", got)
	}
}

func TestAggregator_OneFailureFinalizesFailed(t *testing.T) {
	a := NewResponseAggregator(testPeers, time.Minute)
	now := time.Now()
	a.Submit("r1", now)

	a.AddResponse(peerResponse("r1", "P21", true), now)
	a.AddResponse(peerResponse("r1", "P22", false), now)
	outcome := a.AddResponse(peerResponse("r1", "P23", true), now)

	if outcome != OutcomeFailed {
		t.Errorf("outcome = %s, want FAILED", outcome)
	}
}

func TestAggregator_TwoResponsesFailAtTimeout(t *testing.T) {
	// GIVEN a request with only two of three responses
	a := NewResponseAggregator(testPeers, 100*time.Millisecond)
	now := time.Now()
	a.Submit("r1", now)
	a.AddResponse(peerResponse("r1", "P21", true), now)
	a.AddResponse(peerResponse("r1", "P22", true), now)

	if a.Outcome("r1") != OutcomePending {
		t.Fatal("record must stay pending before the deadline")
	}

	// WHEN the deadline elapses
	expired := a.ExpireDue(now.Add(101 * time.Millisecond))

	// THEN the request finalizes FAILED
	if len(expired) != 1 || expired[0] != "r1" {
		t.Fatalf("expired = %v, want [r1]", expired)
	}
	if a.Outcome("r1") != OutcomeFailed {
		t.Errorf("outcome = %s, want FAILED", a.Outcome("r1"))
	}
	if got := len(a.Responses("r1")); got != 2 {
		t.Errorf("collected %d responses, want 2", got)
	}
}

func TestAggregator_DuplicatePeerDoesNotDoubleCount(t *testing.T) {
	// GIVEN two responses from the same peer
	a := NewResponseAggregator(testPeers, time.Minute)
	now := time.Now()
	a.Submit("r1", now)
	a.AddResponse(peerResponse("r1", "P21", true), now)
	outcome := a.AddResponse(peerResponse("r1", "P21", true), now)

	// THEN the record is still pending: only one distinct peer contributed
	if outcome != OutcomePending {
		t.Errorf("outcome = %s, want PENDING", outcome)
	}
	if got := len(a.Responses("r1")); got != 1 {
		t.Errorf("stored %d responses, want 1", got)
	}

	// AND a duplicate carrying success=false after finalization-relevant
	// state cannot flip the eventual outcome
	a.AddResponse(peerResponse("r1", "P21", false), now)
	a.AddResponse(peerResponse("r1", "P22", true), now)
	if out := a.AddResponse(peerResponse("r1", "P23", true), now); out != OutcomeSuccess {
		t.Errorf("outcome = %s, want SUCCESS", out)
	}
}

func TestAggregator_LateArrivalAfterFinalizeIgnored(t *testing.T) {
	// GIVEN a request finalized FAILED by timeout
	a := NewResponseAggregator(testPeers, 10*time.Millisecond)
	now := time.Now()
	a.Submit("r1", now)
	a.ExpireDue(now.Add(11 * time.Millisecond))

	// WHEN all three responses arrive late
	for _, peer := range testPeers {
		a.AddResponse(peerResponse("r1", peer, true), now.Add(time.Second))
	}

	// THEN the finalized outcome is unchanged
	if a.Outcome("r1") != OutcomeFailed {
		t.Errorf("outcome = %s, want FAILED", a.Outcome("r1"))
	}
}

func TestAggregator_UnknownRequestIgnored(t *testing.T) {
	a := NewResponseAggregator(testPeers, time.Minute)
	outcome := a.AddResponse(peerResponse("ghost", "P21", true), time.Now())
	if outcome != OutcomePending {
		t.Errorf("outcome = %s, want PENDING", outcome)
	}
	success, failed, pending := a.Counts()
	if success != 0 || failed != 0 || pending != 0 {
		t.Errorf("counts = %d/%d/%d, want 0/0/0", success, failed, pending)
	}
}

func TestAggregator_UnexpectedPeerIgnored(t *testing.T) {
	a := NewResponseAggregator(testPeers, time.Minute)
	now := time.Now()
	a.Submit("r1", now)
	a.AddResponse(peerResponse("r1", "P99", true), now)
	if got := len(a.Responses("r1")); got != 0 {
		t.Errorf("stored %d responses from an unexpected peer, want 0", got)
	}
}

func TestAggregator_ArrivalOrderIrrelevant(t *testing.T) {
	// Responses converging in any order yield the same outcome.
	orders := [][]string{
		{"P21", "P22", "P23"},
		{"P23", "P21", "P22"},
		{"P22", "P23", "P21"},
	}
	for _, order := range orders {
		a := NewResponseAggregator(testPeers, time.Minute)
		now := time.Now()
		a.Submit("r1", now)
		for _, peer := range order {
			a.AddResponse(peerResponse("r1", peer, true), now)
		}
		if a.Outcome("r1") != OutcomeSuccess {
			t.Errorf("order %v: outcome = %s, want SUCCESS", order, a.Outcome("r1"))
		}
	}
}

func TestAggregator_Counts(t *testing.T) {
	a := NewResponseAggregator(testPeers, 10*time.Millisecond)
	now := time.Now()
	a.Submit("ok", now)
	a.Submit("late", now)
	for _, peer := range testPeers {
		a.AddResponse(peerResponse("ok", peer, true), now)
	}
	a.ExpireDue(now.Add(11 * time.Millisecond))

	success, failed, pending := a.Counts()
	if success != 1 || failed != 1 || pending != 0 {
		t.Errorf("counts = %d/%d/%d, want 1/1/0", success, failed, pending)
	}
}
