// Client-side response bookkeeping: one PendingRequestRecord per submitted
// request, finalized to SUCCESS or FAILED exactly once. Success requires one
// success=true response from each of the three expected terminal peers before
// the deadline; everything else is FAILED. Contribution is tracked as a set
// of peer identities, so duplicates cannot double count and arrival order is
// irrelevant.

package pipeline

import (
	"sync"
	"time"

	mapset "github.com/deckarep/golang-set/v2"
)

// Outcome is a request's aggregation state.
type Outcome int

const (
	OutcomePending Outcome = iota
	OutcomeSuccess
	OutcomeFailed
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSuccess:
		return "SUCCESS"
	case OutcomeFailed:
		return "FAILED"
	default:
		return "PENDING"
	}
}

// PendingRequestRecord tracks one submitted request until finalization.
type PendingRequestRecord struct {
	RequestID   string
	SubmittedAt time.Time
	Deadline    time.Time

	contributed mapset.Set[string] // terminal peers that have responded
	responses   []Response
	outcome     Outcome
	anyFailure  bool
}

// ResponseAggregator owns the client's pending and finalized records. The
// submission path and concurrently-arriving response handlers both mutate the
// record map, so all access runs under one coarse lock; the record set is
// small.
type ResponseAggregator struct {
	mu        sync.Mutex
	expected  mapset.Set[string]
	timeout   time.Duration
	pending   map[string]*PendingRequestRecord
	finalized map[string]*PendingRequestRecord
}

// NewResponseAggregator creates an aggregator expecting one response from
// each of the given terminal peers, with the given per-request timeout.
func NewResponseAggregator(expectedPeers []string, timeout time.Duration) *ResponseAggregator {
	return &ResponseAggregator{
		expected:  mapset.NewSet(expectedPeers...),
		timeout:   timeout,
		pending:   make(map[string]*PendingRequestRecord),
		finalized: make(map[string]*PendingRequestRecord),
	}
}

// Submit registers a request at submission time, starting its deadline clock.
func (a *ResponseAggregator) Submit(requestID string, now time.Time) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, exists := a.pending[requestID]; exists {
		return
	}
	if _, exists := a.finalized[requestID]; exists {
		return
	}
	a.pending[requestID] = &PendingRequestRecord{
		RequestID:   requestID,
		SubmittedAt: now,
		Deadline:    now.Add(a.timeout),
		contributed: mapset.NewSet[string](),
	}
}

// AddResponse applies one inbound response and returns the record's outcome
// afterwards. Late arrivals for finalized records, responses for unknown
// requests, responses from unexpected peers, and duplicates from an
// already-counted peer are all ignored.
func (a *ResponseAggregator) AddResponse(resp Response, now time.Time) Outcome {
	a.mu.Lock()
	defer a.mu.Unlock()

	if rec, ok := a.finalized[resp.RequestID]; ok {
		return rec.outcome
	}
	rec, ok := a.pending[resp.RequestID]
	if !ok {
		return OutcomePending
	}

	peer := resp.ProcessedByNode()
	if !a.expected.Contains(peer) || rec.contributed.Contains(peer) {
		return rec.outcome
	}
	rec.contributed.Add(peer)
	rec.responses = append(rec.responses, resp)
	if !resp.Success {
		rec.anyFailure = true
	}

	// Completion rule: all expected peers contributed. Any failure flag in
	// the set finalizes FAILED immediately.
	if rec.contributed.Equal(a.expected) {
		if rec.anyFailure {
			a.finalizeLocked(rec, OutcomeFailed)
		} else {
			a.finalizeLocked(rec, OutcomeSuccess)
		}
	}
	return rec.outcome
}

// ExpireDue finalizes FAILED every pending record whose deadline has passed
// and returns their request ids. A peer that silently dropped a request and a
// peer that was unreachable look identical here: the responses simply never
// arrived.
func (a *ResponseAggregator) ExpireDue(now time.Time) []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	var expired []string
	for id, rec := range a.pending {
		if now.Before(rec.Deadline) {
			continue
		}
		a.finalizeLocked(rec, OutcomeFailed)
		expired = append(expired, id)
	}
	return expired
}

// Outcome returns the current outcome for a request id; OutcomePending is
// also returned for unknown ids.
func (a *ResponseAggregator) Outcome(requestID string) Outcome {
	a.mu.Lock()
	defer a.mu.Unlock()
	if rec, ok := a.finalized[requestID]; ok {
		return rec.outcome
	}
	return OutcomePending
}

// Responses returns the responses collected for a request so far.
func (a *ResponseAggregator) Responses(requestID string) []Response {
	a.mu.Lock()
	defer a.mu.Unlock()
	if rec, ok := a.finalized[requestID]; ok {
		return append([]Response(nil), rec.responses...)
	}
	if rec, ok := a.pending[requestID]; ok {
		return append([]Response(nil), rec.responses...)
	}
	return nil
}

// Counts returns the number of successful, failed, and still-pending
// requests.
func (a *ResponseAggregator) Counts() (success, failed, pending int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, rec := range a.finalized {
		if rec.outcome == OutcomeSuccess {
			success++
		} else {
			failed++
		}
	}
	return success, failed, len(a.pending)
}

func (a *ResponseAggregator) finalizeLocked(rec *PendingRequestRecord, outcome Outcome) {
	rec.outcome = outcome
	delete(a.pending, rec.RequestID)
	a.finalized[rec.RequestID] = rec
}
