// Defines the wire-level data model: the Request and Response shapes carried
// through the pipeline, the generic message envelope, and the small payloads
// used by the control-plane kinds (REGISTER, HEARTBEAT, ACK).

package pipeline

import (
	"encoding/json"
	"fmt"
	"time"
)

// MessageKind discriminates the payload carried by a Message envelope.
type MessageKind string

const (
	KindRequest   MessageKind = "REQUEST"
	KindResponse  MessageKind = "RESPONSE"
	KindAck       MessageKind = "ACK"
	KindHeartbeat MessageKind = "HEARTBEAT"
	KindRegister  MessageKind = "REGISTER"
)

// Request types and their priorities. Priority is a pure function of the
// type: z3 outranks z2 outranks z1. PriorityForType is the only place the
// mapping lives; Request.Priority must never diverge from it.
const (
	TypeZ1 = "z1"
	TypeZ2 = "z2"
	TypeZ3 = "z3"
)

// RequestTypes lists the three request types in ascending priority order.
var RequestTypes = []string{TypeZ1, TypeZ2, TypeZ3}

// PriorityForType maps a request type to its scheduling priority
// (higher = more urgent). Returns an error for unknown types.
func PriorityForType(reqType string) (int, error) {
	switch reqType {
	case TypeZ1:
		return 1, nil
	case TypeZ2:
		return 2, nil
	case TypeZ3:
		return 3, nil
	default:
		return 0, fmt.Errorf("unknown request type %q", reqType)
	}
}

// Request is a unit of work flowing through the pipeline. ID and Type are
// immutable after creation; Hops is append-only and records every node the
// request has passed through, in order.
type Request struct {
	ID        string   `json:"request_id"`
	Type      string   `json:"request_type"`
	ClientID  string   `json:"client_id"`
	Timestamp int64    `json:"timestamp"` // creation time, Unix milliseconds
	Priority  int      `json:"priority"`
	Hops      []string `json:"hops"`
}

// NewRequest creates a request of the given type for the given client.
// Fails on a type outside the RequestTypes set.
func NewRequest(id, reqType, clientID string, now time.Time) (Request, error) {
	prio, err := PriorityForType(reqType)
	if err != nil {
		return Request{}, err
	}
	return Request{
		ID:        id,
		Type:      reqType,
		ClientID:  clientID,
		Timestamp: now.UnixMilli(),
		Priority:  prio,
		Hops:      []string{},
	}, nil
}

// AddHop appends a node identifier to the request's path.
func (r *Request) AddHop(nodeID string) {
	r.Hops = append(r.Hops, nodeID)
}

// Response is produced by a terminal node for a single request, exactly once
// per (request, terminal node) pair, and never mutated after creation.
type Response struct {
	RequestID   string   `json:"request_id"`
	Type        string   `json:"request_type"`
	ClientID    string   `json:"client_id"`
	ProcessedBy []string `json:"processed_by"` // request hops plus the terminal node
	Timestamp   int64    `json:"timestamp"`    // Unix milliseconds
	Success     bool     `json:"success"`
}

// ProcessedByNode returns the identity of the terminal node that produced
// this response (the last entry of ProcessedBy), or "" if the path is empty.
func (r Response) ProcessedByNode() string {
	if len(r.ProcessedBy) == 0 {
		return ""
	}
	return r.ProcessedBy[len(r.ProcessedBy)-1]
}

// Register announces a new node endpoint, used by the scaling controller to
// add freshly-launched first-tier instances to the entry distributor.
type Register struct {
	NodeID string `json:"node_id"`
	Addr   string `json:"addr"`
}

// Heartbeat is both the probe sent by the scaling controller and the reply
// sent back by a first-tier worker. The reply carries the worker's recent
// queue wait-time samples in milliseconds.
type Heartbeat struct {
	NodeID    string    `json:"node_id"`
	SamplesMS []float64 `json:"samples_ms,omitempty"`
}

// Ack acknowledges a control-plane message.
type Ack struct {
	NodeID string `json:"node_id"`
	OK     bool   `json:"ok"`
}

// Message is the envelope for every frame on the wire: a kind discriminator
// plus the kind-specific payload.
type Message struct {
	Kind    MessageKind     `json:"msg_type"`
	Payload json.RawMessage `json:"payload"`
}

// NewMessage wraps a payload value in an envelope of the given kind.
func NewMessage(kind MessageKind, payload any) (Message, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Message{}, fmt.Errorf("encode %s payload: %w", kind, err)
	}
	return Message{Kind: kind, Payload: raw}, nil
}

// DecodePayload unmarshals the envelope payload into out, checking the kind
// discriminator first.
func (m Message) DecodePayload(want MessageKind, out any) error {
	if m.Kind != want {
		return fmt.Errorf("message kind %s, want %s", m.Kind, want)
	}
	if err := json.Unmarshal(m.Payload, out); err != nil {
		return fmt.Errorf("decode %s payload: %w", want, err)
	}
	return nil
}
