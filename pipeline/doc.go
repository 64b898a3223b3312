// Package pipeline implements a three-tier networked request-processing
// pipeline: clients submit typed requests that pass through a round-robin
// entry distributor, a priority-queued first processing tier, a type-aware
// fan-out node, a second queuing tier, and a terminal processing tier whose
// nodes may transiently fail. Terminal nodes answer the originating client
// directly; the client aggregates the three per-request responses into a
// single SUCCESS/FAILED outcome.
//
// # Reading Guide
//
// Start with these three files to understand the runtime:
//   - message.go: wire-level Request/Response shapes and the message envelope
//   - node.go: the per-node accept loop, handler dispatch, and send primitives
//   - system.go: how the fixed topology is assembled and started
//
// # Architecture
//
// Every node is an independent listener reachable only through framed TCP
// messages (transport.go); there is no shared memory between roles. The
// coordination pieces are small, separately testable types:
//   - PriorityQueue: three FIFO levels with strict priority precedence
//   - CyclicDistributor: round-robin rotation over a growable target table
//   - TypeRouter: static request-type to second-tier-queue mapping
//   - FailureSimulator: the terminal nodes' availability state machine
//   - ResponseAggregator: client-side per-request response bookkeeping
//   - ScalingController: wait-time monitoring and first-tier scale-up
package pipeline
