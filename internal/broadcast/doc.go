// Package broadcast fans monitoring snapshots out to subscriber sessions.
//
// Three moving parts:
//
//   - Session: one subscriber with a bounded outbound queue and its own
//     sender goroutine. Slow consumers lose their oldest queued messages,
//     never the daemon's time.
//   - Manager: the session registry. It enqueues broadcasts, runs the
//     heartbeat loop, and evicts dead sessions.
//   - Scheduler: samples the state table at a fixed interval and hands
//     the encoded snapshot to the manager.
package broadcast
