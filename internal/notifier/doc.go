// Package notifier runs the one consumer of the outbound queue.
//
// Messages are delivered strictly in queue order, one at a time, paced by a
// token bucket and bounded by a per-send timeout. A failed delivery is logged
// and dropped; nothing is retried or requeued.
//
// Stop closes the queue and keeps delivering what is already queued until the
// caller's deadline, then gives up on the rest.
package notifier
