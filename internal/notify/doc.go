// Package notify implements the per-user notification aggregation engine.
//
// Gamification services (points, missions, achievements, reactions) fire
// events at the aggregator instead of messaging users directly. The
// aggregator coalesces a burst of events for one user into a single outgoing
// message: events are queued per user, near-duplicates are suppressed by a
// content fingerprint within a bounded window, and a deferred flush drains
// the whole queue into one rendered digest. Higher-priority events shorten
// the pending flush; Critical events bypass scheduling and deliver
// synchronously.
//
// # Delivery policy
//
// Delivery is at-most-once per flush: if the sink fails, the batch is logged
// and dropped, never requeued. Losing a digest on a transport error is
// preferred over risking duplicate re-delivery. A bounded retry can be
// enabled via Config.RetryMax, but it defaults to zero so the at-most-once
// guarantee holds out of the box.
//
// # Transport
//
// The engine delegates delivery to a Sink (e.g. the Telegram adapter wrapped
// by the app). Rendering is pure, so the whole pipeline is testable with an
// in-memory sink.
package notify
