// Package reaper evicts idle conversations.
//
// A Reaper wakes on a fixed interval, walks every conversation key in the
// store and deletes conversations whose last activity is older than the
// expiry threshold. The matching stream channel is closed so subscribers
// see their channels end.
//
// Idleness is measured from the local timestamp of the last history entry,
// not from creation. A conversation with an empty history is never evicted.
//
// Eviction can race a concurrent append on the same conversation. The
// append may be lost; neither side deadlocks.
package reaper
