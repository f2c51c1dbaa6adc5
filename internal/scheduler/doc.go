// Package scheduler drives tiered REST polling of the vendor catalog.
//
// Each cadence tier runs its own loop, expanding every endpoint into one job
// per applicable scope and enqueueing it on the tier's queue. A shared worker
// pool drains the queues strictly lowest-tier-first, so urgent endpoints are
// never starved behind bulk tiers when the rate limiter is saturated. A
// (dataset, scope) pair has at most one job in flight at a time; a cycle that
// fires while the previous fetch is still running is skipped, not stacked.
package scheduler
