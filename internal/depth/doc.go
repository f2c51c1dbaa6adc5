// Package depth rotates a capped number of market-depth subscriptions across
// the configured symbol universe on the brokerage stream.
//
// The brokerage enforces a hard cap on simultaneous depth subscriptions and
// rejects excess requests with a dedicated error code. The controller keeps
// an adaptive batch size at or below that cap: it shrinks immediately on a
// too-many-subscriptions rejection and regrows one slot at a time only after
// a cooldown and a run of error-free rotations. A slot is freed only after
// the brokerage acknowledges the cancel, never optimistically.
package depth
