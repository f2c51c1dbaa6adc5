// Package sink is the cache/archive writer shared by all three acquisition
// paths (REST scheduler, vendor stream, brokerage depth stream).
//
// The archive is authoritative: a failed archive write is retried once and
// then surfaced as an error for that record. Hot-cache failures are logged
// and never block the archive write. The Writer is safe for concurrent use;
// writes to different scopes are not serialized against each other.
package sink
