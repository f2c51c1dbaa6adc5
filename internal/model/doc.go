// Package model defines the normalized observation types shared by the
// acquisition paths (REST scheduler, vendor stream, brokerage depth stream)
// and the cache/archive sink.
//
// A Record is the unit of ingestion: one provider payload, normalized and
// tagged with its source, scope, and cache kind. Records are value types;
// nothing in this package holds state.
package model
