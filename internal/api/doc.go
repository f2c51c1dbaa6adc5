// Package api provides the market-data vendor REST client.
//
// The client is deliberately thin: it performs a single authenticated GET and
// reports failures as *APIError. Retry and backoff policy belongs to the
// scheduler, which knows the cadence tier and rate budget of each fetch job.
package api
