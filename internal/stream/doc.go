// Package stream maintains the vendor WebSocket session: a single connection
// carrying a set of joined channels, reconnected with jittered exponential
// backoff and rejoined in full after every reconnect.
//
// Channel membership is declarative. Join and Leave update the desired set;
// the manager converges the live connection toward it and replays the whole
// set after a reconnect, so a subscription survives any number of drops.
// Inbound frames are decoded, validated, and forwarded to the sink
// synchronously: if the sink is slow, the socket read slows with it.
package stream
