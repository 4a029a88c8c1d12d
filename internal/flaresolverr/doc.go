// Package flaresolverr emulates the FlareSolverr v1 HTTP protocol for
// indexer aggregators that expect a challenge-solving proxy.
//
// The server binds a localhost port from a fixed scan range, answers
// the liveness probe, and turns each request.get/request.post command
// into a challenge-solver run against the shared browsing profile.
// Harvested clearance cookies come back in the FlareSolverr solution
// shape. Solves are serialized through one dispatcher goroutine; a new
// command preempts the one in flight.
package flaresolverr
