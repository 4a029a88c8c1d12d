// Package resilience provides a circuit breaker for calls into the
// managed daemons. Repeated failures open the breaker so callers fail
// fast instead of stacking timeouts on a dead or challenge-blocked
// dependency; after a cooldown a single probe is admitted to test
// recovery.
package resilience
