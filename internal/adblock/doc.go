// Package adblock implements a domain-only network request blocker.
//
// Filter lists are reduced to a set of blockable hosts: only ||host
// network rules are honored, cosmetic and exception syntaxes are
// ignored. Decisions walk the request host's dotted suffixes against
// an immutable set snapshot that refreshes swap in atomically, so the
// hot path takes no locks on the domain set. Configuration and list
// snapshots persist through the debounced JSON store.
package adblock
