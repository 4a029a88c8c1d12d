// Package browser provides the shared browsing profile used by the
// anonymity subsystem: a cross-client cookie jar with change
// subscriptions, and a headless Navigator that loads pages through the
// jar, extracts document titles, and runs page scripts in a sandboxed
// JS runtime.
//
// The jar is the junction point of the subsystem. Clearance cookies
// obtained by a headless navigation are immediately visible to every
// other client bound to the same profile, which is what lets the
// challenge solver hand a working session to the indexer facade.
package browser
