// Package torproxy manages the local anonymizing SOCKS5 proxy daemon.
//
// Startup iterates candidate ports, scraping the daemon's stdout for
// "Bootstrapped N%" lines to publish progress; a port-in-use message kills
// the attempt and moves to the next port. After bootstrap a watcher flips
// the published status to inactive if the daemon dies.
//
// A missing binary disables the component without error.
package torproxy
