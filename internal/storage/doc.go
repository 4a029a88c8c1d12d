// Package storage provides the debounced JSON store backing persistent
// user data (adblock config, permission rules, service credentials).
//
// Files live directly under the user-data directory. Every write is atomic
// (temp file + rename) and refreshes a .bak last-known-good copy; reads fall
// back to the .bak when the primary is missing or corrupt. Debounced writes
// coalesce bursts of updates per file, so hot paths like the adblock counter
// stay off the disk.
package storage
