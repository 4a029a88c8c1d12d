// Package torrent manages the bundled torrent daemon and indexer
// aggregator: supervisor specs whose args builders seed each daemon's
// configuration for the chosen port, plus HTTP clients for their local
// APIs. Searches report a distinct cf_blocked status when an indexer is
// behind an anti-bot challenge, so the coordinator can route a solve
// through the challenge facade and retry.
package torrent
