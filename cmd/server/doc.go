// Package main is the entry point for the Tankoban anonymity and
// torrent subsystem bridge.
//
// The process manages local daemons (anonymizing proxy, torrent engine,
// indexer aggregator), hosts an in-process challenge-solving facade,
// and exposes everything to the desktop shell over a localhost HTTP
// bridge with a websocket event stream.
//
// Configuration:
//   - Environment variables (12-factor)
//   - CLI flags (override env vars)
//   - Defaults for development
//
// Usage:
//
//	# Production mode
//	./server -port 8600
//
//	# Development mode (colored logs, debug level)
//	./server -dev
//
// Signals:
//   - SIGINT, SIGTERM: Graceful shutdown
package main
