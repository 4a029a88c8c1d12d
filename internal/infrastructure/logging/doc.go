// Package logging provides structured logging using uber/zap.
//
// Production mode emits JSON to stdout for the shell's log collector;
// development mode emits colored console output. Components take a
// *Logger and scope themselves with Named.
//
// Example:
//
//	logger := logging.NewDefault()
//	logger.Info("proxy ready", zap.Int("port", port))
package logging
