// Package logging provides the process-wide log sink for embedsrv.
//
// The package wraps a zap logger whose level and output can be changed at any
// time from any goroutine. Log calls never block on configuration changes:
// they load the current logger atomically.
//
// # Levels
//
//   - LevelNone: nothing is written
//   - LevelError: startup failures, unreadable TLS material
//   - LevelWarn: dropped messages, full send queues
//   - LevelInfo: listener lifecycle
//   - LevelDebug: per-connection events, hex dumps of payloads
//   - LevelTrace: every engine event as it is dispatched
//
// Records below the configured level are filtered before encoding.
//
// # Targets
//
// Records go to stderr by default. SetTarget(TargetFile, path) appends to a
// file instead; if the file cannot be opened the console target is kept and
// no error is reported, so a bad log path never prevents startup:
//
//	logging.SetLevel(true, logging.LevelDebug)
//	logging.SetTarget(logging.TargetFile, "/var/log/embedsrv.log")
//	defer logging.Sync()
//
// Each record is synced to its sink as soon as it is written.
//
// # Output Format
//
//	2025-11-25 10:30:45 DEBUG embedsrv/dispatch.go:61 Calling HTTP handler {"conn_id": 3, "uri": "/index.html"}
package logging
