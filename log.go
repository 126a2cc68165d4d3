package embedsrv

import "github.com/muurk/embedsrv/internal/logging"

// SetLogLevel sets the process-wide log level. With enabled false nothing is
// written.
func SetLogLevel(enabled bool, level LogLevel) {
	logging.SetLevel(enabled, level)
}

// SetLogTarget switches log output to the console or to filename, opened for
// append. The previous file is closed. If filename cannot be opened the
// console is used.
func SetLogTarget(target LogTarget, filename string) {
	logging.SetTarget(target, filename)
}
