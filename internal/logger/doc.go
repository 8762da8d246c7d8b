// Package logger provides a simple, thread-safe logging facility.
//
// The logger supports four levels: Debug, Info, Warn, and Error.
// Each log entry includes a timestamp, level, optional tag, and message.
// The tag is the worker label ("node-3") for per-worker messages and empty
// for coordinator-level messages.
//
// # Basic Usage
//
//	logger.Info("", "Running experiment k=%d", k)
//	logger.Warn("node-2", "Join timed out")
//	logger.Output("node-2", "stderr", line) // raw worker output, DEBUG only
//
// # Output Streams
//
// The default logger writes to standard error. Standard output is reserved
// for the summary lines and scrape markers produced by the report package.
//
// # Log Levels
//
// Messages below the configured level are filtered. ParseLevel maps the
// --log-level flag values (debug, info, warn, error) onto levels.
package logger
