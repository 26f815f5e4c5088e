// Package logging provides structured logging for serial-source.
//
// It wraps log/slog with a configurable handler and default fields.
//
// # Configuration
//
//	logging:
//	  level: "info"      # debug, info, warn, error
//	  format: "text"     # text, json
//	  output: "stderr"   # stderr, stdout
//
// Operator status lines (device attempts, connects, disconnects) are logged
// at info. Raw rejected lines and error detail are only visible at debug.
package logging
