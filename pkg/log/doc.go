// Package log provides structured connection event logging for kTLS servers.
//
// This package defines the Logger interface and Event types for capturing
// what happens to each connection at the socket, handshake, offload and
// record layers. It is separate from operational logging (slog): the event
// log is a machine-readable trace for debugging hand-off problems.
//
// # Basic Usage
//
//	// For development: log to console via slog
//	cfg.ProtocolLogger = log.NewSlogAdapter(slog.Default())
//
//	// For production: write to binary file
//	cfg.ProtocolLogger, _ = log.NewFileLogger("/var/log/ktls/server.klog")
//
//	// Both: use MultiLogger
//	cfg.ProtocolLogger = log.NewMultiLogger(
//	    log.NewSlogAdapter(slog.Default()),
//	    fileLogger,
//	)
//
// # Event Types
//
//   - StateChangeEvent: accept, handshake progress, established, closed
//   - OffloadEvent: cipher state handed to the kernel (never key material)
//   - TransferEvent: zero-copy sendfile results
//   - RecordEvent: application data delivered to or written by a handler
//   - ErrorEventData: failures at any layer
//
// # File Format
//
// Log files are a stream of CBOR-encoded events with the .klog extension.
// The ktls-log CLI tool views and summarizes them.
package log
