// Package constants centralizes timeouts and buffer sizes for LSP traffic.
package constants

import "time"

// Timeout constants for LSP operations
const (
	// RequestTimeout bounds every LSP request; the server process is kept
	// alive on expiry since it may still recover.
	RequestTimeout = 30 * time.Second

	// DiagnosticsWaitTimeout bounds the wait for the first
	// publishDiagnostics notification after a didOpen.
	DiagnosticsWaitTimeout = 2 * time.Second

	// Process management timeouts
	ProcessShutdownTimeout  = 5 * time.Second
	ShutdownRequestTimeout  = 2 * time.Second
	ExitNotificationTimeout = 1 * time.Second
)

// LSPResponseBufferSize sizes the reader buffer for child stdout. Large
// workspace/symbol responses exceed the bufio default.
const LSPResponseBufferSize = 1024 * 1024
