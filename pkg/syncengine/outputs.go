package syncengine

import "fmt"

// OutputKind discriminates the instructions an Engine call can return to
// the host (spec.md §4.7).
type OutputKind int

const (
	OutputLogLine OutputKind = iota
	OutputUpdateSyncStatus
	OutputEstablishSyncStream
	OutputFetchCredentials
	OutputCloseSyncStream
	OutputFlushFileSystem
	OutputDidCompleteSync
)

// LogLevel mirrors the handful of severities the engine ever logs at.
type LogLevel string

const (
	LevelInfo LogLevel = "info"
	LevelWarn LogLevel = "warn"
)

// Output is one instruction for the host to carry out. Only the field
// matching Kind is populated.
type Output struct {
	Kind OutputKind

	LogLevel   LogLevel
	LogMessage string

	Status *Status

	Request *StreamingSyncRequest

	// DidExpire is set on OutputFetchCredentials: true means the current
	// token has already expired and must be replaced before
	// reconnecting, false means a proactive refresh ahead of expiry.
	DidExpire bool
}

func logOutput(level LogLevel, format string, args ...any) Output {
	return Output{Kind: OutputLogLine, LogLevel: level, LogMessage: fmt.Sprintf(format, args...)}
}

// StreamingSyncRequest is the request body the host sends when asked to
// EstablishSyncStream (spec.md §4.7's Initialization).
type StreamingSyncRequest struct {
	Buckets         []string
	ClientID        string
	Parameters      map[string]any
	IncludeChecksum bool
	RawData         bool
	BinaryData      bool
}
