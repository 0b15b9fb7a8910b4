package sandbox

import "time"

// Config defines sandbox configuration
type Config struct {
	Timeout          time.Duration // Per-call execution timeout (load, enable, teardown)
	MaxCallStackSize int           // Maximum JS call stack depth
	MaxScriptSize    int64         // Maximum entry script size in bytes
	EnableConsole    bool          // Route console.* to the host logger
}

// LogEntry represents console output
type LogEntry struct {
	Level   string
	Message string
	Time    time.Time
}

// DefaultConfig returns the default sandbox configuration
func DefaultConfig() Config {
	return Config{
		Timeout:          5 * time.Second,
		MaxCallStackSize: 1024,
		MaxScriptSize:    4 << 20,
		EnableConsole:    true,
	}
}
