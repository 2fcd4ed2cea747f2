package debug

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// Build flag for debug mode - can be overridden at build time
// go build -ldflags "-X github.com/standardbeagle/classhunter/internal/debug.EnableDebug=true"
var EnableDebug = "false"

// QuietMode suppresses all debug output, used when the runtime is embedded
// in a host that owns stdio
var QuietMode = false

// debugOutput is the writer for debug output (defaults to nil, meaning no output)
var debugOutput io.Writer

// debugFile holds the open file handle if debug output goes to a file
var debugFile *os.File

// debugMutex protects access to debug output
var debugMutex sync.Mutex

// SetQuietMode enables quiet mode which suppresses all debug output
func SetQuietMode(enabled bool) {
	QuietMode = enabled
}

// SetDebugOutput sets a custom writer for debug output.
// Pass nil to disable debug output entirely.
func SetDebugOutput(w io.Writer) {
	debugMutex.Lock()
	defer debugMutex.Unlock()
	debugOutput = w
}

// InitDebugLogFile initializes debug logging to a file.
// Returns the path to the log file, or an error if initialization fails.
// Call CloseDebugLog when done to ensure the file is properly closed.
func InitDebugLogFile() (string, error) {
	debugMutex.Lock()
	defer debugMutex.Unlock()

	logDir := filepath.Join(os.TempDir(), "classhunter-debug-logs")
	if err := os.MkdirAll(logDir, 0755); err != nil {
		return "", fmt.Errorf("failed to create debug log directory: %w", err)
	}

	timestamp := time.Now().Format("2006-01-02T150405")
	logPath := filepath.Join(logDir, fmt.Sprintf("debug-%s.log", timestamp))

	file, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return "", fmt.Errorf("failed to create debug log file: %w", err)
	}

	debugFile = file
	debugOutput = file
	return logPath, nil
}

// CloseDebugLog closes the debug log file if one is open.
func CloseDebugLog() error {
	debugMutex.Lock()
	defer debugMutex.Unlock()

	if debugFile != nil {
		err := debugFile.Close()
		debugFile = nil
		debugOutput = nil
		return err
	}
	return nil
}

// IsDebugEnabled returns true if debug mode is enabled and we're not in quiet mode
func IsDebugEnabled() bool {
	if QuietMode {
		return false
	}

	// Check build flag first
	if EnableDebug == "true" {
		return true
	}

	// Allow runtime override via environment variable
	if os.Getenv("DEBUG") == "1" || os.Getenv("DEBUG") == "true" {
		return true
	}

	return false
}

// getDebugWriter returns the writer for debug output, or nil if none is configured
func getDebugWriter() io.Writer {
	debugMutex.Lock()
	defer debugMutex.Unlock()
	return debugOutput
}

// Printf prints debug information only when debug mode is enabled and output is configured
func Printf(format string, args ...interface{}) {
	if !IsDebugEnabled() {
		return
	}
	w := getDebugWriter()
	if w == nil {
		return
	}
	fmt.Fprintf(w, "[DEBUG] "+format, args...)
}

// components restricts Log to the named components; empty means all.
// DEBUG_COMPONENTS=scan,cache sets it from the environment.
var components map[string]bool

// SetComponents restricts component logging to names (case-insensitive).
// No names re-enables every component.
func SetComponents(names ...string) {
	debugMutex.Lock()
	defer debugMutex.Unlock()
	components = nil
	for _, n := range names {
		n = strings.ToUpper(strings.TrimSpace(n))
		if n == "" {
			continue
		}
		if components == nil {
			components = make(map[string]bool)
		}
		components[n] = true
	}
}

func componentEnabled(component string) bool {
	debugMutex.Lock()
	set := components
	debugMutex.Unlock()
	if set == nil {
		if env := os.Getenv("DEBUG_COMPONENTS"); env != "" {
			for _, n := range strings.Split(env, ",") {
				if strings.EqualFold(strings.TrimSpace(n), component) {
					return true
				}
			}
			return false
		}
		return true
	}
	return set[component]
}

// Log provides structured debug logging with component names
func Log(component, format string, args ...interface{}) {
	if !IsDebugEnabled() || !componentEnabled(component) {
		return
	}
	w := getDebugWriter()
	if w == nil {
		return
	}
	fmt.Fprintf(w, "[DEBUG:%s] "+format+"\n", append([]interface{}{component}, args...)...)
}

// LogScan logs file-system traversal and classification
func LogScan(format string, args ...interface{}) {
	Log("SCAN", format, args...)
}

// LogCache logs path cache hits, misses and invalidations
func LogCache(format string, args ...interface{}) {
	Log("CACHE", format, args...)
}

// LogLoader logs class definition and hierarchy changes
func LogLoader(format string, args ...interface{}) {
	Log("LOADER", format, args...)
}

// LogBuild logs compilation and retrieval fallbacks
func LogBuild(format string, args ...interface{}) {
	Log("BUILD", format, args...)
}

// LogMembers logs member resolution
func LogMembers(format string, args ...interface{}) {
	Log("MEMBERS", format, args...)
}

// LogWatch logs file watcher events
func LogWatch(format string, args ...interface{}) {
	Log("WATCH", format, args...)
}
