// Package log provides logging utilities including colored console output
// and datagram tracing.
package log

import (
	"os"
	"sync/atomic"

	"github.com/cornelk/hashmap"
	"github.com/fatih/color"
)

var red = color.New(color.FgRed).FprintfFunc()
var blue = color.New(color.FgBlue).FprintfFunc()
var gray = color.New(color.FgHiBlack).FprintfFunc()

// DefaultLimit is how often DebugMsg prints one format string before the
// limiter suppresses it for the rest of the process.
const DefaultLimit = 100

var (
	verbose atomic.Bool
	limiter atomic.Int64
	counter = &hashmap.HashMap{}
)

func init() {
	limiter.Store(DefaultLimit)
}

// SetVerbose enables or disables DebugMsg output.
func SetVerbose(v bool) {
	verbose.Store(v)
}

// SetLimiter caps how often DebugMsg prints the same format string. Zero
// means no cap.
func SetLimiter(l int) {
	limiter.Store(int64(l))
}

// Limit returns the current cap set by SetLimiter.
func Limit() int {
	return int(limiter.Load())
}

// ErrorMsg prints an error message to stderr in red color.
func ErrorMsg(format string, a ...interface{}) {
	red(os.Stderr, "[!] Error: "+format, a...)
}

// InfoMsg prints an informational message to stderr in blue color.
func InfoMsg(format string, a ...interface{}) {
	blue(os.Stderr, "[+] "+format, a...)
}

// DebugMsg prints a message to stderr in gray color if verbose output is
// enabled. Messages are counted by format string, so a flood of similar
// events is cut off by the limiter.
func DebugMsg(format string, a ...interface{}) {
	if !verbose.Load() {
		return
	}
	if !limiterAvailable(format) {
		return
	}
	gray(os.Stderr, "[*] "+format, a...)
}

func limiterAvailable(key string) bool {
	l := limiter.Load()
	if l == 0 {
		return true
	}
	var i int64
	val, _ := counter.GetOrInsert(key, &i)
	actual := val.(*int64)
	return atomic.AddInt64(actual, 1) <= l
}
