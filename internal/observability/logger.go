package observability

import (
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var (
	initOnce     sync.Once
	globalLogger zerolog.Logger
)

// InitLogger configures the process-wide structured logger. The first call
// wins; later calls are no-ops. Unknown level names fall back to info.
func InitLogger(level string, pretty bool) {
	initOnce.Do(func() {
		lvl, err := zerolog.ParseLevel(strings.ToLower(level))
		if err != nil || lvl == zerolog.NoLevel {
			lvl = zerolog.InfoLevel
		}
		zerolog.SetGlobalLevel(lvl)

		var out io.Writer = os.Stdout
		if pretty {
			out = zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}
		}
		globalLogger = zerolog.New(out).With().Timestamp().Str("service", "ai-calling-agent").Logger()
		log.Logger = globalLogger
	})
}

// GetLogger returns the shared logger, initializing JSON output at info
// level when the entrypoint has not configured it yet.
func GetLogger() zerolog.Logger {
	InitLogger("info", false)
	return globalLogger
}

// WithCall returns a logger carrying the call SID on every line. An empty
// SID gets a generated one so lines from local sessions still correlate.
func WithCall(callSID string) zerolog.Logger {
	if callSID == "" {
		callSID = uuid.NewString()
	}
	return GetLogger().With().Str("call_sid", callSID).Logger()
}
