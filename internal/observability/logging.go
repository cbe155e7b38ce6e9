package observability

import (
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

func init() {
	zerolog.TimeFieldFormat = time.RFC3339Nano
	zerolog.SetGlobalLevel(ParseLogLevel(os.Getenv("STAKE_LOG_LEVEL")))
}

// NewLogger returns a JSON logger on stdout tagged with component. Filtering
// uses the global level, see SetLogLevel.
func NewLogger(component string) zerolog.Logger {
	return zerolog.New(os.Stdout).
		With().
		Timestamp().
		Str("component", component).
		Logger()
}

// SetLogLevel sets the process-wide level from its name.
func SetLogLevel(name string) {
	zerolog.SetGlobalLevel(ParseLogLevel(name))
}

// ParseLogLevel maps a level name to zerolog; empty or unknown names are info.
func ParseLogLevel(s string) zerolog.Level {
	level, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(s)))
	if err != nil || level == zerolog.NoLevel {
		return zerolog.InfoLevel
	}
	return level
}
