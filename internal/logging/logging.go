package logging

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

type Profile int

const (
	ProfileRuntime Profile = iota
	ProfileTest
)

const (
	FormatJSON    = "json"
	FormatConsole = "console"
)

// Options override the profile defaults. Empty fields keep the default.
type Options struct {
	Level  string
	Format string
}

// New builds the root logger for a profile. Runtime logs JSON at info with
// timestamps; tests log console output at debug without timestamps.
func New(profile Profile, opts Options, w io.Writer) zerolog.Logger {
	if w == nil {
		w = os.Stderr
	}

	level := zerolog.InfoLevel
	format := FormatJSON
	timestamp := true
	if profile == ProfileTest {
		level = zerolog.DebugLevel
		format = FormatConsole
		timestamp = false
	}

	if lvl, ok := ParseLevel(opts.Level); ok {
		level = lvl
	}
	if f := strings.ToLower(strings.TrimSpace(opts.Format)); f == FormatJSON || f == FormatConsole {
		format = f
	}

	if format == FormatConsole {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339, NoColor: profile == ProfileTest}
	}

	ctx := zerolog.New(w).Level(level).With()
	if timestamp {
		ctx = ctx.Timestamp()
	}
	return ctx.Logger()
}

func ParseLevel(raw string) (zerolog.Level, bool) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "":
		return zerolog.InfoLevel, false
	case "trace":
		return zerolog.TraceLevel, true
	case "debug":
		return zerolog.DebugLevel, true
	case "info":
		return zerolog.InfoLevel, true
	case "warn", "warning":
		return zerolog.WarnLevel, true
	case "error":
		return zerolog.ErrorLevel, true
	case "disabled", "off", "none":
		return zerolog.Disabled, true
	default:
		return zerolog.InfoLevel, false
	}
}
