// Package logger configures phuslu/log for the exporter and hands out
// per-component child loggers. Components ask for a logger once at
// construction time; reconfiguration only affects the shared default
// writer and level.
package logger

import (
	"bytes"
	"io"
	"os"

	"github.com/phuslu/log"
)

// parseLogLevel converts string log level to log.Level
func parseLogLevel(levelStr string) log.Level {
	switch levelStr {
	case "trace":
		return log.TraceLevel
	case "debug":
		return log.DebugLevel
	case "info":
		return log.InfoLevel
	case "warn", "warning":
		return log.WarnLevel
	case "error":
		return log.ErrorLevel
	case "fatal":
		return log.FatalLevel
	default:
		return log.InfoLevel
	}
}

// GlogFormatter implements a glog-style text format.
type GlogFormatter struct{}

// Formatter builds the log entry in glog format. Uses a buffer instead of
// fmt.Fprintf to keep formatting cheap.
func (f GlogFormatter) Formatter(w io.Writer, a *log.FormatterArgs) (int, error) {
	var buf bytes.Buffer

	// Level (e.g., 'I' for info)
	if len(a.Level) > 0 {
		buf.WriteByte(a.Level[0] - 32) // Uppercase first letter
	} else {
		buf.WriteByte('?')
	}

	// Time, Goid, Caller
	buf.WriteString(a.Time)
	buf.WriteByte(' ')
	buf.WriteString(a.Goid)
	buf.WriteByte(' ')
	buf.WriteString(a.Caller)
	buf.WriteString("] ")

	buf.WriteString(a.Message)
	buf.WriteByte('\n')

	return w.Write(buf.Bytes())
}

// Settings selects level, format and destination for all loggers. Kept as
// plain strings so the config package can map its TOML section straight
// onto it without importing this package.
type Settings struct {
	Level  string // trace/debug/info/warn/error/fatal
	Format string // "glog" or "json"
	Writer string // "stdout" or "stderr"
}

// Setup configures the process-wide default logger. Loggers returned by New
// before or after Setup share its writer and level.
func Setup(s Settings) {
	var base io.Writer
	switch s.Writer {
	case "stdout":
		base = os.Stdout
	default:
		base = os.Stderr
	}

	var writer log.Writer
	switch s.Format {
	case "json":
		writer = &log.IOWriter{Writer: base}
	default:
		writer = &log.ConsoleWriter{
			QuoteString:    true,
			EndWithMessage: true,
			Writer:         base,
			Formatter:      GlogFormatter{}.Formatter,
		}
	}

	log.DefaultLogger = log.Logger{
		Level:      parseLogLevel(s.Level),
		Caller:     1,
		TimeFormat: "0102 15:04:05.999999",
		Writer:     writer,
	}
}

// New returns a child logger tagged with the component name, sharing the
// default logger's level and writer.
func New(component string) log.Logger {
	return log.Logger{
		Level:      log.DefaultLogger.Level,
		Caller:     1,
		TimeFormat: log.DefaultLogger.TimeFormat,
		Writer:     log.DefaultLogger.Writer,
		Context:    log.NewContext(nil).Str("component", component).Value(),
	}
}
