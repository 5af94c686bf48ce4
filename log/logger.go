package log

import (
	"io"
	stdlog "log"
	"os"
	"strings"
	"sync/atomic"
	"time"

	"github.com/mchiang0610/continue/config"
	"github.com/rs/zerolog"
)

// sink lets SetOutput redirect loggers that were already handed out
// through GetLogger at package init time.
type sink struct {
	target atomic.Pointer[io.Writer]
}

func (s *sink) Write(p []byte) (int, error) {
	return (*s.target.Load()).Write(p)
}

func (s *sink) set(w io.Writer) {
	s.target.Store(&w)
}

var (
	out  = &sink{}
	root = newRoot()
)

func newRoot() zerolog.Logger {
	cfg := config.Get()

	if cfg.IsDevelopment() {
		out.set(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.Kitchen})
	} else {
		out.set(os.Stdout)
	}
	zerolog.SetGlobalLevel(ParseLevel(cfg.LogLevel))
	return zerolog.New(out).With().Timestamp().Logger()
}

// SetLevel changes the level of every logger in the process
func SetLevel(level string) {
	zerolog.SetGlobalLevel(ParseLevel(level))
}

// SetOutput redirects every logger, including module loggers created earlier
func SetOutput(w io.Writer) {
	out.set(w)
}

// ParseLevel maps a LOG_LEVEL value onto zerolog; unknown values mean info
func ParseLevel(level string) zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return zerolog.DebugLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	case "fatal":
		return zerolog.FatalLevel
	case "disabled", "off":
		return zerolog.Disabled
	default:
		return zerolog.InfoLevel
	}
}

func Debug() *zerolog.Event { return root.Debug() }
func Info() *zerolog.Event  { return root.Info() }
func Warn() *zerolog.Event  { return root.Warn() }
func Error() *zerolog.Event { return root.Error() }

// Fatal exits the process after the event is written
func Fatal() *zerolog.Event { return root.Fatal() }

// GetLogger returns a child logger tagged with a module name
func GetLogger(module string) zerolog.Logger {
	return root.With().Str("module", module).Logger()
}

type warnWriter struct {
	logger zerolog.Logger
}

func (w warnWriter) Write(p []byte) (int, error) {
	w.logger.Warn().Msg(strings.TrimSuffix(string(p), "\n"))
	return len(p), nil
}

// StdErrorLogger adapts zerolog for http.Server.ErrorLog
func StdErrorLogger() *stdlog.Logger {
	return stdlog.New(warnWriter{logger: GetLogger("HTTP")}, "", 0)
}
