package log

import (
	"io"
	"os"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

const defaultPerms = 0o0600

//nolint:gochecknoglobals
var loggerSetTimeFormat sync.Once

// Logger extends zerolog's Logger.
type Logger struct {
	zerolog.Logger
}

// NewLogger returns a logger writing JSON lines to stdout, or appending to output when it is set.
func NewLogger(level, output string) (Logger, error) {
	if output == "" {
		return NewLoggerWithWriter(level, os.Stdout)
	}

	file, err := os.OpenFile(output, os.O_APPEND|os.O_WRONLY|os.O_CREATE, defaultPerms)
	if err != nil {
		return Logger{}, err
	}

	return NewLoggerWithWriter(level, file)
}

func NewLoggerWithWriter(level string, writer io.Writer) (Logger, error) {
	loggerSetTimeFormat.Do(func() {
		zerolog.TimeFieldFormat = time.RFC3339Nano
	})

	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		return Logger{}, err
	}

	log := zerolog.New(writer).Level(lvl)

	return Logger{Logger: log.Hook(goroutineHook{}).With().Caller().Timestamp().Logger()}, nil
}

// NewNopLogger discards everything, used by library callers that do not care about decision logs.
func NewNopLogger() Logger {
	return Logger{Logger: zerolog.Nop()}
}

// GoroutineID adds goroutine-id to logs to help debug concurrency issues.
func GoroutineID() int {
	var buf [64]byte
	n := runtime.Stack(buf[:], false)
	idField := strings.Fields(strings.TrimPrefix(string(buf[:n]), "goroutine "))[0]

	id, err := strconv.Atoi(idField)
	if err != nil {
		return -1
	}

	return id
}

type goroutineHook struct{}

func (h goroutineHook) Run(e *zerolog.Event, level zerolog.Level, _ string) {
	if level != zerolog.NoLevel {
		e.Int("goroutine", GoroutineID())
	}
}
