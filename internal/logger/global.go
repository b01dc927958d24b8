package logger

import (
	"fmt"
	"os"
	"runtime"
	"strings"
	"sync"

	"github.com/rs/zerolog"
)

const basePackage = "github.com/sutehoge/catapult-server/"

type packageLogger struct {
	name string
}

var (
	mu     sync.RWMutex
	output = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05.000"}).
		With().Timestamp().Logger()
	globalLevel = INFO
)

// SetGlobalLevel changes the level of all package loggers.
func SetGlobalLevel(level LogLevel) {
	mu.Lock()
	defer mu.Unlock()
	globalLevel = level
}

// SetOutput replaces the zerolog sink, mainly for tests and JSON output mode.
func SetOutput(l zerolog.Logger) {
	mu.Lock()
	defer mu.Unlock()
	output = l
}

// CreateForPackage creates a logger named after the caller package.
func CreateForPackage() Logger {
	return Create(callerPackageName())
}

// Create creates a custom named logger.
func Create(name string) Logger {
	return &packageLogger{name: name}
}

func callerPackageName() string {
	pc, _, _, _ := runtime.Caller(2)
	// for example: github.com/sutehoge/catapult-server/internal/timer.init
	pcName := runtime.FuncForPC(pc).Name()
	pkg := pcName
	if idx := strings.LastIndex(pcName, "."); idx >= 0 {
		pkg = pcName[:idx]
	}
	return strings.Trim(strings.TrimPrefix(pkg, basePackage), "/")
}

func (p *packageLogger) log(level LogLevel, zeroLevel zerolog.Level, format string, args []interface{}) {
	mu.RLock()
	defer mu.RUnlock()
	if level > globalLevel {
		return
	}
	output.WithLevel(zeroLevel).Str("module", p.name).Msg(fmt.Sprintf(format, args...))
}

func (p *packageLogger) Trace(format string, args ...interface{}) {
	p.log(TRACE, zerolog.TraceLevel, format, args)
}

func (p *packageLogger) Debug(format string, args ...interface{}) {
	p.log(DEBUG, zerolog.DebugLevel, format, args)
}

func (p *packageLogger) Info(format string, args ...interface{}) {
	p.log(INFO, zerolog.InfoLevel, format, args)
}

func (p *packageLogger) Warning(format string, args ...interface{}) {
	p.log(WARNING, zerolog.WarnLevel, format, args)
}

func (p *packageLogger) Error(format string, args ...interface{}) {
	p.log(ERROR, zerolog.ErrorLevel, format, args)
}
