package abcc

import (
	"fmt"
	"sync"

	log "github.com/sirupsen/logrus"
)

type Severity uint8

const (
	SeverityFatal   Severity = 0
	SeverityError   Severity = 1
	SeverityWarning Severity = 2
	SeverityInfo    Severity = 3
	SeverityDebug   Severity = 4
)

var severityMap = map[Severity]string{
	SeverityFatal:   "FATAL",
	SeverityError:   "ERROR",
	SeverityWarning: "WARNING",
	SeverityInfo:    "INFO",
	SeverityDebug:   "DEBUG",
}

func (s Severity) String() string {
	name, ok := severityMap[s]
	if ok {
		return name
	}
	return "UNKNOWN"
}

// ErrorHandler is called for every event of warning severity or higher
type ErrorHandler func(severity Severity, code ErrorCode, info uint32)

// FatalError is the panic value raised after a fatal event has been
// reported. Execution never continues past a fatal event.
type FatalError struct {
	Code    ErrorCode
	Info    uint32
	Message string
}

func (e *FatalError) Error() string {
	return fmt.Sprintf("fatal %v (info x%x) : %s", e.Code, e.Info, e.Message)
}

type handlerList struct {
	mu       sync.Mutex
	handlers []ErrorHandler
}

// Logger reports driver events. Every component of a driver shares the
// same handlers so that errors can be escalated to the driver state machine.
type Logger struct {
	prefix string
	list   *handlerList
}

func NewLogger(prefix string) *Logger {
	return &Logger{prefix: prefix, list: &handlerList{}}
}

// With returns a logger sharing the same handlers but another prefix
func (l *Logger) With(prefix string) *Logger {
	return &Logger{prefix: prefix, list: l.list}
}

// Register an error handler, called in registration order
func (l *Logger) AddHandler(handler ErrorHandler) {
	l.list.mu.Lock()
	defer l.list.mu.Unlock()
	l.list.handlers = append(l.list.handlers, handler)
}

func (l *Logger) notify(severity Severity, code ErrorCode, info uint32) {
	l.list.mu.Lock()
	handlers := make([]ErrorHandler, len(l.list.handlers))
	copy(handlers, l.list.handlers)
	l.list.mu.Unlock()
	for _, handler := range handlers {
		handler(severity, code, info)
	}
}

func (l *Logger) entry(code ErrorCode, info uint32) *log.Entry {
	return log.WithFields(log.Fields{"code": fmt.Sprintf("x%x", uint16(code)), "info": info})
}

// Fatal logs, notifies the handlers and then panics with a *FatalError
func (l *Logger) Fatal(code ErrorCode, info uint32, format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	l.entry(code, info).Errorf("[%v][FATAL] %v", l.prefix, msg)
	l.notify(SeverityFatal, code, info)
	panic(&FatalError{Code: code, Info: info, Message: msg})
}

func (l *Logger) Error(code ErrorCode, info uint32, format string, args ...any) {
	l.entry(code, info).Errorf("[%v] "+format, append([]any{l.prefix}, args...)...)
	l.notify(SeverityError, code, info)
}

func (l *Logger) Warning(code ErrorCode, info uint32, format string, args ...any) {
	l.entry(code, info).Warnf("[%v] "+format, append([]any{l.prefix}, args...)...)
	l.notify(SeverityWarning, code, info)
}

func (l *Logger) Info(format string, args ...any) {
	log.Infof("[%v] "+format, append([]any{l.prefix}, args...)...)
}

func (l *Logger) Debug(format string, args ...any) {
	log.Debugf("[%v] "+format, append([]any{l.prefix}, args...)...)
}
