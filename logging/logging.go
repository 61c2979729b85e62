// Package logging provides the structured logger the engine and HTTP layer
// depend on. Components take the Logger interface, never a concrete type.
package logging

import (
	"encoding/json"
	"log"
	"os"
	"time"
)

// Logger is the logging contract for the whole service.
type Logger interface {
	Debug(msg string, fields map[string]any)
	Info(msg string, fields map[string]any)
	Error(msg string, err error)
	Fatal(msg string, err error)
}

// entry fixes the JSON shape of one log line.
type entry struct {
	Timestamp string         `json:"timestamp"`
	Level     string         `json:"level"`
	Message   string         `json:"message"`
	Fields    map[string]any `json:"fields,omitempty"`
	Error     string         `json:"error,omitempty"`
}

// JSONLogger writes one JSON object per line via the standard log package.
type JSONLogger struct {
	level int
}

var levels = map[string]int{
	"debug": 0,
	"info":  1,
	"error": 2,
	"fatal": 3,
}

// New returns a JSONLogger filtering below the given level ("debug", "info",
// "error", "fatal"). Unknown levels default to info.
func New(level string) *JSONLogger {
	log.SetFlags(0)
	lvl, ok := levels[level]
	if !ok {
		lvl = levels["info"]
	}
	return &JSONLogger{level: lvl}
}

func (l *JSONLogger) logf(level, msg string, fields map[string]any, err error) {
	if levels[level] < l.level {
		return
	}

	e := entry{
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Level:     level,
		Message:   msg,
		Fields:    fields,
	}
	if err != nil {
		e.Error = err.Error()
	}

	line, _ := json.Marshal(e)
	log.Println(string(line))

	if level == "fatal" {
		os.Exit(1)
	}
}

func (l *JSONLogger) Debug(msg string, fields map[string]any) { l.logf("debug", msg, fields, nil) }
func (l *JSONLogger) Info(msg string, fields map[string]any)  { l.logf("info", msg, fields, nil) }
func (l *JSONLogger) Error(msg string, err error)             { l.logf("error", msg, nil, err) }
func (l *JSONLogger) Fatal(msg string, err error)             { l.logf("fatal", msg, nil, err) }

// Discard drops everything. Used in tests.
type Discard struct{}

func (Discard) Debug(string, map[string]any) {}
func (Discard) Info(string, map[string]any)  {}
func (Discard) Error(string, error)          {}
func (Discard) Fatal(string, error)          {}
