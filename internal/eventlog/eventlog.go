// Package eventlog writes structured JSON event lines through the standard
// logger. Every line carries timestamp, level, component, event_type and
// instance fields so logs from all components can be filtered uniformly.
package eventlog

import (
	"encoding/json"
	"log"
	"time"
)

// Logger emits events for one component of one instance.
type Logger struct {
	component string
	instance  string
}

// New creates a Logger.
func New(component, instance string) *Logger {
	return &Logger{component: component, instance: instance}
}

// Info logs an informational event.
func (l *Logger) Info(eventType string, data map[string]interface{}) {
	l.emit("info", eventType, data)
}

// Warn logs a warning event.
func (l *Logger) Warn(eventType string, data map[string]interface{}) {
	l.emit("warn", eventType, data)
}

// Error logs an error event.
func (l *Logger) Error(eventType string, data map[string]interface{}) {
	l.emit("error", eventType, data)
}

func (l *Logger) emit(level, eventType string, data map[string]interface{}) {
	event := make(map[string]interface{}, len(data)+5)
	for k, v := range data {
		event[k] = v
	}
	event["timestamp"] = time.Now().UTC().Format(time.RFC3339)
	event["level"] = level
	event["component"] = l.component
	event["event_type"] = eventType
	event["instance"] = l.instance

	jsonData, err := json.Marshal(event)
	if err != nil {
		log.Printf("[%s] Failed to marshal log event: %v", l.component, err)
		return
	}

	log.Println(string(jsonData))
}
