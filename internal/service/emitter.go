package service

import (
	"context"
	"sync"

	"hotelpipe/internal/logging"
)

// ─────────────────────────────────────────────────────────────
// EventEmitter: decouples the service from how events are delivered
// ─────────────────────────────────────────────────────────────

// EventEmitter announces pipeline events to whoever is listening.
// The CLI and the HTTP server use LogEmitter; tests use MockEmitter.
type EventEmitter interface {
	Emit(ctx context.Context, event string, data any)
}

// LogEmitter writes each event as a structured log line.
type LogEmitter struct{}

func (LogEmitter) Emit(ctx context.Context, event string, data any) {
	logging.Ctx(ctx).Info().Str("event", event).Interface("data", data).Msg("pipeline event")
}

// MockEmitter is a test-friendly EventEmitter that records all calls.
type MockEmitter struct {
	mu     sync.Mutex
	Events []EmittedEvent
}

// EmittedEvent holds a single recorded emission for test assertions.
type EmittedEvent struct {
	Event string
	Data  any
}

func (m *MockEmitter) Emit(_ context.Context, event string, data any) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Events = append(m.Events, EmittedEvent{Event: event, Data: data})
}

// Recorded returns a copy of the events emitted so far.
func (m *MockEmitter) Recorded() []EmittedEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]EmittedEvent(nil), m.Events...)
}
