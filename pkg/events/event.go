package events

import (
	"encoding/json"
	"time"
)

// Value is the dynamic payload of a trace event. Probes publish JSON-shaped
// values (maps, slices, strings, float64 numbers); aggregations emit numbers
// and key mappings.
type Value = any

// Event interface for arbitrary events with any content of type T
type Event[T any] interface {
	GetTimestamp() time.Time
	GetContent() T
}

// EventChannel transports events between pipeline stages and subscribers.
type EventChannel[T any] chan Event[T]

type TemporalEvent[T any] struct {
	TimeStamp time.Time
	Content   T
}

func NewEvent[T any](content T) Event[T] {
	return &TemporalEvent[T]{
		TimeStamp: time.Now(),
		Content:   content,
	}
}

// NewEventAt creates an event with an explicit timestamp, e.g. when an
// aggregation emits a value representing a whole period.
func NewEventAt[T any](content T, ts time.Time) Event[T] {
	return &TemporalEvent[T]{
		TimeStamp: ts,
		Content:   content,
	}
}

// NewEventFromJSON unmarshals a raw probe payload into a trace event.
func NewEventFromJSON(b []byte) (Event[Value], error) {
	var content Value
	if err := json.Unmarshal(b, &content); err != nil {
		return nil, err
	}
	return NewEvent[Value](content), nil
}

func (e *TemporalEvent[T]) GetTimestamp() time.Time {
	return e.TimeStamp
}

func (e *TemporalEvent[T]) GetContent() T {
	return e.Content
}

// Field walks a dotted path through nested map values. The second result
// reports whether every path segment was present.
func Field(v Value, path []string) (Value, bool) {
	cur := v
	for _, p := range path {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		cur, ok = m[p]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}
