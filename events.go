package sherpa

import (
	"fmt"
	"sync"

	"github.com/go-json-experiment/json"

	"github.com/marrasen/sherpa/lifecycle"
)

// Events maps pushed event names to streams. Each payload is verified
// against the named type declared for its event before it is sent.
type Events struct {
	registry *Registry
	mu       sync.RWMutex
	bindings map[string]binding
}

type binding struct {
	typeName string
	send     func(v any) error
}

// NewEvents returns an empty binding table for types in registry.
func NewEvents(registry *Registry) *Events {
	return &Events{
		registry: registry,
		bindings: make(map[string]binding),
	}
}

// Bind delivers events named event, verified as typeName and converted to
// T, to s.
func Bind[T any](ev *Events, event, typeName string, s *lifecycle.Stream[T]) error {
	if _, ok := ev.registry.Lookup(typeName); !ok {
		return fmt.Errorf("binding event %s: unknown type %s", event, typeName)
	}
	ev.mu.Lock()
	defer ev.mu.Unlock()
	if _, ok := ev.bindings[event]; ok {
		return fmt.Errorf("event %s already bound", event)
	}
	ev.bindings[event] = binding{
		typeName: typeName,
		send: func(v any) error {
			t, err := As[T](v)
			if err != nil {
				return err
			}
			s.Send(t)
			return nil
		},
	}
	return nil
}

// Names returns the bound event names.
func (ev *Events) Names() []string {
	ev.mu.RLock()
	defer ev.mu.RUnlock()
	names := make([]string, 0, len(ev.bindings))
	for name := range ev.bindings {
		names = append(names, name)
	}
	return names
}

// Dispatch decodes and verifies data, then sends it on the stream bound to
// event. Unbound events and invalid payloads are returned as errors without
// sending anything.
func (ev *Events) Dispatch(event string, data []byte) error {
	ev.mu.RLock()
	b, ok := ev.bindings[event]
	ev.mu.RUnlock()
	if !ok {
		return fmt.Errorf("unknown event %s", event)
	}
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return fmt.Errorf("event %s: parsing data: %w", event, err)
	}
	pv, err := Parse(ev.registry, b.typeName, v)
	if err != nil {
		return fmt.Errorf("event %s: %w", event, err)
	}
	if err := b.send(pv); err != nil {
		return fmt.Errorf("event %s: converting data: %w", event, err)
	}
	return nil
}
