package push

import (
	"encoding/json"
	"sync"

	"github.com/pkg/errors"
)

type Handler func(payload json.RawMessage)

// Conn is the shared persistent push connection. Trackers only register and
// unregister interest; they never own or close it.
type Conn interface {
	On(event string, h Handler) (off func())
	OnReconnect(fn func()) (off func())
	Emit(event string, payload any) error
}

// Outbound receives events emitted through a Hub.
type Outbound func(event string, payload json.RawMessage) error

type Emitted struct {
	Event   string
	Payload json.RawMessage
}

// Hub is an in-memory Conn. Broker consumers and the socket client feed it
// with Dispatch; tests use it as the fake transport.
type Hub struct {
	mu        sync.RWMutex
	next      uint64
	handlers  map[string]map[uint64]Handler
	reconnect map[uint64]func()
	out       Outbound
	emitted   []Emitted
}

func NewHub() *Hub {
	return &Hub{
		handlers:  make(map[string]map[uint64]Handler),
		reconnect: make(map[uint64]func()),
	}
}

// SetOutbound routes Emit to a real transport instead of recording it.
func (h *Hub) SetOutbound(out Outbound) {
	h.mu.Lock()
	h.out = out
	h.mu.Unlock()
}

func (h *Hub) On(event string, fn Handler) func() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.next++
	id := h.next
	if h.handlers[event] == nil {
		h.handlers[event] = make(map[uint64]Handler)
	}
	h.handlers[event][id] = fn

	var once sync.Once
	return func() {
		once.Do(func() {
			h.mu.Lock()
			defer h.mu.Unlock()
			delete(h.handlers[event], id)
			if len(h.handlers[event]) == 0 {
				delete(h.handlers, event)
			}
		})
	}
}

func (h *Hub) OnReconnect(fn func()) func() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.next++
	id := h.next
	h.reconnect[id] = fn

	var once sync.Once
	return func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.reconnect, id)
			h.mu.Unlock()
		})
	}
}

func (h *Hub) Emit(event string, payload any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return errors.Wrap(err, "marshal payload")
	}
	h.mu.Lock()
	out := h.out
	if out == nil {
		h.emitted = append(h.emitted, Emitted{Event: event, Payload: raw})
	}
	h.mu.Unlock()
	if out != nil {
		return out(event, raw)
	}
	return nil
}

// Dispatch delivers an inbound event to every handler registered for it and
// returns how many handlers ran. Handlers run on the caller's goroutine.
func (h *Hub) Dispatch(event string, payload json.RawMessage) int {
	h.mu.RLock()
	fns := make([]Handler, 0, len(h.handlers[event]))
	for _, fn := range h.handlers[event] {
		fns = append(fns, fn)
	}
	h.mu.RUnlock()

	for _, fn := range fns {
		fn(payload)
	}
	return len(fns)
}

// Reconnected runs every reconnect hook.
func (h *Hub) Reconnected() {
	h.mu.RLock()
	fns := make([]func(), 0, len(h.reconnect))
	for _, fn := range h.reconnect {
		fns = append(fns, fn)
	}
	h.mu.RUnlock()

	for _, fn := range fns {
		fn()
	}
}

func (h *Hub) Handlers(event string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.handlers[event])
}

func (h *Hub) ReconnectHooks() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.reconnect)
}

func (h *Hub) Emitted() []Emitted {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return append([]Emitted(nil), h.emitted...)
}

var _ Conn = (*Hub)(nil)
