package replication

import (
	"context"
	"fmt"
	"sync"
)

// MemoryBus connects participants living in one process. Delivery happens
// synchronously on the sender's goroutine, so per-sender order is preserved.
type MemoryBus struct {
	mu       sync.Mutex
	services map[string]*memoryHost
}

// NewMemoryBus creates an empty bus.
func NewMemoryBus() *MemoryBus {
	return &MemoryBus{services: make(map[string]*memoryHost)}
}

// Transport returns a transport handle for one participant.
func (b *MemoryBus) Transport() Transport {
	return memoryTransport{bus: b}
}

type memoryTransport struct {
	bus *MemoryBus
}

func (t memoryTransport) ShareService(ctx context.Context, name string) (HostService, error) {
	t.bus.mu.Lock()
	defer t.bus.mu.Unlock()

	if _, exists := t.bus.services[name]; exists {
		return nil, fmt.Errorf("%w: %s already shared", ErrServiceUnavailable, name)
	}
	h := &memoryHost{
		bus:      t.bus,
		name:     name,
		notify:   newHandlerSet[NotifyHandler](),
		requests: newHandlerSet[RequestHandler](),
		guests:   make(map[*memoryGuest]bool),
	}
	t.bus.services[name] = h
	return h, nil
}

func (t memoryTransport) LookupService(ctx context.Context, name string) (GuestService, error) {
	t.bus.mu.Lock()
	h, exists := t.bus.services[name]
	t.bus.mu.Unlock()

	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrServiceUnavailable, name)
	}

	g := &memoryGuest{host: h, notify: newHandlerSet[NotifyHandler]()}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil, fmt.Errorf("%w: %s", ErrServiceUnavailable, name)
	}
	h.guests[g] = true
	return g, nil
}

type memoryHost struct {
	bus  *MemoryBus
	name string

	mu       sync.Mutex
	closed   bool
	notify   *handlerSet[NotifyHandler]
	requests *handlerSet[RequestHandler]
	guests   map[*memoryGuest]bool
}

func (h *memoryHost) Notify(ctx context.Context, command string, data []byte) error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return ErrServiceUnavailable
	}
	targets := make([]*memoryGuest, 0, len(h.guests))
	for g := range h.guests {
		targets = append(targets, g)
	}
	h.mu.Unlock()

	for _, g := range targets {
		for _, handle := range g.notify.get(command) {
			handle(data)
		}
	}
	return nil
}

func (h *memoryHost) OnNotify(command string, handler NotifyHandler) (func(), error) {
	return h.notify.add(command, handler), nil
}

func (h *memoryHost) OnRequest(command string, handler RequestHandler) (func(), error) {
	return h.requests.add(command, handler), nil
}

func (h *memoryHost) Close() error {
	h.mu.Lock()
	h.closed = true
	h.guests = make(map[*memoryGuest]bool)
	h.mu.Unlock()

	h.bus.mu.Lock()
	if h.bus.services[h.name] == h {
		delete(h.bus.services, h.name)
	}
	h.bus.mu.Unlock()
	return nil
}

type memoryGuest struct {
	host   *memoryHost
	notify *handlerSet[NotifyHandler]

	mu     sync.Mutex
	closed bool
}

func (g *memoryGuest) connected() bool {
	g.mu.Lock()
	closed := g.closed
	g.mu.Unlock()
	if closed {
		return false
	}

	g.host.mu.Lock()
	defer g.host.mu.Unlock()
	return !g.host.closed && g.host.guests[g]
}

func (g *memoryGuest) Notify(ctx context.Context, command string, data []byte) error {
	if !g.connected() {
		return ErrServiceUnavailable
	}
	for _, handle := range g.host.notify.get(command) {
		handle(data)
	}
	return nil
}

func (g *memoryGuest) OnNotify(command string, handler NotifyHandler) (func(), error) {
	return g.notify.add(command, handler), nil
}

func (g *memoryGuest) Request(ctx context.Context, command string, data []byte) ([]byte, error) {
	if !g.connected() {
		return nil, ErrServiceUnavailable
	}
	handlers := g.host.requests.get(command)
	if len(handlers) == 0 {
		return nil, fmt.Errorf("%w: no responder for %s", ErrServiceUnavailable, command)
	}
	return handlers[0](ctx, data)
}

func (g *memoryGuest) Close() error {
	g.mu.Lock()
	g.closed = true
	g.mu.Unlock()

	g.host.mu.Lock()
	delete(g.host.guests, g)
	g.host.mu.Unlock()
	return nil
}

// handlerSet keeps handlers per command with removable registrations.
type handlerSet[H any] struct {
	mu     sync.Mutex
	nextID int
	byCmd  map[string]map[int]H
	order  map[string][]int
}

func newHandlerSet[H any]() *handlerSet[H] {
	return &handlerSet[H]{
		byCmd: make(map[string]map[int]H),
		order: make(map[string][]int),
	}
}

func (s *handlerSet[H]) add(command string, h H) func() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextID++
	id := s.nextID
	if s.byCmd[command] == nil {
		s.byCmd[command] = make(map[int]H)
	}
	s.byCmd[command][id] = h
	s.order[command] = append(s.order[command], id)

	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.byCmd[command], id)
	}
}

func (s *handlerSet[H]) get(command string) []H {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []H
	for _, id := range s.order[command] {
		if h, ok := s.byCmd[command][id]; ok {
			out = append(out, h)
		}
	}
	return out
}
