package realtime

import (
	"sync"

	"github.com/google/uuid"
)

type listener struct {
	id      ListenerID
	handler Handler
}

// Emitter is a listener registry keyed by event name. Registrations are removed by the
// ListenerID returned from On, so Off never depends on handler identity.
// The zero value is ready to use.
type Emitter struct {
	mu        sync.RWMutex
	listeners map[EventName][]listener
}

// On registers h for name.
func (e *Emitter) On(name EventName, h Handler) ListenerID {
	id := ListenerID(uuid.NewString())

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.listeners == nil {
		e.listeners = make(map[EventName][]listener)
	}
	e.listeners[name] = append(e.listeners[name], listener{id: id, handler: h})
	return id
}

// Off removes the registration identified by id. Unknown ids are ignored.
func (e *Emitter) Off(name EventName, id ListenerID) {
	e.mu.Lock()
	defer e.mu.Unlock()

	ls := e.listeners[name]
	for i, l := range ls {
		if l.id != id {
			continue
		}
		// Copy so an Emit iterating the old slice is unaffected.
		next := make([]listener, 0, len(ls)-1)
		next = append(next, ls[:i]...)
		next = append(next, ls[i+1:]...)
		if len(next) == 0 {
			delete(e.listeners, name)
		} else {
			e.listeners[name] = next
		}
		return
	}
}

// Emit delivers ev to every handler registered for ev.Name, in registration order.
// Handlers run on the caller's goroutine, outside the registry lock.
func (e *Emitter) Emit(ev Event) {
	e.mu.RLock()
	ls := e.listeners[ev.Name]
	e.mu.RUnlock()

	for _, l := range ls {
		l.handler(ev)
	}
}

// Len returns the number of handlers registered for name.
func (e *Emitter) Len(name EventName) int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.listeners[name])
}
