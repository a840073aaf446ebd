package services

import (
	"sync"

	"github.com/rs/zerolog"

	"github.com/localdirectory/telemetry-core/internal/infrastructure/observability"
)

type locationListener struct {
	id int
	fn func()
}

// LocationNotifier is a registry of callbacks run whenever the effective location changes
type LocationNotifier struct {
	mu        sync.Mutex
	nextID    int
	listeners []locationListener
	logger    zerolog.Logger
}

// NewLocationNotifier creates an empty notifier
func NewLocationNotifier() *LocationNotifier {
	return &LocationNotifier{
		logger: observability.GetLogger().With().Str("component", "location_notifier").Logger(),
	}
}

// Subscribe registers fn and returns a function that removes it. Calling the returned
// function more than once is a no-op.
func (n *LocationNotifier) Subscribe(fn func()) func() {
	n.mu.Lock()
	n.nextID++
	id := n.nextID
	n.listeners = append(n.listeners, locationListener{id: id, fn: fn})
	n.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { n.unsubscribe(id) })
	}
}

func (n *LocationNotifier) unsubscribe(id int) {
	n.mu.Lock()
	defer n.mu.Unlock()

	for i, l := range n.listeners {
		if l.id == id {
			n.listeners = append(n.listeners[:i:i], n.listeners[i+1:]...)
			return
		}
	}
}

// Notify invokes every registered callback once, in registration order, on the calling
// goroutine. A panicking callback is logged and the remaining callbacks still run.
func (n *LocationNotifier) Notify() {
	n.mu.Lock()
	listeners := make([]locationListener, len(n.listeners))
	copy(listeners, n.listeners)
	n.mu.Unlock()

	for _, l := range listeners {
		n.invoke(l)
	}
}

func (n *LocationNotifier) invoke(l locationListener) {
	defer func() {
		if r := recover(); r != nil {
			n.logger.Error().Interface("panic", r).Int("listener", l.id).Msg("Location listener panicked")
		}
	}()
	l.fn()
}

// Len returns the number of registered callbacks
func (n *LocationNotifier) Len() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.listeners)
}
