// Package connectivity models the online/offline signal as an injected
// dependency so entity services and the reconciler can be tested with
// deterministic transitions instead of reading ambient runtime state.
package connectivity

import "sync"

// Provider is consulted synchronously before any remote attempt. The
// answer can be stale by the time the call happens, so remote calls are
// always wrapped to degrade to the offline path on failure.
type Provider interface {
	Online() bool
}

// Static is a fixed answer, convenient in tests.
type Static bool

func (s Static) Online() bool { return bool(s) }

// Monitor tracks the connectivity flag and notifies subscribers on
// offline-to-online transitions, which is the reconciler's wake-up signal.
type Monitor struct {
	mu     sync.Mutex
	online bool
	subs   []chan struct{}
}

// NewMonitor starts in the given state.
func NewMonitor(online bool) *Monitor {
	return &Monitor{online: online}
}

// Online implements Provider.
func (m *Monitor) Online() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.online
}

// SetOnline records the new state. A transition from offline to online
// notifies every subscriber; notifications are non-blocking so a slow
// consumer coalesces repeated transitions.
func (m *Monitor) SetOnline(online bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	wasOnline := m.online
	m.online = online
	if online && !wasOnline {
		for _, ch := range m.subs {
			select {
			case ch <- struct{}{}:
			default:
			}
		}
	}
}

// Subscribe returns a channel receiving one signal per offline-to-online
// transition. The channel has capacity one; missed signals coalesce.
func (m *Monitor) Subscribe() <-chan struct{} {
	m.mu.Lock()
	defer m.mu.Unlock()
	ch := make(chan struct{}, 1)
	m.subs = append(m.subs, ch)
	return ch
}
