package connectivity

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStatic(t *testing.T) {
	assert.True(t, Static(true).Online())
	assert.False(t, Static(false).Online())
}

func TestMonitorNotifiesOnReconnect(t *testing.T) {
	m := NewMonitor(false)
	ch := m.Subscribe()

	m.SetOnline(true)

	select {
	case <-ch:
	default:
		t.Fatal("expected reconnect signal")
	}
	assert.True(t, m.Online())
}

func TestMonitorSilentWhileAlreadyOnline(t *testing.T) {
	m := NewMonitor(true)
	ch := m.Subscribe()

	m.SetOnline(true)
	m.SetOnline(false)

	select {
	case <-ch:
		t.Fatal("unexpected signal: no offline-to-online transition happened")
	default:
	}
	assert.False(t, m.Online())
}

func TestMonitorCoalescesMissedSignals(t *testing.T) {
	m := NewMonitor(false)
	ch := m.Subscribe()

	m.SetOnline(true)
	m.SetOnline(false)
	m.SetOnline(true)

	// Two transitions, one buffered signal.
	<-ch
	select {
	case <-ch:
		t.Fatal("signals should coalesce into one")
	default:
	}
}
