package server

import (
	"sync"
	"time"

	"github.com/finguard/finguard/internal/di"
	"github.com/finguard/finguard/internal/events"
	"github.com/rs/zerolog"
)

// StatusMonitor periodically checks the ledger halt state and the quote
// stream connection and emits SystemStatusChanged when either changes
type StatusMonitor struct {
	container *di.Container
	log       zerolog.Logger

	stopOnce sync.Once
	stop     chan struct{}

	mu   sync.Mutex
	last *events.SystemStatusData
}

// NewStatusMonitor creates a new status monitor
func NewStatusMonitor(container *di.Container, log zerolog.Logger) *StatusMonitor {
	return &StatusMonitor{
		container: container,
		log:       log.With().Str("component", "status_monitor").Logger(),
		stop:      make(chan struct{}),
	}
}

// Start begins periodic status monitoring
func (m *StatusMonitor) Start(interval time.Duration) {
	go m.monitor(interval)
}

// Stop ends monitoring. Safe to call more than once.
func (m *StatusMonitor) Stop() {
	m.stopOnce.Do(func() { close(m.stop) })
}

func (m *StatusMonitor) monitor(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	m.checkStatus()
	for {
		select {
		case <-m.stop:
			return
		case <-ticker.C:
			m.checkStatus()
		}
	}
}

// checkStatus emits on the first check and on every change after it.
// Reports whether an event was emitted.
func (m *StatusMonitor) checkStatus() bool {
	current := &events.SystemStatusData{}
	current.LedgerHalted, current.HaltReason = m.container.Ledger.Halted()
	if m.container.QuoteStream != nil {
		current.QuoteStreamEnabled = true
		current.QuoteStreamConnected = m.container.QuoteStream.IsConnected()
	}

	m.mu.Lock()
	changed := m.last == nil || *m.last != *current
	m.last = current
	m.mu.Unlock()

	if !changed {
		return false
	}

	m.log.Info().
		Bool("ledger_halted", current.LedgerHalted).
		Bool("quote_stream_connected", current.QuoteStreamConnected).
		Msg("System status changed")
	if m.container.EventManager != nil {
		m.container.EventManager.EmitTyped("status_monitor", current)
	}
	return true
}
