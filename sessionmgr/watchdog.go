package sessionmgr

import (
	"time"

	"github.com/relaykit/agentbroker/log"
)

// armReconnectWatchdog implements spec.md §4.8's reconnection watchdog:
// a still-"starting" session after restore is given ReconnectGracePeriod
// to reattach before it's relaunched, unless archived by then.
func (m *Manager) armReconnectWatchdog(sessionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.watchdogTimers[sessionID]; exists {
		return
	}
	m.watchdogTimers[sessionID] = time.AfterFunc(m.opts.ReconnectGracePeriod, func() {
		m.mu.Lock()
		delete(m.watchdogTimers, sessionID)
		m.mu.Unlock()

		session, ok := m.bridge.GetSession(sessionID)
		if !ok || session.IsArchived() {
			return
		}
		if session.Snapshot().CliConnected {
			return
		}
		log.Info().Str("session_id", sessionID).Msg("sessionmgr: reconnect grace period expired, relaunching")
		m.Relaunch(sessionID)
	})
}
