package sessionmgr

import (
	"context"
	"time"

	"github.com/relaykit/agentbroker/log"
)

// runIdleReaper implements spec.md §4.8's idle reaper: scans all
// sessions at a rate of idleTimeout/10 (floor 1s), closing any session
// with no CLI, no consumers, and no activity for idleTimeout. Skipped
// entirely when IdleSessionTimeout <= 0 (see Start).
func (m *Manager) runIdleReaper() {
	defer m.reaperWG.Done()

	rate := m.opts.IdleSessionTimeout / 10
	if rate < time.Second {
		rate = time.Second
	}
	ticker := time.NewTicker(rate)
	defer ticker.Stop()

	for {
		select {
		case <-m.reaperStop:
			return
		case <-ticker.C:
			m.reapIdleSessions()
		}
	}
}

func (m *Manager) reapIdleSessions() {
	now := time.Now()
	for _, session := range m.bridge.Sessions() {
		snap := session.Snapshot()
		if snap.CliConnected || snap.ConsumerCount > 0 {
			continue
		}
		if now.Sub(snap.LastActivity) < m.opts.IdleSessionTimeout {
			continue
		}
		log.Info().Str("session_id", session.ID).Msg("sessionmgr: reaping idle session")
		_ = m.bridge.CloseSession(context.Background(), session.ID)
	}
}
