package bridge

import (
	"encoding/json"

	"github.com/relaykit/agentbroker/auth"
	"github.com/relaykit/agentbroker/log"
)

// Broadcaster serializes a payload once and writes it to every consumer
// socket on a session, per spec.md §4.4: "ConsumerBroadcaster.broadcast
// serializes once, writes to every socket." A Send failure is logged and
// that consumer skipped; it never unwinds the broadcast, and the consumer
// stays registered on the session.
type Broadcaster struct{}

func (Broadcaster) Broadcast(session *Session, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	for c := range session.consumerSnapshot() {
		if err := c.Send(data); err != nil {
			log.Debug().Err(err).Str("session_id", session.ID).Msg("bridge: dropping unreachable consumer")
		}
	}
	return nil
}

// BroadcastToParticipants filters on role == participant, per spec.md
// §4.4: "broadcastToParticipants filters on role == 'participant'."
func (Broadcaster) BroadcastToParticipants(session *Session, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	for c, id := range session.consumerSnapshot() {
		if id.Role != auth.RoleParticipant {
			continue
		}
		if err := c.Send(data); err != nil {
			log.Debug().Err(err).Str("session_id", session.ID).Msg("bridge: dropping unreachable participant")
		}
	}
	return nil
}
