package router

import (
	"encoding/json"

	"github.com/dkeye/Huddle/internal/domain"
	"github.com/dkeye/Huddle/internal/metrics"
	"github.com/dkeye/Huddle/internal/protocol"
	"github.com/rs/zerolog/log"
)

// handleRelay forwards an offer, answer or candidate to its target. Targets
// outside the sender's room are dropped without telling anyone: leave races
// are expected.
func (r *Router) handleRelay(id domain.ParticipantID, typ string, data []byte) error {
	var s protocol.Signal
	if err := json.Unmarshal(data, &s); err != nil || s.To == "" {
		return errBadPayload
	}
	to := domain.ParticipantID(s.To)

	roomID, ok := r.reg.SharesRoom(id, to)
	if !ok || to == id {
		metrics.RelayMisses.Inc()
		log.Debug().Str("module", "router").Str("type", typ).Str("from", string(id)).Str("to", s.To).Msg("relay miss")
		return nil
	}

	r.send(to, protocol.Signal{
		Type:    typ,
		From:    string(id),
		RoomID:  string(roomID),
		Payload: s.Payload,
	})
	metrics.SignalsRelayed.WithLabelValues(typ).Inc()
	return nil
}
