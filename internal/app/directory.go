package app

import (
	"encoding/json"

	"github.com/demirkiran/cafe/internal/domain"
	"github.com/demirkiran/cafe/internal/protocol"
	"github.com/rs/zerolog/log"
)

// Directory fans registry mutations out as push events. Sends never block:
// a slow client drops the frame (its local view converges on the next
// directory query).
type Directory struct {
	reg *Registry
}

func NewDirectory(reg *Registry) *Directory {
	return &Directory{reg: reg}
}

func (d *Directory) marshal(event string, payload any) []byte {
	data, err := json.Marshal(payload)
	if err != nil {
		log.Error().Err(err).Str("module", "app.directory").Str("event", event).Msg("marshal payload")
		return nil
	}
	frame, err := json.Marshal(protocol.Envelope{Event: event, Data: data})
	if err != nil {
		log.Error().Err(err).Str("module", "app.directory").Str("event", event).Msg("marshal envelope")
		return nil
	}
	return frame
}

// ToRoom delivers an event to every member of a room except the excluded
// peers.
func (d *Directory) ToRoom(room domain.RoomID, event string, payload any, exclude ...domain.PeerID) {
	frame := d.marshal(event, payload)
	if frame == nil {
		return
	}
	dropped := 0
	for _, conn := range d.reg.ConnsInRoom(room, exclude...) {
		if err := conn.TrySend(frame); err != nil {
			dropped++
		}
	}
	if dropped > 0 {
		log.Warn().Str("module", "app.directory").Str("event", event).
			Str("room", string(room)).Int("dropped", dropped).Msg("broadcast dropped frames")
	}
}

// ToPeer delivers an event to a single peer.
func (d *Directory) ToPeer(id domain.PeerID, event string, payload any) {
	conn, ok := d.reg.Conn(id)
	if !ok {
		return
	}
	if frame := d.marshal(event, payload); frame != nil {
		_ = conn.TrySend(frame)
	}
}
