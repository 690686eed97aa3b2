package media

import (
	"encoding/json"
	"strings"

	"github.com/demirkiran/cafe/internal/domain"
	"github.com/google/uuid"
)

// DefaultCodecs is the router codec table: Opus for audio, VP8/VP9/H264 for
// video. Clients negotiate against this set.
func DefaultCodecs() []Codec {
	return []Codec{
		{Kind: domain.KindAudio, MimeType: "audio/opus", ClockRate: 48000, Channels: 2},
		{Kind: domain.KindVideo, MimeType: "video/VP8", ClockRate: 90000},
		{Kind: domain.KindVideo, MimeType: "video/VP9", ClockRate: 90000, Parameters: map[string]any{
			"profile-id":             2,
			"x-google-start-bitrate": 1000,
		}},
		{Kind: domain.KindVideo, MimeType: "video/H264", ClockRate: 90000, Parameters: map[string]any{
			"packetization-mode":      1,
			"profile-level-id":        "42e01f",
			"level-asymmetry-allowed": 1,
		}},
	}
}

// Router scopes which producers and consumers can interoperate. One per room.
type Router struct {
	id     string
	room   domain.RoomID
	worker *Worker
	codecs []Codec
}

func newRouter(room domain.RoomID, worker *Worker, codecs []Codec) *Router {
	return &Router{
		id:     uuid.NewString(),
		room:   room,
		worker: worker,
		codecs: codecs,
	}
}

func (r *Router) Room() domain.RoomID { return r.room }

// Capabilities returns the router's codec table as an rtpCapabilities blob.
func (r *Router) Capabilities() json.RawMessage {
	raw, err := json.Marshal(Capabilities{Codecs: r.codecs})
	if err != nil {
		return nil
	}
	return raw
}

// supports reports whether the router itself carries the given kind.
func (r *Router) supports(kind domain.MediaKind) bool {
	for _, c := range r.codecs {
		if c.Kind == kind {
			return true
		}
	}
	return false
}

// compatible checks a declared capability set against a producer's kind and
// codec. Unknown or empty capability blobs are incompatible, never an error.
func (r *Router) compatible(kind domain.MediaKind, producerCodecs []Codec, rawCaps json.RawMessage) bool {
	var caps Capabilities
	if err := json.Unmarshal(rawCaps, &caps); err != nil {
		return false
	}
	for _, c := range caps.Codecs {
		if c.Kind != kind {
			continue
		}
		if len(producerCodecs) == 0 {
			// Producer declared no codec detail; kind match is the best
			// check available.
			return true
		}
		for _, pc := range producerCodecs {
			if strings.EqualFold(c.MimeType, pc.MimeType) {
				return true
			}
		}
	}
	return false
}
