package signal

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/demirkiran/cafe/internal/app"
	"github.com/demirkiran/cafe/internal/app/orch"
	"github.com/demirkiran/cafe/internal/media"
	"github.com/demirkiran/cafe/internal/protocol"
)

func newTestController(t *testing.T) *Controller {
	t.Helper()
	pool, err := media.NewWorkerPool(1, media.WorkerConfig{})
	if err != nil {
		t.Fatalf("worker pool: %v", err)
	}
	reg := app.NewRegistry()
	return NewController(&orch.Orchestrator{
		Registry: reg,
		Engine:   media.NewEngine(pool),
		Dir:      app.NewDirectory(reg),
		Password: "19071907",
	})
}

// newFrameConn builds a connection whose frames are read back directly,
// no socket underneath.
func newFrameConn() *wsConn {
	return &wsConn{send: make(chan []byte, 8)}
}

func readFrame(t *testing.T, c *wsConn) protocol.Envelope {
	t.Helper()
	select {
	case b := <-c.send:
		var env protocol.Envelope
		if err := json.Unmarshal(b, &env); err != nil {
			t.Fatalf("bad frame %s: %v", b, err)
		}
		return env
	default:
		t.Fatal("no frame written")
		return protocol.Envelope{}
	}
}

func TestRouterCapabilitiesBeforeRoomReady(t *testing.T) {
	ctl := newTestController(t)
	conn := newFrameConn()
	ctl.Orch.Connect("p1", conn, nil)
	readFrame(t, conn) // welcome

	req := &protocol.Envelope{ID: "r1", Event: protocol.MethodGetRouterRtpCapabilities}
	ctl.handleRouterCapabilities("p1", conn, req)

	env := readFrame(t, conn)
	if env.Error != "" {
		t.Fatalf("missing router must not be an error, got %q", env.Error)
	}
	if env.ID != "r1" {
		t.Fatalf("response id = %q, want r1", env.ID)
	}
	var res protocol.RouterCapabilitiesResult
	if err := json.Unmarshal(env.Data, &res); err != nil {
		t.Fatal(err)
	}
	if len(res.RtpCapabilities) != 0 && !bytes.Equal(res.RtpCapabilities, []byte("null")) {
		t.Fatalf("capabilities before the room exists = %s, want null", res.RtpCapabilities)
	}
}

func TestRouterCapabilitiesAfterIdentify(t *testing.T) {
	ctl := newTestController(t)
	conn := newFrameConn()
	ctl.Orch.Connect("p1", conn, nil)
	readFrame(t, conn) // welcome
	if err := ctl.Orch.Identify("p1", "ali", "19071907", ""); err != nil {
		t.Fatalf("identify: %v", err)
	}

	ctl.handleRouterCapabilities("p1", conn, &protocol.Envelope{ID: "r2", Event: protocol.MethodGetRouterRtpCapabilities})

	env := readFrame(t, conn)
	if env.Error != "" {
		t.Fatalf("unexpected error %q", env.Error)
	}
	var res protocol.RouterCapabilitiesResult
	if err := json.Unmarshal(env.Data, &res); err != nil {
		t.Fatal(err)
	}
	var caps media.Capabilities
	if err := json.Unmarshal(res.RtpCapabilities, &caps); err != nil {
		t.Fatalf("capabilities blob: %v", err)
	}
	if len(caps.Codecs) == 0 {
		t.Fatal("identified peer must receive the room codec table")
	}
}
