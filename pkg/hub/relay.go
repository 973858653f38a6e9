package hub

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/teslashibe/go-overlay/internal/log"
	"github.com/teslashibe/go-overlay/pkg/engine"
	"github.com/teslashibe/go-overlay/pkg/geometry"
	"github.com/teslashibe/go-overlay/pkg/protocol"
	"github.com/teslashibe/go-overlay/pkg/viewport"
)

// ErrUnsupported is returned for a message type the relay does not accept.
var ErrUnsupported = errors.New("hub: unsupported message type")

// Target is the render-side state a viewer can change.
type Target interface {
	SetDetailLevel(level int) int
	SetDisplay(size geometry.Size, ratio float64)
	HitTest(p geometry.Point) (engine.Hit, bool)
}

// Relay applies viewer input messages to the interaction controller and
// the render target.
type Relay struct {
	view   *viewport.Controller
	target Target
	logger *slog.Logger
}

// NewRelay creates a relay. target may be nil, in which case detail,
// display and hit-test messages are rejected.
func NewRelay(view *viewport.Controller, target Target) *Relay {
	return &Relay{
		view:   view,
		target: target,
		logger: log.With("component", "hub.relay"),
	}
}

// Handle applies one message. It returns a reply for messages that have
// one (hit tests, pings) and nil otherwise.
func (r *Relay) Handle(msg *protocol.Message) (*protocol.Message, error) {
	switch msg.Type {
	case protocol.TypePointerDown, protocol.TypePointerMove:
		p, err := msg.GetPointerData()
		if err != nil {
			return nil, err
		}
		if msg.Type == protocol.TypePointerDown {
			r.view.PointerDown(p.Point())
		} else {
			r.view.PointerMove(p.Point())
		}

	case protocol.TypePointerUp:
		r.view.PointerUp()

	case protocol.TypePointerLeave:
		r.view.PointerLeave()

	case protocol.TypeTouch:
		t, err := msg.GetTouchData()
		if err != nil {
			return nil, err
		}
		switch t.Phase {
		case protocol.TouchStart:
			r.view.TouchStart(t.Points())
		case protocol.TouchMove:
			r.view.TouchMove(t.Points())
		case protocol.TouchEnd:
			r.view.TouchEnd(t.Points())
		default:
			return nil, fmt.Errorf("hub: unknown touch phase %q", t.Phase)
		}

	case protocol.TypeWheel:
		w, err := msg.GetWheelData()
		if err != nil {
			return nil, err
		}
		r.view.Wheel(w.DeltaY)

	case protocol.TypeReset:
		r.view.Reset()

	case protocol.TypeZoom:
		var z protocol.ZoomData
		if err := msg.ParseData(&z); err != nil {
			return nil, err
		}
		r.view.SetScale(z.Scale)

	case protocol.TypeDetail:
		if r.target == nil {
			return nil, ErrUnsupported
		}
		var d protocol.DetailData
		if err := msg.ParseData(&d); err != nil {
			return nil, err
		}
		r.target.SetDetailLevel(d.Level)

	case protocol.TypeDisplay:
		if r.target == nil {
			return nil, ErrUnsupported
		}
		var d protocol.DisplayData
		if err := msg.ParseData(&d); err != nil {
			return nil, err
		}
		r.target.SetDisplay(geometry.Size{W: d.Width, H: d.Height}, d.PixelRatio)

	case protocol.TypeHitTest:
		if r.target == nil {
			return nil, ErrUnsupported
		}
		p, err := msg.GetPointerData()
		if err != nil {
			return nil, err
		}
		hit, ok := r.target.HitTest(p.Point())
		return protocol.NewHitMessage(protocol.HitData{
			Found:    ok,
			EntityID: hit.EntityID,
			Label:    hit.Label,
			Kind:     hit.Kind,
		})

	case protocol.TypePing:
		ping, err := msg.GetPingData()
		if err != nil {
			return nil, err
		}
		return protocol.NewPongMessage(ping.ID, msg.Timestamp, time.Now().UnixMilli())

	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupported, msg.Type)
	}
	return nil, nil
}

// Attach makes the relay the hub's message handler. Replies and errors
// go back to the sending client only.
func (r *Relay) Attach(h *Hub) {
	h.OnMessage(func(c *Client, data []byte) {
		reply, err := r.handleRaw(data)
		if err != nil {
			r.logger.Debug("rejected viewer message", "error", err)
			reply, _ = protocol.NewErrorMessage(err.Error())
		}
		if reply == nil {
			return
		}
		if b, err := reply.Bytes(); err == nil {
			c.Send(NewJSONMessage(b))
		}
	})
}

func (r *Relay) handleRaw(data []byte) (*protocol.Message, error) {
	msg, err := protocol.ParseMessage(data)
	if err != nil {
		return nil, err
	}
	return r.Handle(msg)
}
