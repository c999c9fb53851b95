// Package transport implements the duplex websocket channel between the
// client engine and the room server. Text frames carry JSON control
// messages, binary frames carry audio. One channel corresponds to one room
// membership; there is no automatic reconnection — rejoining is a user
// action handled above this layer.
package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/coder/websocket"

	"github.com/zubia/zubia/internal/observe"
	"github.com/zubia/zubia/internal/protocol"
)

// Identity is sent as the first control frame on a new connection, before
// any audio frame (control-before-audio invariant).
type Identity struct {
	Name     string
	Language string
}

// Handlers receives inbound traffic and lifecycle events. All callbacks
// are invoked sequentially from the channel's read goroutine and must not
// block for extended periods. Nil callbacks are skipped.
type Handlers struct {
	// Control receives each decoded control message (one of the
	// protocol.* message types).
	Control func(msg any)

	// Audio receives each binary frame, paired with the
	// translated_audio_meta control frame that immediately preceded it.
	// If no meta preceded the frame, meta is the zero value.
	Audio func(payload []byte, meta protocol.TranslatedAudioMeta)

	// Closed is invoked exactly once when the channel stops reading,
	// whether by remote close, transport error, or a local Close call
	// (err is nil in the local case).
	Closed func(err error)
}

// Channel is an open duplex connection to the room server.
//
// Send methods never block on a closed channel and never queue for later
// replay: when the socket is not open, sends are dropped with a log entry.
// All exported methods are safe for concurrent use.
type Channel struct {
	conn     *websocket.Conn
	handlers Handlers
	metrics  *observe.Metrics

	open atomic.Bool

	// pendingMeta is the explicit "awaiting audio for last-seen meta"
	// protocol state. Touched only by the read goroutine.
	pendingMeta *protocol.TranslatedAudioMeta

	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// Dial connects to endpoint, sends the identity hello frame, and starts
// the read loop. The supplied ctx governs the dial and the hello write
// only; the channel then lives until Close or a transport failure.
func Dial(ctx context.Context, endpoint string, id Identity, h Handlers, metrics *observe.Metrics) (*Channel, error) {
	conn, _, err := websocket.Dial(ctx, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("transport: dial %q: %w", endpoint, err)
	}

	// Binary frames can be full utterances; lift the default read limit.
	conn.SetReadLimit(16 << 20)

	hello, err := json.Marshal(protocol.Hello{Name: id.Name, Language: id.Language})
	if err != nil {
		conn.Close(websocket.StatusInternalError, "encode hello")
		return nil, fmt.Errorf("transport: encode hello: %w", err)
	}
	if err := conn.Write(ctx, websocket.MessageText, hello); err != nil {
		conn.Close(websocket.StatusProtocolError, "hello write failed")
		return nil, fmt.Errorf("transport: send hello: %w", err)
	}

	c := &Channel{
		conn:     conn,
		handlers: h,
		metrics:  metrics,
		done:     make(chan struct{}),
	}
	c.open.Store(true)

	c.wg.Add(1)
	go c.readLoop()

	return c, nil
}

// SendAudio sends one binary audio frame if the channel is open. On a
// closed channel the frame is dropped silently (logged only) — never an
// error, never buffered for replay.
func (c *Channel) SendAudio(ctx context.Context, payload []byte) {
	if !c.open.Load() {
		slog.Debug("transport: dropping audio frame, channel closed", "bytes", len(payload))
		c.metrics.RecordTransportDrop(ctx, "audio")
		return
	}
	if err := c.conn.Write(ctx, websocket.MessageBinary, payload); err != nil {
		slog.Warn("transport: audio write failed, dropping frame", "bytes", len(payload), "err", err)
		c.metrics.RecordTransportDrop(ctx, "audio")
	}
}

// SendControl marshals v and sends it as a text frame if the channel is
// open; otherwise the message is dropped with a log entry.
func (c *Channel) SendControl(ctx context.Context, v any) {
	b, err := json.Marshal(v)
	if err != nil {
		slog.Warn("transport: encode control message failed", "err", err)
		return
	}
	if !c.open.Load() {
		slog.Debug("transport: dropping control message, channel closed")
		c.metrics.RecordTransportDrop(ctx, "control")
		return
	}
	if err := c.conn.Write(ctx, websocket.MessageText, b); err != nil {
		slog.Warn("transport: control write failed, dropping message", "err", err)
		c.metrics.RecordTransportDrop(ctx, "control")
	}
}

// Open reports whether the channel is currently accepting sends.
func (c *Channel) Open() bool { return c.open.Load() }

// Close tears the connection down. Idempotent — subsequent calls are
// no-ops and return nil.
func (c *Channel) Close() error {
	c.closeOnce.Do(func() {
		c.open.Store(false)
		close(c.done)
		c.conn.Close(websocket.StatusNormalClosure, "leaving room")
		c.wg.Wait()
	})
	return nil
}

// readLoop receives frames until the connection fails or is closed,
// dispatching text frames as control messages and binary frames as audio
// paired with the most recent meta.
func (c *Channel) readLoop() {
	defer c.wg.Done()

	ctx := context.Background()
	for {
		typ, data, err := c.conn.Read(ctx)
		if err != nil {
			c.open.Store(false)
			select {
			case <-c.done:
				// Local close; not a transport failure.
				err = nil
			default:
			}
			if c.handlers.Closed != nil {
				c.handlers.Closed(err)
			}
			return
		}

		switch typ {
		case websocket.MessageText:
			c.dispatchControl(ctx, data)
		case websocket.MessageBinary:
			c.dispatchAudio(data)
		}
	}
}

// dispatchControl decodes and delivers one control frame, updating the
// pending-meta pairing state when a translated_audio_meta arrives.
func (c *Channel) dispatchControl(ctx context.Context, raw []byte) {
	msg, err := protocol.ParseServerMessage(raw)
	if err != nil {
		if errors.Is(err, protocol.ErrUnknownType) {
			slog.Debug("transport: ignoring unknown control message", "err", err)
		} else {
			slog.Warn("transport: dropping malformed control message", "err", err)
		}
		return
	}

	c.metrics.RecordControlMessage(ctx, rawType(raw))

	if meta, ok := msg.(protocol.TranslatedAudioMeta); ok {
		c.pendingMeta = &meta
	}

	if c.handlers.Control != nil {
		c.handlers.Control(msg)
	}
}

// dispatchAudio delivers one binary frame paired with the pending meta,
// if any. The pending state is consumed either way: each meta pairs with
// at most one audio frame.
func (c *Channel) dispatchAudio(payload []byte) {
	var meta protocol.TranslatedAudioMeta
	if c.pendingMeta != nil {
		meta = *c.pendingMeta
		c.pendingMeta = nil
	}
	if c.handlers.Audio != nil {
		c.handlers.Audio(payload, meta)
	}
}

// rawType extracts the type tag for metric labelling without a full parse.
func rawType(raw []byte) string {
	var env struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(raw, &env); err != nil {
		return "invalid"
	}
	return env.Type
}
