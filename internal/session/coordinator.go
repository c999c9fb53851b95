// Package session coordinates one room membership: it owns the capture
// session, the recording controller, the transport channel, and the
// playback queue, and keeps the roster of room participants up to date.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/zubia/zubia/internal/history"
	"github.com/zubia/zubia/internal/observe"
	"github.com/zubia/zubia/internal/playback"
	"github.com/zubia/zubia/internal/protocol"
	"github.com/zubia/zubia/internal/recorder"
	"github.com/zubia/zubia/internal/transport"
	"github.com/zubia/zubia/pkg/audio"
	"github.com/zubia/zubia/pkg/capture"
)

// ErrNotJoined is returned by operations that need an established room
// membership.
var ErrNotJoined = errors.New("session: not joined to a room")

// Channel is the slice of the transport channel the coordinator drives.
type Channel interface {
	SendAudio(ctx context.Context, payload []byte)
	SendControl(ctx context.Context, v any)
	Open() bool
	Close() error
}

// DialFunc establishes a transport channel. It matches [transport.Dial]
// and exists so tests can substitute an in-memory channel.
type DialFunc func(ctx context.Context, endpoint string, id transport.Identity, h transport.Handlers, m *observe.Metrics) (Channel, error)

// Options configures a [Coordinator].
type Options struct {
	// Name is the local user's display name. Required.
	Name string

	// Language is the local user's language code. Required.
	Language string

	// Device captures microphone audio. Required.
	Device capture.Device

	// Constraints are passed to the device when the session opens.
	// Zero value falls back to [capture.DefaultConstraints].
	Constraints capture.Constraints

	// Encoder turns captured PCM into utterance blobs. Required.
	Encoder capture.Encoder

	// Player sounds decoded translations. Required.
	Player audio.Player

	// Dial establishes the transport channel. Defaults to [transport.Dial].
	Dial DialFunc

	// Metrics receives instrumentation. May be nil.
	Metrics *observe.Metrics

	// History receives feed events. May be nil.
	History *history.Log

	// Notify receives each inbound control message after the coordinator
	// has applied it, so a UI can render the feed. Invoked from the
	// transport's read goroutine; must not block. May be nil.
	Notify func(msg any)

	// Recorder options (chunk interval, grace) forwarded to the
	// recording controller.
	RecorderOptions []recorder.Option

	// Playback options (output rate) forwarded to the playback queue.
	PlaybackOptions []playback.Option
}

func (o *Options) validate() error {
	var errs []error
	if o.Name == "" {
		errs = append(errs, errors.New("session: name is required"))
	}
	if o.Language == "" {
		errs = append(errs, errors.New("session: language is required"))
	}
	if o.Device == nil {
		errs = append(errs, errors.New("session: capture device is required"))
	}
	if o.Encoder == nil {
		errs = append(errs, errors.New("session: encoder is required"))
	}
	if o.Player == nil {
		errs = append(errs, errors.New("session: player is required"))
	}
	return errors.Join(errs...)
}

// Coordinator drives one room membership from join to leave. Create one
// with [Join]; it is not reusable after [Coordinator.Leave].
//
// All exported methods are safe for concurrent use.
type Coordinator struct {
	opts Options

	sess  *capture.Session
	rec   *recorder.Controller
	queue *playback.Queue
	ch    Channel

	mu       sync.Mutex
	joined   bool
	left     bool
	userID   string
	roomID   string
	roomName string
	language string
	muted    bool
	users    []protocol.User

	ready     chan struct{} // closed when the joined ack arrives
	closeOnce sync.Once
}

// Join opens the microphone, dials the room's websocket endpoint, and
// blocks until the server acknowledges the join or ctx expires. On any
// failure everything already opened is torn down before returning.
func Join(ctx context.Context, endpoint string, opts Options) (*Coordinator, error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}
	if opts.Dial == nil {
		opts.Dial = func(ctx context.Context, endpoint string, id transport.Identity, h transport.Handlers, m *observe.Metrics) (Channel, error) {
			return transport.Dial(ctx, endpoint, id, h, m)
		}
	}
	constraints := opts.Constraints
	if constraints.SampleRate == 0 {
		constraints = capture.DefaultConstraints()
	}

	c := &Coordinator{
		opts:     opts,
		language: opts.Language,
		ready:    make(chan struct{}),
	}

	// Microphone first: if the user denies permission there is no point
	// in touching the network.
	sess, err := capture.Open(ctx, opts.Device, constraints, opts.Encoder)
	if err != nil {
		return nil, fmt.Errorf("session: open capture: %w", err)
	}
	c.sess = sess

	c.queue = playback.New(opts.Player, append([]playback.Option{playback.WithMetrics(opts.Metrics)}, opts.PlaybackOptions...)...)

	ch, err := opts.Dial(ctx, endpoint, transport.Identity{Name: opts.Name, Language: opts.Language}, transport.Handlers{
		Control: c.handleControl,
		Audio:   c.handleAudio,
		Closed:  c.handleClosed,
	}, opts.Metrics)
	if err != nil {
		c.queue.Close()
		sess.Close()
		return nil, fmt.Errorf("session: dial %q: %w", endpoint, err)
	}
	c.ch = ch

	// Gate on the joined ack: no recording is armed until the server has
	// accepted us into the room.
	select {
	case <-c.ready:
	case <-ctx.Done():
		ch.Close()
		c.queue.Close()
		sess.Close()
		return nil, fmt.Errorf("session: waiting for join ack: %w", ctx.Err())
	}

	recOpts := append([]recorder.Option{recorder.WithMetrics(opts.Metrics)}, opts.RecorderOptions...)
	c.rec = recorder.New(sess, c.sendUtterance, recOpts...)

	return c, nil
}

// Leave tears the membership down in order: recording stops first so the
// trailing chunk still reaches the server, then the microphone is
// released, then the transport closes, then playback. Idempotent.
func (c *Coordinator) Leave() error {
	var errs []error
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.left = true
		c.mu.Unlock()

		if c.rec != nil {
			errs = append(errs, c.rec.Close())
		}
		errs = append(errs, c.sess.Close())
		errs = append(errs, c.ch.Close())
		errs = append(errs, c.queue.Close())

		c.appendHistory(history.Event{
			Kind: history.KindUserLeft,
			Room: c.RoomName(),
			User: c.opts.Name,
		})
		slog.Info("session: left room", "room", c.RoomName())
	})
	return errors.Join(errs...)
}

// Ready reports whether the server has acknowledged the join.
func (c *Coordinator) Ready() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.joined
}

// Users returns a snapshot of the current roster.
func (c *Coordinator) Users() []protocol.User {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]protocol.User(nil), c.users...)
}

// RoomName returns the server-assigned room name.
func (c *Coordinator) RoomName() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.roomName
}

// RoomID returns the server-assigned room ID.
func (c *Coordinator) RoomID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.roomID
}

// UserID returns the server-assigned ID of the local user.
func (c *Coordinator) UserID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.userID
}

// Language returns the local user's current language code.
func (c *Coordinator) Language() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.language
}

// Level returns the most recent microphone level in [0, 1], for UI meters.
func (c *Coordinator) Level() float64 {
	return c.sess.Level()
}

// Recorder exposes the recording controller for gesture and mode wiring.
func (c *Coordinator) Recorder() *recorder.Controller {
	return c.rec
}

// SetVolume adjusts playback gain for entries enqueued from now on.
func (c *Coordinator) SetVolume(v float64) {
	c.queue.SetVolume(v)
}

// Volume returns the current playback gain.
func (c *Coordinator) Volume() float64 {
	return c.queue.Volume()
}

// SetMode switches the recording mode, force-stopping any recording in
// progress.
func (c *Coordinator) SetMode(m recorder.Mode) {
	c.rec.SetMode(m)
}

// SetMuted toggles the local mute state. While muted, finalised
// utterances are suppressed locally and the server is told to drop any
// audio that slips through.
func (c *Coordinator) SetMuted(ctx context.Context, muted bool) error {
	c.mu.Lock()
	if c.left {
		c.mu.Unlock()
		return ErrNotJoined
	}
	if c.muted == muted {
		c.mu.Unlock()
		return nil
	}
	c.muted = muted
	c.mu.Unlock()

	c.ch.SendControl(ctx, protocol.NewMuteState(muted))
	return nil
}

// Muted reports the local mute state.
func (c *Coordinator) Muted() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.muted
}

// ChangeLanguage announces a new target language to the server and
// updates local state.
func (c *Coordinator) ChangeLanguage(ctx context.Context, lang string) error {
	c.mu.Lock()
	if c.left {
		c.mu.Unlock()
		return ErrNotJoined
	}
	c.language = lang
	c.mu.Unlock()

	c.ch.SendControl(ctx, protocol.NewChangeLanguage(lang))
	c.appendHistory(history.Event{
		Kind:     history.KindLanguageChanged,
		Room:     c.RoomName(),
		User:     c.opts.Name,
		Language: lang,
	})
	return nil
}

// sendUtterance ships one finalised chunk to the server. Chunks produced
// while the channel is closed are dropped by the transport.
func (c *Coordinator) sendUtterance(u recorder.Utterance) {
	if c.Muted() {
		slog.Debug("session: utterance suppressed while muted", "id", u.ID)
		return
	}
	c.ch.SendAudio(context.Background(), u.Data)
	slog.Debug("session: utterance sent",
		"id", u.ID, "bytes", len(u.Data), "codec", u.Codec, "mode", u.Mode.String())
}

// handleControl applies one inbound control message to local state and
// forwards it to the Notify callback.
func (c *Coordinator) handleControl(msg any) {
	switch m := msg.(type) {
	case protocol.Joined:
		c.mu.Lock()
		first := !c.joined
		c.joined = true
		c.userID = m.UserID
		c.roomID = m.RoomID
		c.roomName = m.RoomName
		c.users = m.Users
		c.mu.Unlock()
		if first {
			close(c.ready)
		}
		c.appendHistory(history.Event{
			Kind: history.KindJoined,
			Room: m.RoomName,
			User: c.opts.Name,
		})
		slog.Info("session: joined room", "room", m.RoomName, "participants", len(m.Users))

	case protocol.UserJoined:
		c.setUsers(m.Users)
		c.appendHistory(history.Event{
			Kind:     history.KindUserJoined,
			Room:     c.RoomName(),
			User:     m.UserName,
			Language: m.Language,
		})

	case protocol.UserLeft:
		c.setUsers(m.Users)
		c.appendHistory(history.Event{
			Kind: history.KindUserLeft,
			Room: c.RoomName(),
			User: m.UserName,
		})

	case protocol.UserMuteChanged:
		c.setUsers(m.Users)

	case protocol.UserLanguageChanged:
		c.setUsers(m.Users)

	case protocol.Transcription:
		c.appendHistory(history.Event{
			Kind:     history.KindTranscription,
			Room:     c.RoomName(),
			User:     c.opts.Name,
			Text:     m.Text,
			Language: m.Language,
		})

	case protocol.TranslatedAudioMeta:
		c.appendHistory(history.Event{
			Kind:     history.KindTranslation,
			Room:     c.RoomName(),
			User:     m.FromUser,
			Text:     m.TranslatedText,
			Language: m.ToLanguage,
		})
	}

	if c.opts.Notify != nil {
		c.opts.Notify(msg)
	}
}

// handleAudio queues one translated audio frame for playback.
func (c *Coordinator) handleAudio(payload []byte, meta protocol.TranslatedAudioMeta) {
	c.queue.Enqueue(payload, meta)
}

// handleClosed reacts to the transport going away. There is no automatic
// reconnect; rejoining is a user action.
func (c *Coordinator) handleClosed(err error) {
	if err != nil {
		slog.Warn("session: transport disconnected", "err", err)
	}
}

// setUsers replaces the roster when the server includes one.
func (c *Coordinator) setUsers(users []protocol.User) {
	if users == nil {
		return
	}
	c.mu.Lock()
	c.users = users
	c.mu.Unlock()
}

// appendHistory records a feed event when a history log is configured.
func (c *Coordinator) appendHistory(ev history.Event) {
	if c.opts.History == nil {
		return
	}
	if err := c.opts.History.Append(ev); err != nil {
		slog.Warn("session: recording feed event failed", "kind", ev.Kind, "err", err)
	}
}
