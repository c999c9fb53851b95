// Package playback implements the ordered playback queue for translated
// audio received from the room server. Entries are played strictly in
// arrival order through a single [audio.Player], so at most one entry is
// audible at any time.
package playback

import (
	"context"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/zubia/zubia/internal/observe"
	"github.com/zubia/zubia/internal/protocol"
	"github.com/zubia/zubia/pkg/audio"
)

// DefaultVolume is the initial output volume of a new queue.
const DefaultVolume = 1.0

// Entry is one queued playback item. The volume is snapshotted at enqueue
// time: changing the queue volume later does not affect entries already
// waiting.
type Entry struct {
	// Frame is the encoded audio payload as received from the transport
	// (a complete WAV container).
	Frame []byte

	// Meta is the translation metadata paired with the frame, or the zero
	// value when the frame arrived unpaired.
	Meta protocol.TranslatedAudioMeta

	// Volume is the gain applied to this entry, fixed at enqueue time.
	Volume float64

	enqueued time.Time
}

// Option configures a [Queue] during construction.
type Option func(*Queue)

// WithOutputRate fixes the sample rate handed to the player. Entries whose
// decoded rate differs are resampled. A rate of zero (the default) plays
// each entry at its source rate.
func WithOutputRate(hz int) Option {
	return func(q *Queue) {
		q.outputRate = hz
	}
}

// WithMetrics wires metric instruments into the queue.
func WithMetrics(m *observe.Metrics) Option {
	return func(q *Queue) {
		q.metrics = m
	}
}

// Queue plays entries in strict FIFO order through a single player. A
// background dispatch goroutine owns the player; entries that fail to
// decode are skipped with a log entry and playback continues with the
// next one.
//
// All exported methods are safe for concurrent use.
type Queue struct {
	player     audio.Player
	metrics    *observe.Metrics
	outputRate int

	mu      sync.Mutex
	entries []Entry
	volume  float64
	playing bool
	closed  bool

	notify chan struct{} // signalled when a new entry is enqueued
	done   chan struct{} // closed by Close to stop the dispatch goroutine
	idle   chan struct{} // closed by dispatch when it exits
}

// New creates a queue that delivers decoded audio to player. The queue
// starts its dispatch goroutine immediately; call [Queue.Close] to stop it.
//
// player is called sequentially from the dispatch goroutine and is expected
// to block until the handed buffer has finished sounding.
func New(player audio.Player, opts ...Option) *Queue {
	q := &Queue{
		player: player,
		volume: DefaultVolume,
		notify: make(chan struct{}, 1),
		done:   make(chan struct{}),
		idle:   make(chan struct{}),
	}
	for _, o := range opts {
		o(q)
	}
	go q.dispatch()
	return q
}

// Enqueue appends one frame to the queue, snapshotting the current volume.
// Entries enqueued after Close are dropped.
func (q *Queue) Enqueue(frame []byte, meta protocol.TranslatedAudioMeta) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.entries = append(q.entries, Entry{
		Frame:    frame,
		Meta:     meta,
		Volume:   q.volume,
		enqueued: time.Now(),
	})
	q.mu.Unlock()

	q.metrics.AddQueueDepth(context.Background(), 1)

	select {
	case q.notify <- struct{}{}:
	default:
	}
}

// SetVolume sets the gain applied to entries enqueued from now on, clamped
// to [0, 1]. Entries already queued keep their snapshotted volume.
func (q *Queue) SetVolume(v float64) {
	v = math.Max(0, math.Min(1, v))
	q.mu.Lock()
	q.volume = v
	q.mu.Unlock()
}

// Volume returns the gain that will be snapshotted by the next Enqueue.
func (q *Queue) Volume() float64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.volume
}

// Len returns the number of entries waiting to be played, excluding the one
// currently sounding.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.entries)
}

// Playing reports whether an entry is currently sounding.
func (q *Queue) Playing() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.playing
}

// Close stops the dispatch goroutine after the current entry (if any)
// finishes, discards queued entries, and closes the player. Idempotent.
func (q *Queue) Close() error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil
	}
	q.closed = true
	dropped := len(q.entries)
	q.entries = nil
	q.mu.Unlock()

	q.metrics.AddQueueDepth(context.Background(), -int64(dropped))

	close(q.done)
	<-q.idle
	return q.player.Close()
}

// dispatch pulls entries in FIFO order and plays them one at a time. It
// runs until Close is called.
func (q *Queue) dispatch() {
	defer close(q.idle)

	for {
		select {
		case <-q.done:
			return
		case <-q.notify:
		}

		for {
			entry, ok := q.dequeue()
			if !ok {
				break
			}
			q.play(entry)

			q.mu.Lock()
			q.playing = false
			q.mu.Unlock()

			select {
			case <-q.done:
				return
			default:
			}
		}
	}
}

// dequeue pops the oldest entry and marks the queue as sounding. Returns
// ok=false when the queue is empty.
func (q *Queue) dequeue() (Entry, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.entries) == 0 {
		return Entry{}, false
	}
	entry := q.entries[0]
	q.entries = q.entries[1:]
	q.playing = true

	q.metrics.AddQueueDepth(context.Background(), -1)
	return entry, true
}

// play decodes, normalises, and sounds one entry. Decode and playback
// failures skip the entry; the queue keeps going.
func (q *Queue) play(entry Entry) {
	ctx := context.Background()

	data, info, err := audio.ParseWAV(entry.Frame)
	if err != nil {
		slog.Warn("playback: skipping undecodable entry",
			"bytes", len(entry.Frame), "from", entry.Meta.FromUser, "err", err)
		q.metrics.RecordPlaybackEntry(ctx, "skipped")
		return
	}

	if info.Channels > 2 {
		slog.Warn("playback: skipping entry with unsupported channel count",
			"channels", info.Channels, "from", entry.Meta.FromUser)
		q.metrics.RecordPlaybackEntry(ctx, "skipped")
		return
	}

	pcm := audio.BytesToInt16s(data)
	if info.Channels == 2 {
		pcm = audio.StereoToMono(pcm)
	}
	rate := info.SampleRate
	if q.outputRate > 0 && rate != q.outputRate {
		pcm = audio.ResampleMono16(pcm, rate, q.outputRate)
		rate = q.outputRate
	}
	pcm = audio.ApplyGain(pcm, entry.Volume)

	if err := q.player.Play(pcm, rate); err != nil {
		slog.Warn("playback: player failed, skipping entry",
			"samples", len(pcm), "rate", rate, "err", err)
		q.metrics.RecordPlaybackEntry(ctx, "skipped")
		return
	}

	q.metrics.RecordPlaybackEntry(ctx, "played")
	if q.metrics != nil {
		q.metrics.PlaybackDuration.Record(ctx, time.Since(entry.enqueued).Seconds())
	}
}
