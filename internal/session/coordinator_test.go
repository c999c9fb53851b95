package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/zubia/zubia/internal/history"
	"github.com/zubia/zubia/internal/observe"
	"github.com/zubia/zubia/internal/protocol"
	"github.com/zubia/zubia/internal/transport"
	"github.com/zubia/zubia/pkg/audio"
	"github.com/zubia/zubia/pkg/capture"
	capmock "github.com/zubia/zubia/pkg/capture/mock"
)

// fakeChannel records outbound traffic and exposes the handlers the
// coordinator registered, so tests can play the server's side.
type fakeChannel struct {
	mu       sync.Mutex
	audio    [][]byte
	controls []any
	open     bool
	closes   int
}

func (f *fakeChannel) SendAudio(_ context.Context, payload []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.open {
		return
	}
	f.audio = append(f.audio, append([]byte(nil), payload...))
}

func (f *fakeChannel) SendControl(_ context.Context, v any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.open {
		return
	}
	f.controls = append(f.controls, v)
}

func (f *fakeChannel) Open() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.open
}

func (f *fakeChannel) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.open = false
	f.closes++
	return nil
}

func (f *fakeChannel) sentAudio() [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([][]byte(nil), f.audio...)
}

func (f *fakeChannel) sentControls() []any {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]any(nil), f.controls...)
}

// fakePlayer counts plays and closes.
type fakePlayer struct {
	mu     sync.Mutex
	plays  int
	closes int
}

func (p *fakePlayer) Play(pcm []int16, sampleRate int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.plays++
	return nil
}

func (p *fakePlayer) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closes++
	return nil
}

func (p *fakePlayer) counts() (plays, closes int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.plays, p.closes
}

// rig bundles the coordinator with all its fakes.
type rig struct {
	co       *Coordinator
	ch       *fakeChannel
	handlers transport.Handlers
	device   *capmock.Device
	player   *fakePlayer
}

var testRoster = []protocol.User{
	{ID: "u1", Name: "ada", Language: "en"},
	{ID: "u2", Name: "bob", Language: "fr"},
}

func joinedAck() protocol.Joined {
	return protocol.Joined{
		Type:     protocol.TypeJoined,
		UserID:   "u1",
		RoomName: "lobby",
		RoomID:   "r1",
		Users:    testRoster,
	}
}

// joinRig establishes a coordinator against fakes, acking the join
// synchronously from the dial function.
func joinRig(t *testing.T, mutate func(*Options)) *rig {
	t.Helper()
	r := &rig{
		device: &capmock.Device{FrameBuffer: 64},
		player: &fakePlayer{},
	}

	opts := Options{
		Name:     "ada",
		Language: "en",
		Device:   r.device,
		Encoder:  &capmock.Encoder{},
		Player:   r.player,
		Dial: func(_ context.Context, _ string, id transport.Identity, h transport.Handlers, _ *observe.Metrics) (Channel, error) {
			if id.Name != "ada" || id.Language != "en" {
				t.Errorf("identity = %+v, want ada/en", id)
			}
			r.handlers = h
			r.ch = &fakeChannel{open: true}
			// The server acks immediately.
			h.Control(joinedAck())
			return r.ch, nil
		},
	}
	if mutate != nil {
		mutate(&opts)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	co, err := Join(ctx, "ws://test/ws", opts)
	if err != nil {
		t.Fatalf("Join: %v", err)
	}
	t.Cleanup(func() { _ = co.Leave() })
	r.co = co
	return r
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func TestJoinAppliesAck(t *testing.T) {
	r := joinRig(t, nil)

	if !r.co.Ready() {
		t.Error("Ready() = false after ack")
	}
	if got := r.co.RoomName(); got != "lobby" {
		t.Errorf("RoomName = %q, want lobby", got)
	}
	if got := r.co.RoomID(); got != "r1" {
		t.Errorf("RoomID = %q, want r1", got)
	}
	if got := r.co.UserID(); got != "u1" {
		t.Errorf("UserID = %q, want u1", got)
	}
	if users := r.co.Users(); len(users) != 2 || users[1].Name != "bob" {
		t.Errorf("Users = %+v", users)
	}
	if r.co.Recorder() == nil {
		t.Error("Recorder() = nil after join")
	}
}

func TestJoinTimesOutWithoutAck(t *testing.T) {
	device := &capmock.Device{FrameBuffer: 4}
	player := &fakePlayer{}
	var ch *fakeChannel

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	_, err := Join(ctx, "ws://test/ws", Options{
		Name:     "ada",
		Language: "en",
		Device:   device,
		Encoder:  &capmock.Encoder{},
		Player:   player,
		Dial: func(context.Context, string, transport.Identity, transport.Handlers, *observe.Metrics) (Channel, error) {
			ch = &fakeChannel{open: true}
			return ch, nil // never acks
		},
	})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Join err = %v, want deadline exceeded", err)
	}

	// Everything opened on the way in must be torn down again.
	if !device.LastStream().Closed() {
		t.Error("capture stream left open after failed join")
	}
	if ch.Open() {
		t.Error("channel left open after failed join")
	}
	if _, closes := player.counts(); closes != 1 {
		t.Errorf("player closes = %d, want 1", closes)
	}
}

func TestJoinValidatesOptions(t *testing.T) {
	_, err := Join(context.Background(), "ws://test/ws", Options{})
	if err == nil {
		t.Fatal("Join accepted empty options")
	}
}

func TestPushToTalkUtteranceReachesChannel(t *testing.T) {
	r := joinRig(t, nil)
	rec := r.co.Recorder()

	if err := rec.Press(); err != nil {
		t.Fatalf("Press: %v", err)
	}
	r.device.LastStream().Push([]float32{0.5, -0.5})
	if err := rec.Release(); err != nil {
		t.Fatalf("Release: %v", err)
	}

	waitFor(t, func() bool { return len(r.ch.sentAudio()) == 1 })
	if frame := r.ch.sentAudio()[0]; len(frame) == 0 {
		t.Error("sent audio frame is empty")
	}
}

func TestInboundAudioIsPlayed(t *testing.T) {
	r := joinRig(t, nil)

	wav := audio.EncodeWAV(audio.Int16sToBytes([]int16{1, 2, 3}), 16000)
	r.handlers.Audio(wav, protocol.TranslatedAudioMeta{FromUser: "bob"})

	waitFor(t, func() bool {
		plays, _ := r.player.counts()
		return plays == 1
	})
}

func TestRosterFollowsMembershipMessages(t *testing.T) {
	r := joinRig(t, nil)

	r.handlers.Control(protocol.UserJoined{
		Type:     protocol.TypeUserJoined,
		UserName: "eve",
		Language: "de",
		Users:    append(testRoster, protocol.User{ID: "u3", Name: "eve", Language: "de"}),
	})
	if users := r.co.Users(); len(users) != 3 {
		t.Errorf("roster after join = %d users, want 3", len(users))
	}

	r.handlers.Control(protocol.UserLeft{
		Type:     protocol.TypeUserLeft,
		UserName: "bob",
		Users:    testRoster[:1],
	})
	if users := r.co.Users(); len(users) != 1 || users[0].Name != "ada" {
		t.Errorf("roster after leave = %+v", users)
	}
}

func TestChangeLanguage(t *testing.T) {
	r := joinRig(t, nil)

	if err := r.co.ChangeLanguage(context.Background(), "ja"); err != nil {
		t.Fatalf("ChangeLanguage: %v", err)
	}
	if got := r.co.Language(); got != "ja" {
		t.Errorf("Language = %q, want ja", got)
	}

	controls := r.ch.sentControls()
	if len(controls) != 1 {
		t.Fatalf("sent %d control messages, want 1", len(controls))
	}
	cl, ok := controls[0].(protocol.ChangeLanguage)
	if !ok || cl.Language != "ja" {
		t.Errorf("control = %+v, want change_language ja", controls[0])
	}
}

func TestMuteSuppressesUtterancesAndTellsServer(t *testing.T) {
	r := joinRig(t, nil)
	rec := r.co.Recorder()

	if err := r.co.SetMuted(context.Background(), true); err != nil {
		t.Fatalf("SetMuted: %v", err)
	}
	if !r.co.Muted() {
		t.Fatal("Muted = false after SetMuted(true)")
	}
	// Repeated set to the same state sends nothing.
	if err := r.co.SetMuted(context.Background(), true); err != nil {
		t.Fatalf("SetMuted again: %v", err)
	}

	if err := rec.Press(); err != nil {
		t.Fatalf("Press: %v", err)
	}
	r.device.LastStream().Push([]float32{0.5, -0.5})
	if err := rec.Release(); err != nil {
		t.Fatalf("Release: %v", err)
	}

	if err := r.co.SetMuted(context.Background(), false); err != nil {
		t.Fatalf("SetMuted(false): %v", err)
	}

	controls := r.ch.sentControls()
	if len(controls) != 2 {
		t.Fatalf("sent %d control messages, want 2", len(controls))
	}
	if m, ok := controls[0].(protocol.MuteState); !ok || m.Type != "mute" {
		t.Errorf("first control = %+v, want mute", controls[0])
	}
	if m, ok := controls[1].(protocol.MuteState); !ok || m.Type != "unmute" {
		t.Errorf("second control = %+v, want unmute", controls[1])
	}
	if got := len(r.ch.sentAudio()); got != 0 {
		t.Errorf("%d audio frames sent while muted, want 0", got)
	}
}

func TestLeaveTearsDownAndIsIdempotent(t *testing.T) {
	r := joinRig(t, nil)

	if err := r.co.Leave(); err != nil {
		t.Fatalf("Leave: %v", err)
	}
	if !r.device.LastStream().Closed() {
		t.Error("capture stream still open after Leave")
	}
	if r.ch.Open() {
		t.Error("channel still open after Leave")
	}
	if _, closes := r.player.counts(); closes != 1 {
		t.Errorf("player closes = %d, want 1", closes)
	}

	if err := r.co.Leave(); err != nil {
		t.Errorf("second Leave: %v", err)
	}
	if err := r.co.ChangeLanguage(context.Background(), "de"); !errors.Is(err, ErrNotJoined) {
		t.Errorf("ChangeLanguage after Leave err = %v, want ErrNotJoined", err)
	}
}

func TestFeedEventsAreRecorded(t *testing.T) {
	log, err := history.Open(t.TempDir())
	if err != nil {
		t.Fatalf("history.Open: %v", err)
	}
	defer log.Close()

	r := joinRig(t, func(o *Options) { o.History = log })

	r.handlers.Control(protocol.TranslatedAudioMeta{
		Type:           protocol.TypeTranslatedAudioMeta,
		FromUser:       "bob",
		ToLanguage:     "en",
		TranslatedText: "hello",
	})

	events, err := log.Recent(10)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	var kinds []history.EventKind
	for _, ev := range events {
		kinds = append(kinds, ev.Kind)
	}
	if len(events) < 2 {
		t.Fatalf("recorded %d events (%v), want join + translation", len(events), kinds)
	}

	var sawJoin, sawTranslation bool
	for _, ev := range events {
		switch ev.Kind {
		case history.KindJoined:
			sawJoin = ev.Room == "lobby"
		case history.KindTranslation:
			sawTranslation = ev.User == "bob" && ev.Text == "hello"
		}
	}
	if !sawJoin || !sawTranslation {
		t.Errorf("events %v missing join or translation", kinds)
	}
}

func TestNotifyForwardsControlMessages(t *testing.T) {
	var (
		mu   sync.Mutex
		msgs []any
	)
	r := joinRig(t, func(o *Options) {
		o.Notify = func(msg any) {
			mu.Lock()
			msgs = append(msgs, msg)
			mu.Unlock()
		}
	})

	r.handlers.Control(protocol.Transcription{
		Type: protocol.TypeTranscription,
		Text: "guten tag",
	})

	mu.Lock()
	defer mu.Unlock()
	// The joined ack and the transcription both pass through Notify.
	if len(msgs) != 2 {
		t.Fatalf("Notify received %d messages, want 2", len(msgs))
	}
	tr, ok := msgs[1].(protocol.Transcription)
	if !ok || tr.Text != "guten tag" {
		t.Errorf("second message = %+v, want transcription", msgs[1])
	}
}
