// Command zubia is a terminal client for Zubia voice-translation rooms:
// it captures the microphone, ships encoded utterances to the room server,
// and plays back translated audio from the other participants.
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/zubia/zubia/internal/config"
	"github.com/zubia/zubia/internal/health"
	"github.com/zubia/zubia/internal/history"
	"github.com/zubia/zubia/internal/observe"
	"github.com/zubia/zubia/internal/playback"
	"github.com/zubia/zubia/internal/protocol"
	"github.com/zubia/zubia/internal/recorder"
	"github.com/zubia/zubia/internal/rooms"
	"github.com/zubia/zubia/internal/session"
	"github.com/zubia/zubia/pkg/audio/opus"
	"github.com/zubia/zubia/pkg/audio/portaudio"
	"github.com/zubia/zubia/pkg/capture"
)

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	roomName := flag.String("room", "", "room to join (created on the server when missing)")
	userName := flag.String("name", "", "display name (overrides config)")
	language := flag.String("language", "", "speaker language code (overrides config)")
	flag.Parse()

	// .env overlay for server URL overrides; absence of the file is fine.
	_ = godotenv.Load()

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "zubia: config file %q not found — copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "zubia: %v\n", err)
		}
		return 1
	}
	if v := os.Getenv("ZUBIA_SERVER_URL"); v != "" {
		cfg.Server.URL = v
	}
	if *userName != "" {
		cfg.User.Name = *userName
	}
	if *language != "" {
		cfg.User.Language = *language
	}
	if cfg.User.Name == "" {
		fmt.Fprintln(os.Stderr, "zubia: no display name — set user.name in the config or pass -name")
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	logLevel := new(slog.LevelVar)
	logLevel.Set(slogLevel(cfg.LogLevel))
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel})))

	slog.Info("zubia starting",
		"config", *configPath,
		"server", cfg.Server.URL,
		"name", cfg.User.Name,
		"language", cfg.User.Language,
		"mode", cfg.Recording.Mode,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	shutdownTelemetry, err := observe.InitProvider(ctx, observe.ProviderConfig{ServiceName: "zubia"})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTelemetry(shutdownCtx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()
	metrics := observe.DefaultMetrics()

	// ── Room directory ────────────────────────────────────────────────────────
	directory := rooms.New(cfg.Server.URL)
	available, err := directory.ListRooms(ctx)
	if err != nil {
		slog.Warn("room listing failed", "err", err)
	}
	if *roomName == "" {
		printRooms(available, directory.Languages(ctx))
		fmt.Fprintln(os.Stderr, "zubia: pass -room to join one")
		return 1
	}
	room, err := pickRoom(ctx, directory, available, *roomName)
	if err != nil {
		slog.Error("room selection failed", "room", *roomName, "err", err)
		return 1
	}

	// ── Audio devices ─────────────────────────────────────────────────────────
	if err := portaudio.Init(); err != nil {
		slog.Error("audio subsystem init failed", "err", err)
		return 1
	}
	defer func() {
		if err := portaudio.Terminate(); err != nil {
			slog.Warn("audio subsystem terminate error", "err", err)
		}
	}()

	encoder, err := opus.NewBlobEncoder()
	if err != nil {
		slog.Error("opus encoder init failed", "err", err)
		return 1
	}

	// ── History (optional) ────────────────────────────────────────────────────
	var feed *history.Log
	if cfg.History.Enabled {
		feed, err = history.Open(cfg.History.Dir)
		if err != nil {
			slog.Error("history store open failed", "dir", cfg.History.Dir, "err", err)
			return 1
		}
		defer feed.Close()
	}

	// ── Join the room ─────────────────────────────────────────────────────────
	endpoint, err := wsEndpoint(cfg.Server.URL, room.ID)
	if err != nil {
		slog.Error("bad server url", "url", cfg.Server.URL, "err", err)
		return 1
	}

	constraints := capture.DefaultConstraints()
	constraints.EchoCancellation = cfg.Recording.EchoCancellation
	constraints.NoiseSuppression = cfg.Recording.NoiseSuppression

	dialTimeout := time.Duration(cfg.Server.DialTimeoutMS) * time.Millisecond
	if dialTimeout <= 0 {
		dialTimeout = 10 * time.Second
	}
	joinCtx, cancelJoin := context.WithTimeout(ctx, dialTimeout)
	co, err := session.Join(joinCtx, endpoint, session.Options{
		Name:        cfg.User.Name,
		Language:    cfg.User.Language,
		Device:      portaudio.NewDevice(),
		Constraints: constraints,
		Encoder:     encoder,
		Player:      portaudio.NewPlayer(),
		Metrics:     metrics,
		History:     feed,
		Notify:      printFeedMessage,
		RecorderOptions: []recorder.Option{
			recorder.WithInterval(time.Duration(cfg.Recording.ChunkIntervalMS) * time.Millisecond),
			recorder.WithGrace(time.Duration(cfg.Recording.GraceMS) * time.Millisecond),
		},
		PlaybackOptions: playbackOptions(cfg),
	})
	cancelJoin()
	if err != nil {
		slog.Error("failed to join room", "room", room.Name, "err", err)
		return 1
	}
	co.SetVolume(cfg.Playback.Volume)
	co.SetMode(recorderMode(cfg.Recording.Mode))

	printStartupSummary(cfg, room, co)

	// ── Config hot reload ─────────────────────────────────────────────────────
	watcher, err := config.NewWatcher(*configPath, func(old, new *config.Config) {
		applyConfigChange(ctx, co, logLevel, config.Diff(old, new))
	})
	if err != nil {
		slog.Warn("config watcher unavailable", "err", err)
	} else {
		defer watcher.Stop()
	}

	// ── Metrics server (optional) ─────────────────────────────────────────────
	g, gctx := errgroup.WithContext(ctx)
	if cfg.Metrics.Enabled {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		health.New().Register(mux)

		srv := &http.Server{
			Addr:    cfg.Metrics.ListenAddr,
			Handler: observe.Middleware(metrics)(mux),
		}
		g.Go(func() error {
			slog.Info("metrics server listening", "addr", cfg.Metrics.ListenAddr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	// ── Interactive loop ──────────────────────────────────────────────────────
	slog.Info("joined — press Enter to talk, /help for commands, Ctrl+C to leave")

	lines := readLines(os.Stdin)
	running := true
	for running {
		select {
		case <-gctx.Done():
			running = false
		case line, ok := <-lines:
			if !ok {
				running = false
				break
			}
			if handleCommand(ctx, co, feed, line) {
				running = false
			}
		}
	}
	stop()

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	slog.Info("leaving room…")
	if err := co.Leave(); err != nil {
		slog.Warn("leave error", "err", err)
	}
	if err := g.Wait(); err != nil {
		slog.Error("run error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// ── Room selection ────────────────────────────────────────────────────────────

// pickRoom resolves name against the listed rooms, creating the room on the
// server when no existing room matches.
func pickRoom(ctx context.Context, directory *rooms.Client, available []rooms.Room, name string) (rooms.Room, error) {
	for _, r := range available {
		if strings.EqualFold(r.Name, name) {
			return r, nil
		}
	}
	room, err := directory.CreateRoom(ctx, name)
	if err != nil {
		return rooms.Room{}, err
	}
	slog.Info("room created", "room", room.Name, "id", room.ID)
	return room, nil
}

func printRooms(available []rooms.Room, languages []rooms.Language) {
	if len(available) == 0 {
		fmt.Println("No rooms on the server yet.")
	} else {
		fmt.Println("Rooms:")
		for _, r := range available {
			fmt.Printf("  %-20s %d participant(s)\n", r.Name, r.Participants)
		}
	}
	fmt.Print("Languages:")
	for _, l := range languages {
		fmt.Printf(" %s", l.Code)
	}
	fmt.Println()
}

// wsEndpoint derives the room websocket URL from the server base URL.
func wsEndpoint(base, roomID string) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = "/ws/" + roomID
	return u.String(), nil
}

// ── Interactive commands ──────────────────────────────────────────────────────

// readLines streams stdin lines on a channel so the main loop can also
// watch the signal context. Closed at EOF.
func readLines(r *os.File) <-chan string {
	lines := make(chan string)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(r)
		for sc.Scan() {
			lines <- strings.TrimSpace(sc.Text())
		}
	}()
	return lines
}

// handleCommand applies one line of user input. Returns true when the user
// asked to quit.
func handleCommand(ctx context.Context, co *session.Coordinator, feed *history.Log, line string) bool {
	rec := co.Recorder()
	cmd, arg, _ := strings.Cut(line, " ")
	switch cmd {
	case "":
		// Enter toggles the current gesture: streaming on/off, or
		// push-to-talk press/release.
		var err error
		if rec.Mode() == recorder.Streaming {
			err = rec.Toggle()
		} else if rec.State() == recorder.Idle {
			err = rec.Press()
			if err == nil {
				fmt.Println("· talking — press Enter again to send")
			}
		} else {
			err = rec.Release()
		}
		if err != nil {
			fmt.Printf("recording: %v\n", err)
		}
	case "/mode":
		switch config.RecordingMode(arg) {
		case config.ModeStreaming:
			co.SetMode(recorder.Streaming)
		case config.ModePushToTalk:
			co.SetMode(recorder.PushToTalk)
		default:
			fmt.Printf("unknown mode %q (streaming, push_to_talk)\n", arg)
		}
	case "/lang":
		if arg == "" {
			fmt.Printf("language: %s\n", co.Language())
			break
		}
		if err := co.ChangeLanguage(ctx, arg); err != nil {
			fmt.Printf("language: %v\n", err)
		}
	case "/vol":
		if arg == "" {
			fmt.Printf("volume: %.2f\n", co.Volume())
			break
		}
		v, err := strconv.ParseFloat(arg, 64)
		if err != nil {
			fmt.Printf("volume: %v\n", err)
			break
		}
		co.SetVolume(v)
	case "/mute":
		if err := co.SetMuted(ctx, true); err != nil {
			fmt.Printf("mute: %v\n", err)
		}
	case "/unmute":
		if err := co.SetMuted(ctx, false); err != nil {
			fmt.Printf("unmute: %v\n", err)
		}
	case "/who":
		for _, u := range co.Users() {
			muted := ""
			if u.IsMuted {
				muted = " (muted)"
			}
			fmt.Printf("  %s [%s]%s\n", u.Name, u.Language, muted)
		}
	case "/feed":
		printRecent(feed, arg)
	case "/help":
		fmt.Print(commandHelp)
	case "/quit", "/q":
		return true
	default:
		fmt.Printf("unknown command %q — /help lists commands\n", cmd)
	}
	return false
}

const commandHelp = `  Enter          start/stop talking
  /mode <m>      switch recording mode (streaming, push_to_talk)
  /lang [code]   show or change your language
  /vol [0..1]    show or change playback volume
  /mute /unmute  toggle outgoing audio
  /who           list participants
  /feed [n]      show recent feed entries
  /quit          leave the room
`

func printRecent(feed *history.Log, arg string) {
	if feed == nil {
		fmt.Println("history is disabled (history.enabled: false)")
		return
	}
	n := 10
	if arg != "" {
		if v, err := strconv.Atoi(arg); err == nil && v > 0 {
			n = v
		}
	}
	events, err := feed.Recent(n)
	if err != nil {
		fmt.Printf("feed: %v\n", err)
		return
	}
	for i := len(events) - 1; i >= 0; i-- {
		ev := events[i]
		switch ev.Kind {
		case history.KindTranscription:
			fmt.Printf("  %s  you: %s\n", ev.At.Format("15:04:05"), ev.Text)
		case history.KindTranslation:
			fmt.Printf("  %s  %s: %s\n", ev.At.Format("15:04:05"), ev.User, ev.Text)
		default:
			fmt.Printf("  %s  [%s] %s\n", ev.At.Format("15:04:05"), ev.Kind, ev.User)
		}
	}
}

// ── Feed rendering ────────────────────────────────────────────────────────────

// printFeedMessage renders inbound control traffic the way the feed view
// does. Runs on the transport read goroutine, so it only prints.
func printFeedMessage(msg any) {
	switch m := msg.(type) {
	case protocol.UserJoined:
		fmt.Printf("→ %s joined [%s]\n", m.UserName, m.Language)
	case protocol.UserLeft:
		fmt.Printf("← %s left\n", m.UserName)
	case protocol.Transcription:
		fmt.Printf("you [%s]: %s\n", m.Language, m.Text)
	case protocol.TranslatedAudioMeta:
		fmt.Printf("%s [%s→%s]: %s\n", m.FromUser, m.FromLanguage, m.ToLanguage, m.TranslatedText)
	}
}

// ── Config hot reload ─────────────────────────────────────────────────────────

func applyConfigChange(ctx context.Context, co *session.Coordinator, logLevel *slog.LevelVar, diff config.ConfigDiff) {
	if diff.Empty() {
		return
	}
	if diff.LogLevelChanged {
		logLevel.Set(slogLevel(diff.NewLogLevel))
		slog.Info("log level changed", "level", diff.NewLogLevel)
	}
	if diff.VolumeChanged {
		co.SetVolume(diff.NewVolume)
		slog.Info("playback volume changed", "volume", diff.NewVolume)
	}
	if diff.LanguageChanged {
		if err := co.ChangeLanguage(ctx, diff.NewLanguage); err != nil {
			slog.Warn("language change failed", "err", err)
		}
	}
	if diff.ModeChanged {
		co.SetMode(recorderMode(diff.NewMode))
		slog.Info("recording mode changed", "mode", diff.NewMode)
	}
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(cfg *config.Config, room rooms.Room, co *session.Coordinator) {
	fmt.Println("╔═══════════════════════════════════════╗")
	fmt.Println("║           Zubia — session             ║")
	fmt.Println("╠═══════════════════════════════════════╣")
	printField("Room", room.Name)
	printField("Name", cfg.User.Name)
	printField("Language", cfg.User.Language)
	printField("Mode", string(cfg.Recording.Mode))
	printField("Participants", strconv.Itoa(len(co.Users())))
	if cfg.Metrics.Enabled {
		printField("Metrics", cfg.Metrics.ListenAddr)
	}
	if cfg.History.Enabled {
		printField("History", cfg.History.Dir)
	}
	fmt.Println("╚═══════════════════════════════════════╝")
}

func printField(name, value string) {
	if len(value) > 22 {
		value = value[:19] + "…"
	}
	fmt.Printf("║  %-12s : %-22s ║\n", name, value)
}

// ── Helpers ───────────────────────────────────────────────────────────────────

func playbackOptions(cfg *config.Config) []playback.Option {
	var opts []playback.Option
	if cfg.Playback.OutputSampleRate > 0 {
		opts = append(opts, playback.WithOutputRate(cfg.Playback.OutputSampleRate))
	}
	return opts
}

func recorderMode(m config.RecordingMode) recorder.Mode {
	if m == config.ModePushToTalk {
		return recorder.PushToTalk
	}
	return recorder.Streaming
}

func slogLevel(level config.LogLevel) slog.Level {
	switch level {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
