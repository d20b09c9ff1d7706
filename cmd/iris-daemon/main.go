package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	cli "github.com/spf13/pflag"

	"github.com/lmittmann/tint"
	log "log/slog"

	openai "github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"

	"iris/internal/assistant"
	"iris/internal/audio"
	"iris/internal/bus"
	"iris/internal/camera/cv"
	"iris/internal/chat"
	"iris/internal/config"
	"iris/internal/ipc"
	"iris/internal/listen"
	"iris/internal/notify"
	"iris/internal/proxy"
	"iris/internal/session"
	"iris/internal/tts"
	"iris/internal/tts/espeak"
	"iris/internal/vision"
	"iris/pkg/stt"
	"iris/pkg/util"
)

type daemon struct {
	cfg       config.Config
	assistant *assistant.Assistant
	session   *session.Session
	listener  *listen.Listener
	voice     *tts.Queue
	hub       *bus.Bus
	srv       *ipc.Server

	// released only once nothing records or transcribes
	rec *audio.Recorder
	stt *stt.Transcriber

	mu         sync.Mutex // one command at a time
	quit       context.CancelFunc
	conversing chan struct{} // closed when the continuous loop exits
}

// audioReleaseTimeout covers the longest recording plus a transcription.
const audioReleaseTimeout = 15 * time.Second

func main() {
	cfg := config.Default()
	cfg.RegisterFlags(cli.CommandLine)
	cli.Parse()

	log.SetDefault(log.New(tint.NewHandler(os.Stdout, &tint.Options{
		Level:      config.LogLevels[cfg.LogLevel],
		TimeFormat: time.TimeOnly,
	})))

	log.Info("Booting up")

	cfg.LoadEnv()
	if err := cfg.Validate(); err != nil {
		log.Error("Invalid configuration", "err", err)
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	d, err := boot(ctx, cfg, cancel)
	if err != nil {
		log.Error("Boot up failed", "err", err)
		os.Exit(1)
	}
	defer d.shutdown()

	log.Info("Boot up - successful")

	d.say("Hello! I'm Iris. Ask me to open the camera or what I can see.")

	if cfg.Continuous {
		d.conversing = make(chan struct{})
		go d.converse(ctx, d.conversing)
	}

	<-ctx.Done()
	log.Info("Shutting down")
}

func boot(ctx context.Context, cfg config.Config, quit context.CancelFunc) (*daemon, error) {
	d := &daemon{cfg: cfg, quit: quit}

	httpClient, err := proxy.NewClient(cfg.Proxy)
	if err != nil {
		return nil, fmt.Errorf("dial socks proxy %q: %w", cfg.Proxy, err)
	}

	log.Debug("Loaded proxy", "proxy", cfg.Proxy)

	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithHTTPClient(httpClient),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	client := openai.NewClient(opts...)

	log.Debug("Loaded model client", "model", cfg.Model, "base_url", cfg.BaseURL)

	if cfg.Bus != "" {
		d.hub, err = bus.Dial(ctx, cfg.Bus, 64)
		if err != nil {
			log.Warn("Running without bus", "url", cfg.Bus, "err", err)
		} else {
			go d.serveBus(ctx)
		}
	}

	var ducker tts.Ducker
	if cfg.Duck {
		ducker = audio.NewDucker(audio.DefaultDuckConfig())
	}
	d.voice = tts.NewQueue(espeak.Espeak{Language: cfg.Voice}, 8, ducker)

	d.session = session.New(
		cv.NewOpener(cfg.Width, cfg.Height, cfg.FPS),
		d.sessionConfig(),
		d.sessionOptions()...,
	)

	d.assistant = assistant.New(
		d.session,
		vision.NewOpenAIDescriber(client, cfg.Model, cfg.MaxTokens),
		chat.NewConversation(chat.NewOpenAI(client, cfg.Model, cfg.MaxTokens), chat.Preamble, cfg.History),
		vision.SpeakerFunc(d.say),
		assistant.WithPhotoDir(cfg.PhotoDir),
		assistant.WithMaxInput(cfg.MaxInput),
	)

	rec := audio.NewRecorder(audio.DefaultRecorderConfig())
	if err := rec.Init(); err != nil {
		return nil, fmt.Errorf("init audio: %w", err)
	}

	log.Debug("Loaded recorder")

	opt := stt.DefaultOptions()
	opt.Language = cfg.Language
	d.rec = rec

	whisper, err := stt.NewTranscriber(cfg.WhisperModel, opt)
	if err != nil {
		rec.Close()
		return nil, fmt.Errorf("init whisper: %w", err)
	}

	d.stt = whisper

	log.Debug("Loaded whisper", "model", cfg.WhisperModel)

	d.listener = listen.New(rec, listen.TranscriberFunc(func(ctx context.Context, pcm []float32) (string, error) {
		res, err := whisper.Transcribe(ctx, pcm)
		return res.Text, err
	}), d.cue, 60*time.Second)

	d.srv, err = ipc.Listen(cfg.Socket, d.control)
	if err != nil {
		whisper.Close()
		rec.Close()
		return nil, fmt.Errorf("ipc server: %w", err)
	}

	return d, nil
}

func (d *daemon) sessionConfig() session.Config {
	sc := session.DefaultConfig()
	sc.Camera.DeviceIndices = d.cfg.Devices
	sc.Vision.SampleInterval = d.cfg.VisionEvery
	sc.NarrationInterval = d.cfg.NarrateEvery
	return sc
}

func (d *daemon) sessionOptions() []session.Option {
	opts := []session.Option{
		session.WithEventHook(func(e session.Event) {
			log.Info("Camera state", "event", e.Kind)
			d.publish(bus.KindState, e.Kind.String())
		}),
		session.WithObservationHook(func(obs *vision.Observation) {
			if d.hub != nil {
				d.hub.Send(&bus.Message{
					From:    bus.Name,
					Kind:    bus.KindObservation,
					Content: obs.Description,
					Time:    obs.Timestamp,
					Regions: len(obs.Regions),
				})
			}
		}),
	}

	if d.cfg.CascadePath != "" {
		det, err := cv.NewCascadeDetector(d.cfg.CascadePath)
		if err != nil {
			log.Warn("Region detection disabled", "cascade", d.cfg.CascadePath, "err", err)
		} else {
			opts = append(opts, session.WithDetector(det))
		}
	}

	if d.cfg.Preview {
		opts = append(opts, session.WithPreview(cv.NewPreview("Iris")))
	}

	return opts
}

// say voices text and mirrors it to the hub.
func (d *daemon) say(text string) {
	d.voice.Say(text)
	d.publish(bus.KindReply, text)
}

func (d *daemon) publish(kind, content string) {
	if d.hub != nil {
		d.hub.Publish(kind, content)
	}
}

func (d *daemon) cue() {
	if d.cfg.BeepPath != "" {
		if err := notify.Beep(d.cfg.BeepPath); err != nil {
			log.Warn("Failed to play cue", "err", err)
		}
	}
	if err := notify.SwayNotify("Listening..."); err != nil {
		log.Debug("Failed to notify", "err", err)
	}
}

// handle runs one utterance and stops the daemon when it was a goodbye.
func (d *daemon) handle(ctx context.Context, text string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	log.Info("You said", "text", text)

	if d.assistant.Handle(ctx, text) {
		d.quit()
	}
}

func (d *daemon) hear(ctx context.Context) error {
	text, err := d.listener.Listen(ctx)
	if err != nil {
		return err
	}

	d.handle(ctx, text)

	return nil
}

func (d *daemon) converse(ctx context.Context, done chan<- struct{}) {
	defer close(done)

	for ctx.Err() == nil {
		err := d.hear(ctx)
		switch {
		case err == nil, errors.Is(err, listen.ErrNothingHeard):
		case errors.Is(err, context.Canceled), errors.Is(err, listen.ErrClosed):
			return
		case errors.Is(err, listen.ErrBusy):
			time.Sleep(100 * time.Millisecond)
		default:
			log.Error("Failed to listen", "err", err)
			time.Sleep(time.Second)
		}
	}
}

func (d *daemon) control(msg ipc.ControlMessage) ipc.Reply {
	ctx := context.Background()

	switch msg.Cmd {
	case ipc.CmdTrigger:
		if d.cfg.Continuous {
			return ipc.Reply{Error: "already listening continuously"}
		}
		if err := d.hear(ctx); err != nil {
			if errors.Is(err, listen.ErrNothingHeard) {
				d.say("Sorry, I didn't catch that.")
			}
			return ipc.Reply{Error: err.Error()}
		}
	case ipc.CmdSay:
		d.handle(ctx, msg.Text)
	case ipc.CmdFile:
		text, err := d.listener.File(ctx, msg.Text)
		if err != nil {
			return ipc.Reply{Error: err.Error()}
		}
		d.handle(ctx, text)
		return ipc.Reply{OK: true, Text: text}
	case ipc.CmdStatus:
		return ipc.Reply{OK: true, Text: d.status()}
	default:
		log.Warn("Unknown command", "cmd", msg.Cmd)
		return ipc.Reply{Error: fmt.Sprintf("unknown command %q", msg.Cmd)}
	}

	return ipc.Reply{OK: true}
}

func (d *daemon) status() string {
	s := d.session
	desc, _ := s.LatestDescription()
	return fmt.Sprintf("camera=%t analyzing=%t narrating=%t ocr=%t regions=%d latest=%q",
		s.IsActive(), s.IsAnalyzing(), s.IsAutoNarrating(), s.OCREnabled(), s.DetectedRegionCount(), desc)
}

func (d *daemon) serveBus(ctx context.Context) {
	err := d.hub.Run(ctx, func(m *bus.Message) {
		go d.handle(ctx, m.Content)
	})
	if err != nil && !errors.Is(err, bus.ErrClosed) {
		log.Error("Bus connection lost", "err", err)
	}
}

func (d *daemon) shutdown() {
	if err := d.srv.Close(); err != nil {
		log.Warn("Failed to close control socket", "err", err)
	}

	if !util.WaitTimeout(d.conversing, audioReleaseTimeout) {
		log.Warn("Listening loop did not exit in time")
	}

	// portaudio and whisper must outlive every recording and transcription
	if d.listener.Close(audioReleaseTimeout) {
		d.stt.Close()
		d.rec.Close()
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.session.Stop() {
		log.Warn("Camera did not stop cleanly")
	}

	if !d.voice.Close(5 * time.Second) {
		log.Warn("Speech queue did not drain in time")
	}

	if d.hub != nil {
		d.hub.Close()
	}

	log.Info("Goodbye")
}
