package main

import (
	"context"
	"errors"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	cli "github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/lmittmann/tint"
	log "log/slog"

	openai "github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"

	"kiosk/internal/api"
	"kiosk/internal/audio"
	"kiosk/internal/bus"
	"kiosk/internal/config"
	"kiosk/internal/ipc"
	"kiosk/internal/kiosk"
	"kiosk/internal/mic"
	"kiosk/internal/nlu"
	"kiosk/internal/notify"
	"kiosk/internal/proxy"
	"kiosk/internal/scene"
	"kiosk/internal/session"
)

var logLevelMap = map[string]log.Level{
	"debug": log.LevelDebug,
	"info":  log.LevelInfo,
	"warn":  log.LevelWarn,
	"error": log.LevelError,
}

func main() {
	envFile := cli.StringP("env", "e", ".env", "Env file path")
	logLevel := cli.StringP("log", "l", "info", "Log level")
	logFile := cli.String("log-file", "", "Also write logs to this file (rotated)")
	intent := cli.String("intent", "", "Intent backend: remote or openai (overrides KIOSK_INTENT_BACKEND)")
	proxyAddr := cli.StringP("proxy", "p", "", "Socks5 proxy address for server requests")
	desktop := cli.Bool("desktop", false, "Also show notifications on the desktop")
	cli.Parse()

	setupLogging(*logLevel, *logFile)

	log.Info("Booting up")

	if err := godotenv.Load(*envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Warn("Failed to read env file", "path", *envFile, "err", err)
	}
	if *intent != "" {
		os.Setenv("KIOSK_INTENT_BACKEND", *intent)
	}
	if *proxyAddr != "" {
		os.Setenv("KIOSK_SOCKS_PROXY", *proxyAddr)
	}

	cfg, err := config.Load()
	if err != nil {
		log.Error("Invalid configuration", "err", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, *desktop); err != nil {
		log.Error("Daemon stopped", "err", err)
		os.Exit(1)
	}
	log.Info("Bye")
}

func setupLogging(level, file string) {
	var w io.Writer = os.Stdout
	noColor := false
	if file != "" {
		w = io.MultiWriter(os.Stdout, &lumberjack.Logger{
			Filename:   file,
			MaxSize:    10,
			MaxBackups: 3,
			MaxAge:     28,
		})
		noColor = true
	}

	log.SetDefault(log.New(tint.NewHandler(w, &tint.Options{
		Level:      logLevelMap[level],
		NoColor:    noColor,
		TimeFormat: time.DateTime,
	})))
}

func run(ctx context.Context, cfg config.Config, desktop bool) error {
	httpClient, err := proxy.NewHTTPClient(cfg.Server.Proxy, 0)
	if err != nil {
		return err
	}
	server := api.New(cfg.Server.URL, httpClient, cfg.Server.RequestTimeout)

	log.Debug("Loaded api client", "url", cfg.Server.URL)

	device := audio.NewDevice()
	defer device.Close()

	machine := mic.NewMachine()
	gate := mic.NewGate(device, machine)
	gate.RequestAccess(ctx)

	spk, err := audio.NewSpeaker(cfg.Audio.OutputRate)
	if err != nil {
		return err
	}
	player := audio.NewPlaybackManager(spk)

	var cue kiosk.Cue
	recOpts := []audio.RecorderOption{audio.WithReevaluator(gate)}
	if cfg.Paths.Earcon != "" {
		earcon, err := notify.LoadEarcon(cfg.Paths.Earcon, spk)
		if err != nil {
			log.Warn("Failed to load earcon", "path", cfg.Paths.Earcon, "err", err)
		} else {
			cue = earcon
			recOpts = append(recOpts, audio.WithCue(earcon))
		}
	}
	if cfg.Audio.Duck {
		recOpts = append(recOpts, audio.WithDucker(audio.NewPulseDucker(audio.DuckConfig{
			Skip:  []string{"kiosk", "kiosk-daemon"},
			Floor: 10,
			Fade:  150 * time.Millisecond,
		})))
	}
	recorder := audio.NewRecorder(device, machine, audio.RecorderConfig{
		Capture:     audio.CaptureConfig{SampleRate: cfg.Audio.SampleRate, Channels: 1},
		MaxDuration: cfg.Audio.MaxRecord,
	}, recOpts...)

	log.Debug("Loaded recorder")

	sess, err := session.Load(session.NewFileStore(cfg.Paths.StateFile), cfg.Server.OTC, api.IsForbidden)
	if err != nil {
		return err
	}
	if !sess.Active() {
		log.Warn("No access code yet, set KIOSK_OTC to pair this kiosk")
	}

	var recognizer nlu.Recognizer = nlu.NewRemote(server)
	if cfg.Intent.Backend == config.BackendOpenAI {
		recognizer = nlu.NewOpenAI(openai.NewClient(
			option.WithAPIKey(cfg.Intent.APIKey),
			option.WithHTTPClient(httpClient),
		), cfg.Intent.Model)
	}
	log.Debug("Loaded intent backend", "backend", cfg.Intent.Backend)

	var (
		events  kiosk.Publisher
		toaster notify.Toaster
		ui      *bus.Bus
	)
	if cfg.Bus.URL != "" {
		ui = bus.New(cfg.Bus.URL, cfg.Bus.Name, cfg.Bus.Reconnect)
		events, toaster = ui, ui
	}

	k, err := kiosk.New(kiosk.Deps{
		Recorder:   recorder,
		Machine:    machine,
		Permission: gate,
		Recognizer: recognizer,
		Server:     server,
		Player:     player,
		Session:    sess,
		Scenes:     scene.NewCarousel(scene.Defaults),
		Events:     events,
		Notifier:   notify.New(toaster, desktop, ""),
		Cue:        cue,
	}, kiosk.Options{
		ClipsDir:         cfg.Paths.ClipsDir,
		RecognizeTimeout: cfg.Server.RequestTimeout,
		TTSCache:         cfg.TTSCache,
	})
	if err != nil {
		return err
	}

	log.Info("Boot up - successful")

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return ipc.Serve(ctx, cfg.Paths.Socket, k.HandleControl)
	})
	g.Go(func() error {
		return sess.RefreshEvery(ctx, server, cfg.Server.ProfileRefresh, k.ApplyProfile)
	})
	if ui != nil {
		g.Go(func() error {
			return ui.Run(ctx, k.HandleEvent)
		})
	}

	err = g.Wait()

	shutdown, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_ = k.Abort(shutdown)
	k.Wait()
	return err
}
