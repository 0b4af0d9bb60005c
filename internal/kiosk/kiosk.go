// Package kiosk wires the microphone, the intent pipeline and the speaker
// together and exposes them to the control socket and the UI bus.
package kiosk

import (
	"context"
	"errors"
	"fmt"
	"io"
	log "log/slog"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"kiosk/internal/api"
	"kiosk/internal/audio"
	"kiosk/internal/domain"
	"kiosk/internal/mic"
	"kiosk/internal/nlu"
	"kiosk/internal/scene"
	"kiosk/internal/session"
)

var (
	ErrNoSession     = errors.New("no access code configured")
	ErrCloudDisabled = errors.New("voice features are disabled for this user")
)

// Recorder is the capture side of audio.Recorder.
type Recorder interface {
	Start(ctx context.Context, owner domain.Owner) (*audio.Session, error)
	Stop(ctx context.Context, s *audio.Session) (domain.Clip, error)
	Abort(ctx context.Context, s *audio.Session) error
	Active(owner domain.Owner) *audio.Session
}

// Player is the playback side of audio.PlaybackManager.
type Player interface {
	Play(ctx context.Context, r io.Reader, mime string) error
	PlayData(data []byte, mime string) error
	Stop()
	Playing() bool
}

// Server is the part of the kiosk server the hooks call.
type Server interface {
	session.ProfileFetcher
	StartCall(ctx context.Context, token, contactID string) error
	TextToSpeech(ctx context.Context, token, text string) (*api.Speech, error)
}

// Publisher sends events to the UI shell.
type Publisher interface {
	Publish(ctx context.Context, kind, content string, data any) error
}

type Notifier interface {
	Notify(ctx context.Context, n domain.Notification)
}

// Cue is a short sound played when a recording ends.
type Cue interface {
	Play()
}

type Permission interface {
	State() domain.PermissionState
}

type Deps struct {
	Recorder   Recorder
	Machine    *mic.Machine
	Permission Permission
	Recognizer nlu.Recognizer
	Server     Server
	Player     Player
	Session    *session.Context
	Scenes     *scene.Carousel
	Events     Publisher
	Notifier   Notifier
	Cue        Cue
}

type Options struct {
	ClipsDir string
	// RecognizeTimeout bounds one recognition round trip.
	RecognizeTimeout time.Duration
	TTSCache         int
}

type speech struct {
	data []byte
	mime string
}

// Kiosk owns the voice interaction of one kiosk.
type Kiosk struct {
	Deps
	opts  Options
	cache *lru.Cache[string, speech]

	wg sync.WaitGroup
}

func New(deps Deps, opts Options) (*Kiosk, error) {
	if opts.TTSCache <= 0 {
		opts.TTSCache = 32
	}
	if opts.RecognizeTimeout <= 0 {
		opts.RecognizeTimeout = api.DefaultTimeout
	}
	cache, err := lru.New[string, speech](opts.TTSCache)
	if err != nil {
		return nil, fmt.Errorf("tts cache: %w", err)
	}
	if deps.Scenes == nil {
		deps.Scenes = scene.NewCarousel(scene.Defaults)
	}

	k := &Kiosk{Deps: deps, opts: opts, cache: cache}
	if p, ok := deps.Session.Profile(); ok {
		k.ApplyProfile(p)
	}
	return k, nil
}

// ApplyProfile pushes a freshly loaded profile into the scene list.
func (k *Kiosk) ApplyProfile(p domain.UserProfile) {
	if k.Scenes.SetUserBackgrounds(p.Backgrounds) {
		log.Info("Scenes updated", "name", p.Name, "scenes", k.Scenes.Len())
	}
}

// Refresh reloads the profile from the server.
func (k *Kiosk) Refresh(ctx context.Context) error {
	if err := k.Session.Refresh(ctx, k.Server); err != nil {
		return err
	}
	if p, ok := k.Session.Profile(); ok {
		k.ApplyProfile(p)
	}
	return nil
}

// Status is a snapshot for the control socket.
func (k *Kiosk) Status() domain.Status {
	owners := make(map[domain.Owner]string)
	for o, s := range k.Machine.Snapshot() {
		owners[o] = string(s)
	}
	idx, _ := k.Scenes.Current()
	st := domain.Status{
		Permission: k.Permission.State(),
		Blocked:    k.Machine.Blocked(),
		Owners:     owners,
		Playing:    k.Player.Playing(),
		Scene:      idx,
		Scenes:     k.Scenes.Len(),
	}
	if p, ok := k.Session.Profile(); ok {
		st.User = p.Name
	}
	return st
}

// Wait blocks until recordings that stopped on their own are processed.
func (k *Kiosk) Wait() { k.wg.Wait() }

func (k *Kiosk) notify(ctx context.Context, n domain.Notification) {
	if k.Notifier != nil {
		k.Notifier.Notify(ctx, n)
	}
}

func (k *Kiosk) notifyErr(ctx context.Context, err error) {
	de := domain.Normalize(err)
	log.Error("Voice interaction failed", "kind", de.Kind, "err", de)
	k.notify(ctx, de.Notification())
}

func (k *Kiosk) publish(ctx context.Context, kind, content string, data any) {
	if k.Events == nil {
		return
	}
	if err := k.Events.Publish(ctx, kind, content, data); err != nil {
		log.Debug("Failed to publish event", "kind", kind, "err", err)
	}
}
