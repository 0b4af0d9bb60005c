package audio

import (
	"context"
	"errors"
	"fmt"
	log "log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"kiosk/internal/domain"
	"kiosk/internal/mic"
)

// EncodeFunc turns captured PCM into a transportable clip.
type EncodeFunc func(pcm []int16, sampleRate, channels int) ([]byte, error)

// Ducker lowers other applications while the microphone is open.
type Ducker interface {
	Duck(ctx context.Context) error
	Restore(ctx context.Context) error
}

const cueTimeout = 2 * time.Second

// Cue is played to completion right before the microphone opens.
type Cue interface {
	PlayWait(ctx context.Context)
}

// Reevaluator re-checks the microphone permission after a capture failure.
type Reevaluator interface {
	Reevaluate(ctx context.Context) domain.PermissionState
}

type RecorderConfig struct {
	Capture     CaptureConfig
	MaxDuration time.Duration
}

type RecorderOption func(*Recorder)

func WithEncoder(fn EncodeFunc) RecorderOption { return func(r *Recorder) { r.encode = fn } }

func WithDucker(d Ducker) RecorderOption { return func(r *Recorder) { r.ducker = d } }

func WithReevaluator(g Reevaluator) RecorderOption { return func(r *Recorder) { r.gate = g } }

func WithCue(c Cue) RecorderOption { return func(r *Recorder) { r.cue = c } }

// Session is one in-progress capture.
type Session struct {
	ID        string
	Owner     domain.Owner
	StartedAt time.Time

	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}

	pcm []int16
	err error

	claimed atomic.Bool
}

// Done is closed once capture has ended, either on request or because the
// maximum duration was reached or the stream failed.
func (s *Session) Done() <-chan struct{} { return s.done }

// Claim returns true to its first caller only. Start hands the running
// session to every caller, and the one that claims it drives it.
func (s *Session) Claim() bool { return s.claimed.CompareAndSwap(false, true) }

func (s *Session) halt() {
	s.stopOnce.Do(func() { close(s.stop) })
}

// Recorder owns the capture lifecycle of every owner. Exclusivity is decided
// by the mic.Machine.
type Recorder struct {
	capture Capture
	machine *mic.Machine
	cfg     RecorderConfig
	encode  EncodeFunc
	ducker  Ducker
	gate    Reevaluator
	cue     Cue

	mu     sync.Mutex
	active map[domain.Owner]*Session
}

func NewRecorder(capture Capture, machine *mic.Machine, cfg RecorderConfig, opts ...RecorderOption) *Recorder {
	cfg.Capture = cfg.Capture.withDefaults()
	if cfg.MaxDuration <= 0 {
		cfg.MaxDuration = 30 * time.Second
	}

	r := &Recorder{
		capture: capture,
		machine: machine,
		cfg:     cfg,
		encode:  EncodeWAV,
		active:  make(map[domain.Owner]*Session),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Start begins capturing for owner. Starting an owner that is already
// recording returns its current session.
func (r *Recorder) Start(ctx context.Context, owner domain.Owner) (*Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	err := r.machine.Acquire(owner)
	if errors.Is(err, mic.ErrMicBlocked) && r.gate != nil {
		// a denial after a bad capture may have been transient
		if r.gate.Reevaluate(ctx) == domain.PermissionGranted {
			err = r.machine.Acquire(owner)
		}
	}
	if err != nil {
		if errors.Is(err, mic.ErrAlreadyRecording) {
			if s := r.active[owner]; s != nil {
				log.Debug("Already recording", "owner", owner, "session", s.ID)
				return s, nil
			}
		}
		log.Info("Recording refused", "owner", owner, "reason", err)
		return nil, err
	}

	r.duck(ctx)
	if r.cue != nil {
		cueCtx, cancel := context.WithTimeout(ctx, cueTimeout)
		r.cue.PlayWait(cueCtx)
		cancel()
	}

	stream, err := r.capture.Open(r.cfg.Capture)
	if err != nil {
		r.machine.Reset(owner)
		r.unduck(ctx)
		log.Error("Failed to open microphone", "owner", owner, "err", err)
		if r.gate != nil {
			r.gate.Reevaluate(ctx)
		}
		return nil, fmt.Errorf("open capture: %w", err)
	}

	s := &Session{
		ID:        uuid.NewString(),
		Owner:     owner,
		StartedAt: time.Now(),
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
	}
	r.active[owner] = s

	go r.captureLoop(stream, s)

	log.Info("Recording started", "owner", owner, "session", s.ID)
	return s, nil
}

// Stop ends the capture and returns the encoded clip. On success the owner is
// left in mic.StateProcessing and the caller must call Machine.Done; on any
// failure the owner is back to idle.
func (r *Recorder) Stop(ctx context.Context, s *Session) (domain.Clip, error) {
	if !r.detach(s) {
		return domain.Clip{}, mic.ErrNotRecording
	}

	s.halt()
	<-s.done
	r.unduck(ctx)

	if s.err != nil {
		r.machine.Reset(s.Owner)
		log.Error("Capture failed", "owner", s.Owner, "session", s.ID, "err", s.err)
		if r.gate != nil {
			r.gate.Reevaluate(ctx)
		}
		return domain.Clip{}, domain.EncodingError(fmt.Errorf("capture: %w", s.err))
	}

	data, err := r.encode(s.pcm, r.cfg.Capture.SampleRate, r.cfg.Capture.Channels)
	if err != nil {
		r.machine.Reset(s.Owner)
		log.Error("Failed to encode recording", "owner", s.Owner, "session", s.ID, "err", err)
		return domain.Clip{}, domain.EncodingError(err)
	}

	if err := r.machine.Stopped(s.Owner); err != nil {
		r.machine.Reset(s.Owner)
		return domain.Clip{}, err
	}

	clip := domain.Clip{
		Data:     data,
		MimeType: MimeWAV,
		Duration: r.duration(len(s.pcm)),
	}
	log.Info("Recording stopped", "owner", s.Owner, "session", s.ID, "duration", clip.Duration, "bytes", len(data))
	return clip, nil
}

// Abort ends the capture and throws the audio away.
func (r *Recorder) Abort(ctx context.Context, s *Session) error {
	if !r.detach(s) {
		return mic.ErrNotRecording
	}

	s.halt()
	<-s.done
	r.unduck(ctx)
	r.machine.Reset(s.Owner)

	log.Info("Recording discarded", "owner", s.Owner, "session", s.ID)
	return nil
}

// Active returns the session owner is recording, if any.
func (r *Recorder) Active(owner domain.Owner) *Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.active[owner]
}

func (r *Recorder) detach(s *Session) bool {
	if s == nil {
		return false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.active[s.Owner] != s {
		return false
	}
	delete(r.active, s.Owner)
	return true
}

func (r *Recorder) captureLoop(stream Stream, s *Session) {
	defer close(s.done)
	defer stream.Close()

	deadline := time.Now().Add(r.cfg.MaxDuration)
	out := make([]int16, 0, r.cfg.Capture.SampleRate*r.cfg.Capture.Channels*3)

	for {
		select {
		case <-s.stop:
			s.pcm = out
			return
		default:
		}

		if time.Now().After(deadline) {
			log.Info("Maximum recording length reached", "owner", s.Owner, "session", s.ID)
			s.pcm = out
			return
		}

		frame, err := stream.Read()
		if err != nil {
			s.pcm = out
			s.err = err
			return
		}
		out = append(out, frame...)
	}
}

func (r *Recorder) duration(samples int) time.Duration {
	perSecond := r.cfg.Capture.SampleRate * r.cfg.Capture.Channels
	return time.Duration(samples) * time.Second / time.Duration(perSecond)
}

func (r *Recorder) duck(ctx context.Context) {
	if r.ducker == nil {
		return
	}
	if err := r.ducker.Duck(ctx); err != nil {
		log.Warn("Failed to duck other streams", "err", err)
	}
}

func (r *Recorder) unduck(ctx context.Context) {
	if r.ducker == nil {
		return
	}
	if err := r.ducker.Restore(ctx); err != nil {
		log.Warn("Failed to restore other streams", "err", err)
	}
}
