package audio

import (
	"context"
	"fmt"
	"io"
	log "log/slog"
	"sync"
	"time"

	"github.com/faiface/beep"
	"github.com/faiface/beep/speaker"

	"kiosk/internal/domain"
	"kiosk/pkg/audioconv"
)

// Output is where decoded speech ends up. Lock and Unlock guard streamers
// that are already playing.
type Output interface {
	SampleRate() int
	Play(s ...beep.Streamer)
	Lock()
	Unlock()
}

// Speaker is the default sound card output.
type Speaker struct {
	rate beep.SampleRate
}

func NewSpeaker(sampleRate int) (*Speaker, error) {
	sr := beep.SampleRate(sampleRate)
	if err := speaker.Init(sr, sr.N(time.Second/10)); err != nil {
		return nil, fmt.Errorf("speaker init: %w", err)
	}
	return &Speaker{rate: sr}, nil
}

func (s *Speaker) SampleRate() int          { return int(s.rate) }
func (s *Speaker) Play(st ...beep.Streamer) { speaker.Play(st...) }
func (s *Speaker) Lock()                    { speaker.Lock() }
func (s *Speaker) Unlock()                  { speaker.Unlock() }

type playback struct {
	ctrl *beep.Ctrl
	done chan struct{}
	once sync.Once
}

func (p *playback) finish() {
	p.once.Do(func() { close(p.done) })
}

// PlaybackManager plays one clip at a time. Starting a new one cuts off
// whatever is playing.
type PlaybackManager struct {
	out Output

	mu      sync.Mutex
	current *playback
}

func NewPlaybackManager(out Output) *PlaybackManager {
	return &PlaybackManager{out: out}
}

// Play reads r to the end, decodes it and starts playback. It returns once
// playback has started.
func (m *PlaybackManager) Play(ctx context.Context, r io.Reader, mime string) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return domain.Normalize(fmt.Errorf("read speech: %w", err))
	}
	if err := ctx.Err(); err != nil {
		return domain.Normalize(err)
	}
	return m.PlayData(data, mime)
}

func (m *PlaybackManager) PlayData(data []byte, mime string) error {
	pcm, err := audioconv.Decode(data, mime, audioconv.Options{TargetRate: m.out.SampleRate()})
	if err != nil {
		return domain.EncodingError(fmt.Errorf("decode speech: %w", err))
	}

	p := &playback{
		ctrl: &beep.Ctrl{Streamer: &pcmStreamer{samples: pcm.Samples}},
		done: make(chan struct{}),
	}

	m.mu.Lock()
	m.stopLocked()
	m.current = p
	m.mu.Unlock()

	// runs on the output goroutine with its lock held
	m.out.Play(beep.Seq(p.ctrl, beep.Callback(p.finish)))

	log.Debug("Playback started", "seconds", pcm.Duration(), "bytes", len(data))
	return nil
}

// Stop cuts off the current playback, if any.
func (m *PlaybackManager) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stopLocked()
}

func (m *PlaybackManager) stopLocked() {
	p := m.current
	if p == nil {
		return
	}
	m.current = nil

	m.out.Lock()
	p.ctrl.Streamer = nil
	m.out.Unlock()
	p.finish()
}

// Playing reports whether a clip is still being played.
func (m *PlaybackManager) Playing() bool {
	m.mu.Lock()
	p := m.current
	m.mu.Unlock()
	if p == nil {
		return false
	}
	select {
	case <-p.done:
		return false
	default:
		return true
	}
}

// Wait blocks until the current playback ends or ctx is done.
func (m *PlaybackManager) Wait(ctx context.Context) error {
	m.mu.Lock()
	p := m.current
	m.mu.Unlock()
	if p == nil {
		return nil
	}
	select {
	case <-p.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

type pcmStreamer struct {
	samples []float32
	pos     int
}

func (s *pcmStreamer) Stream(buf [][2]float64) (int, bool) {
	if s.pos >= len(s.samples) {
		return 0, false
	}
	n := 0
	for n < len(buf) && s.pos < len(s.samples) {
		v := float64(s.samples[s.pos])
		buf[n] = [2]float64{v, v}
		n++
		s.pos++
	}
	return n, true
}

func (s *pcmStreamer) Err() error { return nil }
