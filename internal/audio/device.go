package audio

import (
	"context"
	"errors"
	"fmt"
	log "log/slog"
	"sync"

	"github.com/gordonklaus/portaudio"
)

// CaptureConfig describes how the microphone is opened.
type CaptureConfig struct {
	SampleRate int
	Channels   int
	FrameSize  int
}

func (c CaptureConfig) withDefaults() CaptureConfig {
	if c.SampleRate <= 0 {
		c.SampleRate = 16000
	}
	if c.Channels <= 0 {
		c.Channels = 1
	}
	if c.FrameSize <= 0 {
		c.FrameSize = 1024
	}
	return c
}

// Stream is an open capture stream. Read blocks until one frame is available.
type Stream interface {
	Read() ([]int16, error)
	Close() error
}

// Capture opens capture streams.
type Capture interface {
	Open(cfg CaptureConfig) (Stream, error)
}

// Device is the portaudio-backed microphone. It doubles as the permission prober.
type Device struct {
	mu          sync.Mutex
	initialized bool
}

func NewDevice() *Device { return &Device{} }

func (d *Device) Init() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.initialized {
		return nil
	}
	if err := portaudio.Initialize(); err != nil {
		return fmt.Errorf("portaudio init: %w", err)
	}
	d.initialized = true
	return nil
}

func (d *Device) Close() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.initialized {
		return
	}
	portaudio.Terminate()
	d.initialized = false
}

// Probe reports whether a default input device is available.
func (d *Device) Probe(_ context.Context) error {
	if err := d.Init(); err != nil {
		return err
	}
	info, err := portaudio.DefaultInputDevice()
	if err != nil {
		return fmt.Errorf("default input device: %w", err)
	}
	if info == nil || info.MaxInputChannels < 1 {
		return errors.New("default input device has no input channels")
	}
	log.Debug("Found input device", "name", info.Name, "rate", info.DefaultSampleRate)
	return nil
}

func (d *Device) Open(cfg CaptureConfig) (Stream, error) {
	if err := d.Init(); err != nil {
		return nil, err
	}
	cfg = cfg.withDefaults()

	buf := make([]int16, cfg.FrameSize*cfg.Channels)
	stream, err := portaudio.OpenDefaultStream(cfg.Channels, 0, float64(cfg.SampleRate), cfg.FrameSize, buf)
	if err != nil {
		return nil, fmt.Errorf("open stream: %w", err)
	}
	if err := stream.Start(); err != nil {
		_ = stream.Close()
		return nil, fmt.Errorf("start stream: %w", err)
	}
	return &paStream{stream: stream, buf: buf}, nil
}

type paStream struct {
	stream *portaudio.Stream
	buf    []int16
}

func (s *paStream) Read() ([]int16, error) {
	if err := s.stream.Read(); err != nil {
		// an overflow only drops samples, the stream is still usable
		if !errors.Is(err, portaudio.InputOverflowed) {
			return nil, err
		}
		log.Debug("Input overflowed")
	}
	out := make([]int16, len(s.buf))
	copy(out, s.buf)
	return out, nil
}

func (s *paStream) Close() error {
	_ = s.stream.Stop()
	return s.stream.Close()
}
