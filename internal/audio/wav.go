package audio

import (
	"errors"
	"fmt"
	"io"
	"os"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

const MimeWAV = "audio/wav"

var ErrEmptyCapture = errors.New("no audio recorded")

// EncodeWAV writes 16-bit PCM into a WAV container. The encoder needs a
// WriteSeeker to patch the header, so it goes through a temp file.
func EncodeWAV(pcm []int16, sampleRate, channels int) ([]byte, error) {
	if len(pcm) == 0 {
		return nil, ErrEmptyCapture
	}

	f, err := os.CreateTemp("", "kiosk-capture-*.wav")
	if err != nil {
		return nil, fmt.Errorf("create temp wav: %w", err)
	}
	defer os.Remove(f.Name())
	defer f.Close()

	enc := wav.NewEncoder(f, sampleRate, 16, channels, 1)

	data := make([]int, len(pcm))
	for i, v := range pcm {
		data[i] = int(v)
	}
	buf := &goaudio.IntBuffer{
		Format:         &goaudio.Format{NumChannels: channels, SampleRate: sampleRate},
		Data:           data,
		SourceBitDepth: 16,
	}
	if err := enc.Write(buf); err != nil {
		return nil, fmt.Errorf("wav write: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("wav close: %w", err)
	}

	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return nil, err
	}
	return io.ReadAll(f)
}
