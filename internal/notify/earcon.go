package notify

import (
	"context"
	"fmt"
	"os"

	"github.com/faiface/beep"
	"github.com/faiface/beep/mp3"
)

// Player is the output the earcon is mixed into.
type Player interface {
	SampleRate() int
	Play(s ...beep.Streamer)
}

// Earcon is a short cue played when the microphone opens and closes. The
// opening cue blocks so it does not end up in the recording.
type Earcon struct {
	buf *beep.Buffer
	out Player
}

// LoadEarcon decodes an mp3 once and keeps it in memory at the output rate.
func LoadEarcon(path string, out Player) (*Earcon, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open earcon: %w", err)
	}

	streamer, format, err := mp3.Decode(f)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("decode earcon: %w", err)
	}
	defer streamer.Close()

	rate := beep.SampleRate(out.SampleRate())
	var src beep.Streamer = streamer
	if format.SampleRate != rate {
		src = beep.Resample(4, format.SampleRate, rate, streamer)
	}

	format.SampleRate = rate
	buf := beep.NewBuffer(format)
	buf.Append(src)

	return &Earcon{buf: buf, out: out}, nil
}

// Play starts the cue and returns immediately.
func (e *Earcon) Play() {
	if e == nil {
		return
	}
	e.out.Play(e.buf.Streamer(0, e.buf.Len()))
}

// PlayWait blocks until the cue has finished or ctx is done.
func (e *Earcon) PlayWait(ctx context.Context) {
	if e == nil {
		return
	}
	done := make(chan struct{})
	e.out.Play(beep.Seq(e.buf.Streamer(0, e.buf.Len()), beep.Callback(func() {
		close(done)
	})))
	select {
	case <-done:
	case <-ctx.Done():
	}
}
