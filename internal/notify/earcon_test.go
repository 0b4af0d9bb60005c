package notify

import (
	"context"
	"testing"
	"time"

	"github.com/faiface/beep"
)

// drainPlayer plays every streamer to the end on its own goroutine.
type drainPlayer struct {
	frames chan int
}

func (p *drainPlayer) SampleRate() int { return 16000 }

func (p *drainPlayer) Play(s ...beep.Streamer) {
	go func() {
		buf := make([][2]float64, 256)
		total := 0
		for _, st := range s {
			for {
				n, ok := st.Stream(buf)
				total += n
				if !ok {
					break
				}
			}
		}
		p.frames <- total
	}()
}

type silentPlayer struct{}

func (silentPlayer) SampleRate() int       { return 16000 }
func (silentPlayer) Play(...beep.Streamer) {}

func testEarcon(out Player, frames int) *Earcon {
	buf := beep.NewBuffer(beep.Format{SampleRate: 16000, NumChannels: 1, Precision: 2})
	buf.Append(beep.Take(frames, beep.Silence(-1)))
	return &Earcon{buf: buf, out: out}
}

func TestEarconPlayWaitBlocksUntilDone(t *testing.T) {
	t.Parallel()

	out := &drainPlayer{frames: make(chan int, 1)}
	e := testEarcon(out, 800)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	e.PlayWait(ctx)

	if ctx.Err() != nil {
		t.Fatalf("cue did not finish before the deadline")
	}
	if got := <-out.frames; got != 800 {
		t.Fatalf("expected 800 frames, got %d", got)
	}
}

func TestEarconPlayWaitHonoursContext(t *testing.T) {
	t.Parallel()

	e := testEarcon(silentPlayer{}, 800)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	done := make(chan struct{})
	go func() {
		e.PlayWait(ctx)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("PlayWait ignored the context")
	}

	var nilCue *Earcon
	nilCue.PlayWait(context.Background())
	nilCue.Play()
}
