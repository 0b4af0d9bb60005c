package audio

import (
	"bufio"
	"context"
	"fmt"
	"math"
	"os/exec"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"
)

const maxVolume = 150

var volumeRe = regexp.MustCompile(`(\d+)\s*%`)

// PactlFunc runs pactl with args and returns its stdout.
type PactlFunc func(ctx context.Context, args ...string) ([]byte, error)

func runPactl(ctx context.Context, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, "pactl", args...).Output()
}

type DuckConfig struct {
	// Skip lists application.name values that are never touched.
	Skip   []string
	Factor float64
	Floor  int
	Fade   time.Duration
}

func (c DuckConfig) withDefaults() DuckConfig {
	if c.Factor <= 0 || c.Factor > 1 {
		c.Factor = 0.2
	}
	c.Floor = clampVolume(c.Floor)
	return c
}

func (c DuckConfig) skips(app string) bool {
	for _, name := range c.Skip {
		if app == name {
			return true
		}
	}
	return false
}

type sinkInput struct {
	id     int
	volume int
	app    string
}

type volumeStep struct {
	id       int
	from, to int
}

// PulseDucker lowers other PulseAudio streams while the kiosk listens and
// puts them back afterwards.
type PulseDucker struct {
	cfg   DuckConfig
	pactl PactlFunc

	mu    sync.Mutex
	saved map[int]int // sink input id -> volume before ducking
}

func NewPulseDucker(cfg DuckConfig) *PulseDucker {
	return &PulseDucker{cfg: cfg.withDefaults(), pactl: runPactl}
}

// Duck fades every foreign stream to volume*Factor, never below Floor.
// Calling it again before Restore does nothing.
func (d *PulseDucker) Duck(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.saved != nil {
		return nil
	}
	inputs, err := d.inputs(ctx)
	if err != nil {
		return err
	}

	saved := make(map[int]int, len(inputs))
	steps := make([]volumeStep, 0, len(inputs))
	for _, in := range inputs {
		target := int(math.Round(float64(in.volume) * d.cfg.Factor))
		target = clampVolume(max(target, d.cfg.Floor))
		if target >= in.volume {
			continue
		}
		saved[in.id] = in.volume
		steps = append(steps, volumeStep{id: in.id, from: in.volume, to: target})
	}
	d.saved = saved

	return d.fade(ctx, steps)
}

// Restore fades ducked streams back. Streams that appeared or vanished in
// between are left alone.
func (d *PulseDucker) Restore(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.saved == nil {
		return nil
	}
	saved := d.saved
	d.saved = nil
	if len(saved) == 0 {
		return nil
	}

	inputs, err := d.inputs(ctx)
	if err != nil {
		return err
	}
	var steps []volumeStep
	for _, in := range inputs {
		if orig, ok := saved[in.id]; ok {
			steps = append(steps, volumeStep{id: in.id, from: in.volume, to: orig})
		}
	}
	return d.fade(ctx, steps)
}

func (d *PulseDucker) inputs(ctx context.Context) ([]sinkInput, error) {
	out, err := d.pactl(ctx, "list", "sink-inputs")
	if err != nil {
		return nil, fmt.Errorf("pactl list sink-inputs: %w", err)
	}
	all := parseSinkInputs(string(out))
	inputs := all[:0]
	for _, in := range all {
		if !d.cfg.skips(in.app) {
			inputs = append(inputs, in)
		}
	}
	return inputs, nil
}

// fade walks all steps together in ~10ms ticks. Without a fade duration the
// final volume is set at once.
func (d *PulseDucker) fade(ctx context.Context, steps []volumeStep) error {
	if len(steps) == 0 {
		return nil
	}

	ticks := int(d.cfg.Fade / (10 * time.Millisecond))
	if ticks < 1 {
		return d.apply(ctx, steps, 1)
	}

	ticker := time.NewTicker(d.cfg.Fade / time.Duration(ticks))
	defer ticker.Stop()

	for i := 1; i <= ticks; i++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
		if err := d.apply(ctx, steps, float64(i)/float64(ticks)); err != nil {
			return err
		}
	}
	return nil
}

func (d *PulseDucker) apply(ctx context.Context, steps []volumeStep, frac float64) error {
	for _, s := range steps {
		v := clampVolume(int(math.Round(float64(s.from) + float64(s.to-s.from)*frac)))
		if _, err := d.pactl(ctx, "set-sink-input-volume", strconv.Itoa(s.id), fmt.Sprintf("%d%%", v)); err != nil {
			return fmt.Errorf("set volume of sink input %d: %w", s.id, err)
		}
	}
	return nil
}

func clampVolume(v int) int {
	return min(max(v, 0), maxVolume)
}

// parseSinkInputs reads `pactl list sink-inputs`. Only the first volume and
// application.name of each block are used.
func parseSinkInputs(text string) []sinkInput {
	var (
		res []sinkInput
		cur *sinkInput
	)
	flush := func() {
		if cur != nil && (cur.volume > 0 || cur.app != "") {
			res = append(res, *cur)
		}
		cur = nil
	}

	sc := bufio.NewScanner(strings.NewReader(text))
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())

		if rest, ok := strings.CutPrefix(line, "Sink Input #"); ok {
			flush()
			if id, err := strconv.Atoi(rest); err == nil {
				cur = &sinkInput{id: id}
			}
			continue
		}
		if cur == nil {
			continue
		}

		switch {
		case strings.HasPrefix(line, "Volume:") && cur.volume == 0:
			if m := volumeRe.FindStringSubmatch(line); m != nil {
				cur.volume, _ = strconv.Atoi(m[1])
			}
		case strings.HasPrefix(line, "application.name =") && cur.app == "":
			_, value, _ := strings.Cut(line, "=")
			cur.app = strings.Trim(strings.TrimSpace(value), `"`)
		}
	}
	flush()
	return res
}
