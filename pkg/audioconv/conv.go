package audioconv

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"strings"

	"github.com/go-audio/wav"
	"github.com/hajimehoshi/go-mp3"
	"github.com/jfreymuth/oggvorbis"
	popus "github.com/pekim/opus"
)

type Options struct {
	// TargetRate resamples the output; 0 keeps the source rate.
	TargetRate int
	MaxSamples int
}

// PCM is mono float32 audio in [-1, 1].
type PCM struct {
	Samples    []float32
	SampleRate int
}

func (p PCM) Duration() float64 {
	if p.SampleRate <= 0 {
		return 0
	}
	return float64(len(p.Samples)) / float64(p.SampleRate)
}

var ErrUnsupported = errors.New("unsupported audio format")

// Decode sniffs data and decodes WAV, MP3, Ogg Vorbis or Ogg Opus into mono
// PCM. mime is only a hint used when the bytes carry no magic.
func Decode(data []byte, mime string, opt Options) (PCM, error) {
	if len(data) == 0 {
		return PCM{}, errors.New("empty audio")
	}

	var (
		pcm PCM
		err error
	)
	switch sniff(data, mime) {
	case "wav":
		pcm, err = decodeWAV(bytes.NewReader(data))
	case "mp3":
		pcm, err = decodeMP3(bytes.NewReader(data))
	case "ogg":
		pcm, err = decodeOggVorbis(bytes.NewReader(data))
		if err != nil {
			var e2 error
			pcm, e2 = decodeOggOpus(bytes.NewReader(data))
			if e2 != nil {
				return PCM{}, fmt.Errorf("cannot decode ogg as Vorbis (%v) or Opus: %w", err, e2)
			}
			err = nil
		}
	default:
		return PCM{}, fmt.Errorf("%w: %q", ErrUnsupported, mime)
	}
	if err != nil {
		return PCM{}, err
	}

	if opt.TargetRate > 0 && pcm.SampleRate != opt.TargetRate {
		pcm.Samples = resampleLinear(pcm.Samples, pcm.SampleRate, opt.TargetRate)
		pcm.SampleRate = opt.TargetRate
	}
	if opt.MaxSamples > 0 && len(pcm.Samples) > opt.MaxSamples {
		pcm.Samples = pcm.Samples[:opt.MaxSamples]
	}
	return pcm, nil
}

func sniff(data []byte, mime string) string {
	switch {
	case len(data) >= 4 && string(data[:4]) == "RIFF":
		return "wav"
	case len(data) >= 4 && string(data[:4]) == "OggS":
		return "ogg"
	case len(data) >= 3 && string(data[:3]) == "ID3":
		return "mp3"
	case len(data) >= 2 && data[0] == 0xFF && data[1]&0xE0 == 0xE0:
		return "mp3"
	}

	mime = strings.ToLower(mime)
	switch {
	case strings.Contains(mime, "wav"):
		return "wav"
	case strings.Contains(mime, "mpeg"), strings.Contains(mime, "mp3"):
		return "mp3"
	case strings.Contains(mime, "ogg"), strings.Contains(mime, "opus"):
		return "ogg"
	}
	return ""
}

func decodeWAV(r io.ReadSeeker) (PCM, error) {
	dec := wav.NewDecoder(r)
	if !dec.IsValidFile() {
		return PCM{}, errors.New("invalid wav")
	}
	pb, err := dec.FullPCMBuffer()
	if err != nil || pb == nil || pb.Data == nil {
		if err == nil {
			err = errors.New("empty wav")
		}
		return PCM{}, err
	}

	bd := int(dec.BitDepth)
	if bd == 0 {
		bd = 16
	}
	x := intSliceToFloat32(pb.Data, bd)

	ch := 1
	sr := 44100
	if pb.Format != nil {
		if pb.Format.NumChannels > 0 {
			ch = pb.Format.NumChannels
		}
		if pb.Format.SampleRate > 0 {
			sr = pb.Format.SampleRate
		}
	}
	return PCM{Samples: downmixInterleaved(x, ch), SampleRate: sr}, nil
}

func decodeMP3(r io.Reader) (PCM, error) {
	dec, err := mp3.NewDecoder(r)
	if err != nil {
		return PCM{}, err
	}
	var raw bytes.Buffer
	if _, err := io.Copy(&raw, dec); err != nil {
		return PCM{}, err
	}
	ints := make([]int16, raw.Len()/2)
	if err := binary.Read(bytes.NewReader(raw.Bytes()), binary.LittleEndian, &ints); err != nil {
		return PCM{}, err
	}
	// go-mp3 always emits interleaved stereo
	x := downmixInterleaved(int16SliceToFloat32(ints), 2)

	sr := dec.SampleRate()
	if sr <= 0 {
		sr = 44100
	}
	return PCM{Samples: x, SampleRate: sr}, nil
}

func decodeOggVorbis(r io.Reader) (PCM, error) {
	pcm, format, err := oggvorbis.ReadAll(r)
	if err != nil {
		return PCM{}, err
	}
	if format == nil || format.Channels <= 0 || format.SampleRate <= 0 {
		return PCM{}, errors.New("invalid ogg/vorbis stream")
	}
	return PCM{Samples: downmixInterleaved(pcm, format.Channels), SampleRate: format.SampleRate}, nil
}

func decodeOggOpus(rs io.ReadSeeker) (PCM, error) {
	dec, err := popus.NewDecoder(rs)
	if err != nil {
		return PCM{}, err
	}
	defer dec.Destroy()

	ch := dec.ChannelCount()
	if ch <= 0 {
		ch = 1
	}

	// opusfile always decodes at 48 kHz
	var (
		pcm48 []float32
		buf   = make([]int16, 48_000*ch/2)
	)
	for {
		n, err := dec.Read(buf) // samples per channel
		if n > 0 {
			pcm48 = append(pcm48, int16SliceToFloat32(buf[:n*ch])...)
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return PCM{}, err
		}
	}

	if len(pcm48) == 0 {
		return PCM{}, errors.New("empty opus stream")
	}
	return PCM{Samples: downmixInterleaved(pcm48, ch), SampleRate: 48000}, nil
}

// helpers

func intSliceToFloat32(data []int, bitDepth int) []float32 {
	out := make([]float32, len(data))
	scale := 1.0 / float64(int64(1)<<(bitDepth-1))
	for i, v := range data {
		out[i] = float32(clamp(float64(v)*scale, -1.0, 1.0))
	}
	return out
}

func int16SliceToFloat32(data []int16) []float32 {
	out := make([]float32, len(data))
	const scale = 1.0 / 32768.0
	for i, v := range data {
		out[i] = float32(float64(v) * scale)
	}
	return out
}

func downmixInterleaved(in []float32, channels int) []float32 {
	if channels <= 1 {
		return in
	}
	nFrames := len(in) / channels
	out := make([]float32, nFrames)
	for i := 0; i < nFrames; i++ {
		sum := 0.0
		base := i * channels
		for c := 0; c < channels; c++ {
			sum += float64(in[base+c])
		}
		out[i] = float32(sum / float64(channels))
	}
	return out
}

func resampleLinear(in []float32, inSR, outSR int) []float32 {
	if inSR == outSR || len(in) == 0 {
		return in
	}
	ratio := float64(outSR) / float64(inSR)
	outN := int(math.Ceil(float64(len(in)) * ratio))
	out := make([]float32, outN)
	for i := 0; i < outN; i++ {
		src := float64(i) / ratio
		i0 := int(math.Floor(src))
		i1 := i0 + 1
		if i0 >= len(in) {
			out[i] = in[len(in)-1]
			continue
		}
		if i1 >= len(in) {
			out[i] = in[i0]
			continue
		}
		a := float32(src - float64(i0))
		out[i] = in[i0]*(1-a) + in[i1]*a
	}
	return out
}

func clamp(x, lo, hi float64) float64 {
	if x < lo {
		return lo
	}
	if x > hi {
		return hi
	}
	return x
}
