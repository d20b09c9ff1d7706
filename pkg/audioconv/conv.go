// Package audioconv decodes recorded audio files into the mono 16 kHz float
// PCM the speech recognizer expects.
package audioconv

import (
	"bufio"
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-audio/wav"
	"github.com/hajimehoshi/go-mp3"
	"github.com/jfreymuth/oggvorbis"
	popus "github.com/pekim/opus"
)

const TargetRate = 16000

var ErrUnsupported = errors.New("audioconv: unsupported format")

type Options struct {
	MaxSamples int // 0 = no limit
}

// DecodeFile picks a decoder from the extension, falling back to sniffing the
// container magic.
func DecodeFile(ctx context.Context, path string, opt Options) ([]float32, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	kind := strings.ToLower(filepath.Ext(path))
	if kind != ".wav" && kind != ".mp3" && kind != ".ogg" && kind != ".oga" {
		magic, _ := bufio.NewReader(f).Peek(4)
		if _, err := f.Seek(0, io.SeekStart); err != nil {
			return nil, err
		}

		switch string(magic) {
		case "RIFF":
			kind = ".wav"
		case "OggS":
			kind = ".ogg"
		default:
			return nil, fmt.Errorf("%w: %s (supported: wav/mp3/ogg vorbis/ogg opus)", ErrUnsupported, path)
		}
	}

	switch kind {
	case ".wav":
		return decodeWAV(f, opt)
	case ".mp3":
		return decodeMP3(f, opt)
	default:
		return decodeOgg(f, opt)
	}
}

func decodeWAV(r io.ReadSeeker, opt Options) ([]float32, error) {
	dec := wav.NewDecoder(r)
	if !dec.IsValidFile() {
		return nil, errors.New("invalid wav")
	}

	pb, err := dec.FullPCMBuffer()
	if err != nil {
		return nil, fmt.Errorf("read wav: %w", err)
	}
	if pb == nil || len(pb.Data) == 0 {
		return nil, errors.New("empty wav")
	}

	bd := int(dec.BitDepth)
	if bd == 0 {
		bd = 16
	}

	ch, sr := 1, 44100
	if pb.Format != nil {
		if pb.Format.NumChannels > 0 {
			ch = pb.Format.NumChannels
		}
		if pb.Format.SampleRate > 0 {
			sr = pb.Format.SampleRate
		}
	}

	return normalize(intsToFloat32(pb.Data, bd), ch, sr, opt), nil
}

func decodeMP3(r io.Reader, opt Options) ([]float32, error) {
	dec, err := mp3.NewDecoder(r)
	if err != nil {
		return nil, fmt.Errorf("mp3: %w", err)
	}

	var raw bytes.Buffer
	if _, err := io.Copy(&raw, dec); err != nil {
		return nil, fmt.Errorf("mp3: %w", err)
	}

	samples := make([]int16, raw.Len()/2)
	if err := binary.Read(&raw, binary.LittleEndian, samples); err != nil {
		return nil, fmt.Errorf("mp3: %w", err)
	}

	sr := dec.SampleRate()
	if sr <= 0 {
		sr = 44100
	}

	// the decoder always produces interleaved stereo
	return normalize(int16sToFloat32(samples), 2, sr, opt), nil
}

// decodeOgg tries Vorbis first and Opus second.
func decodeOgg(r io.ReadSeeker, opt Options) ([]float32, error) {
	out, vErr := decodeVorbis(r, opt)
	if vErr == nil {
		return out, nil
	}

	if _, err := r.Seek(0, io.SeekStart); err != nil {
		return nil, err
	}

	out, oErr := decodeOpus(r, opt)
	if oErr == nil {
		return out, nil
	}

	return nil, fmt.Errorf("%w: ogg stream is neither vorbis (%w) nor opus (%w)", ErrUnsupported, vErr, oErr)
}

func decodeVorbis(r io.Reader, opt Options) ([]float32, error) {
	pcm, format, err := oggvorbis.ReadAll(r)
	if err != nil {
		return nil, err
	}
	if format == nil || format.Channels <= 0 || format.SampleRate <= 0 {
		return nil, errors.New("invalid ogg/vorbis stream")
	}

	return normalize(pcm, format.Channels, format.SampleRate, opt), nil
}

func decodeOpus(r io.ReadSeeker, opt Options) ([]float32, error) {
	dec, err := popus.NewDecoder(r)
	if err != nil {
		return nil, err
	}
	defer dec.Destroy()

	ch := dec.ChannelCount()
	if ch <= 0 {
		ch = 1
	}

	// opus always decodes at 48 kHz
	var (
		pcm []float32
		buf = make([]int16, 48_000*ch/2)
	)
	for {
		n, err := dec.Read(buf) // samples per channel
		if n > 0 {
			pcm = append(pcm, int16sToFloat32(buf[:n*ch])...)
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
	}

	if len(pcm) == 0 {
		return nil, errors.New("empty opus stream")
	}

	return normalize(pcm, ch, 48000, opt), nil
}

// normalize downmixes, resamples to TargetRate and applies the length limit.
func normalize(x []float32, channels, rate int, opt Options) []float32 {
	x = downmix(x, channels)
	x = resampleLinear(x, rate, TargetRate)

	if opt.MaxSamples > 0 && len(x) > opt.MaxSamples {
		x = x[:opt.MaxSamples]
	}

	return x
}

func intsToFloat32(data []int, bitDepth int) []float32 {
	out := make([]float32, len(data))
	scale := 1.0 / float64(int64(1)<<(bitDepth-1))
	for i, v := range data {
		out[i] = float32(math.Max(-1, math.Min(1, float64(v)*scale)))
	}
	return out
}

func int16sToFloat32(data []int16) []float32 {
	out := make([]float32, len(data))
	const scale = 1.0 / 32768.0
	for i, v := range data {
		out[i] = float32(float64(v) * scale)
	}
	return out
}

func downmix(in []float32, channels int) []float32 {
	if channels <= 1 {
		return in
	}

	frames := len(in) / channels
	out := make([]float32, frames)
	for i := 0; i < frames; i++ {
		sum := 0.0
		for c := 0; c < channels; c++ {
			sum += float64(in[i*channels+c])
		}
		out[i] = float32(sum / float64(channels))
	}
	return out
}

func resampleLinear(in []float32, inRate, outRate int) []float32 {
	if inRate == outRate || len(in) == 0 {
		return in
	}

	ratio := float64(outRate) / float64(inRate)
	n := int(math.Ceil(float64(len(in)) * ratio))
	out := make([]float32, n)

	for i := range out {
		src := float64(i) / ratio
		i0 := int(src)
		if i0 >= len(in)-1 {
			out[i] = in[len(in)-1]
			continue
		}
		a := float32(src - float64(i0))
		out[i] = in[i0]*(1-a) + in[i0+1]*a
	}
	return out
}
