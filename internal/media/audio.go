package media

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/zaf/g711"
)

// AudioFile holds PCM audio decoded from a WAV container.
type AudioFile struct {
	AudioFormat   uint16
	SampleRate    uint32
	NumChannels   uint16
	BitsPerSample uint16
	PCMData       []byte
}

// ReadWAVFile parses a 16-bit PCM WAV file.
func ReadWAVFile(path string) (*AudioFile, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open file: %w", err)
	}
	defer f.Close()

	af, err := DecodeWAV(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	slog.Debug("[WAV] Loaded audio", "file", path, "sample_rate", af.SampleRate, "channels", af.NumChannels, "size_bytes", len(af.PCMData))
	return af, nil
}

// DecodeWAV reads a RIFF/WAVE stream, skipping chunks other than fmt and data.
func DecodeWAV(r io.Reader) (*AudioFile, error) {
	var hdr [12]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return nil, fmt.Errorf("failed to read RIFF header: %w", err)
	}
	if string(hdr[0:4]) != "RIFF" || string(hdr[8:12]) != "WAVE" {
		return nil, errors.New("not a RIFF/WAVE file")
	}

	af := &AudioFile{}
	haveFmt := false
	for {
		var chunk [8]byte
		if _, err := io.ReadFull(r, chunk[:]); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, fmt.Errorf("failed to read chunk header: %w", err)
		}
		id := string(chunk[0:4])
		size := binary.LittleEndian.Uint32(chunk[4:8])

		switch id {
		case "fmt ":
			if size < 16 {
				return nil, fmt.Errorf("fmt chunk too short: %d", size)
			}
			body := make([]byte, size)
			if _, err := io.ReadFull(r, body); err != nil {
				return nil, fmt.Errorf("failed to read fmt chunk: %w", err)
			}
			af.AudioFormat = binary.LittleEndian.Uint16(body[0:2])
			af.NumChannels = binary.LittleEndian.Uint16(body[2:4])
			af.SampleRate = binary.LittleEndian.Uint32(body[4:8])
			af.BitsPerSample = binary.LittleEndian.Uint16(body[14:16])
			if af.AudioFormat != 1 || af.BitsPerSample != 16 {
				return nil, fmt.Errorf("only 16-bit PCM is supported, got format %d/%d bits", af.AudioFormat, af.BitsPerSample)
			}
			haveFmt = true
		case "data":
			if !haveFmt {
				return nil, errors.New("data chunk before fmt chunk")
			}
			af.PCMData = make([]byte, size)
			if _, err := io.ReadFull(r, af.PCMData); err != nil {
				return nil, fmt.Errorf("failed to read audio data: %w", err)
			}
			return af, nil
		default:
			skip := int64(size) + int64(size&1)
			if _, err := io.CopyN(io.Discard, r, skip); err != nil {
				return nil, fmt.Errorf("failed to skip %q chunk: %w", id, err)
			}
		}
	}
	return nil, errors.New("data chunk not found")
}

// ResampleAudio converts audio to 8000 Hz mono 16-bit PCM by averaging
// channels and linear interpolation.
func ResampleAudio(af *AudioFile) ([]byte, error) {
	const target = 8000

	samples, err := monoSamples(af)
	if err != nil {
		return nil, err
	}
	if af.SampleRate != target && af.SampleRate > 0 {
		ratio := float64(af.SampleRate) / float64(target)
		n := int(float64(len(samples)) / ratio)
		out := make([]int16, 0, n)
		for i := 0; i < n; i++ {
			pos := float64(i) * ratio
			idx := int(pos)
			if idx+1 >= len(samples) {
				break
			}
			frac := pos - float64(idx)
			out = append(out, int16(float64(samples[idx])*(1-frac)+float64(samples[idx+1])*frac))
		}
		samples = out
	}

	pcm := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(pcm[i*2:], uint16(s))
	}
	return pcm, nil
}

func monoSamples(af *AudioFile) ([]int16, error) {
	switch af.NumChannels {
	case 1:
		out := make([]int16, len(af.PCMData)/2)
		for i := range out {
			out[i] = int16(binary.LittleEndian.Uint16(af.PCMData[i*2:]))
		}
		return out, nil
	case 2:
		out := make([]int16, len(af.PCMData)/4)
		for i := range out {
			l := int16(binary.LittleEndian.Uint16(af.PCMData[i*4:]))
			r := int16(binary.LittleEndian.Uint16(af.PCMData[i*4+2:]))
			out[i] = int16((int32(l) + int32(r)) / 2)
		}
		return out, nil
	}
	return nil, fmt.Errorf("unsupported number of channels: %d", af.NumChannels)
}

// PCMToPCMU converts 16-bit little-endian PCM to µ-law.
func PCMToPCMU(pcm []byte) []byte {
	return g711.EncodeUlaw(pcm)
}

// LoadPrompt reads a WAV prompt and returns it as 8kHz µ-law.
func LoadPrompt(path string) ([]byte, error) {
	af, err := ReadWAVFile(path)
	if err != nil {
		return nil, err
	}
	pcm, err := ResampleAudio(af)
	if err != nil {
		return nil, fmt.Errorf("failed to resample prompt: %w", err)
	}
	return PCMToPCMU(pcm), nil
}
