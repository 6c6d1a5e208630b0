package audio

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

var (
	ErrUnsupportedWAV = errors.New("unsupported wav format")
	ErrInvalidWAV     = errors.New("invalid wav file")
)

const (
	formatPCM   uint16 = 1
	formatFloat uint16 = 3
)

// wavFormat is the subset of the fmt chunk needed to decode samples.
type wavFormat struct {
	encoding      uint16
	bitsPerSample uint16
}

func (f wavFormat) sampleSize() int { return int(f.bitsPerSample / 8) }

func (f wavFormat) validate() error {
	switch {
	case f.encoding == formatPCM && (f.bitsPerSample == 8 || f.bitsPerSample == 16 || f.bitsPerSample == 24 || f.bitsPerSample == 32):
		return nil
	case f.encoding == formatFloat && (f.bitsPerSample == 32 || f.bitsPerSample == 64):
		return nil
	default:
		return fmt.Errorf("%w: encoding %d with %d bits", ErrUnsupportedWAV, f.encoding, f.bitsPerSample)
	}
}

// LooksLikeWAV reports whether data starts with a RIFF/WAVE header.
func LooksLikeWAV(data []byte) bool {
	return len(data) >= 12 && string(data[:4]) == "RIFF" && string(data[8:12]) == "WAVE"
}

// parseWAV walks the RIFF chunks of an in-memory WAV file and returns its
// format together with the raw sample bytes.
func parseWAV(data []byte) (wavFormat, []byte, error) {
	if !LooksLikeWAV(data) {
		return wavFormat{}, nil, ErrInvalidWAV
	}

	var (
		format  wavFormat
		samples []byte
		hasFmt  bool
		hasData bool
	)

	for off := 12; off+8 <= len(data) && !(hasFmt && hasData); {
		id := string(data[off : off+4])
		size := binary.LittleEndian.Uint32(data[off+4 : off+8])
		body := off + 8

		switch id {
		case "fmt ":
			if size < 16 || body+16 > len(data) {
				return wavFormat{}, nil, ErrInvalidWAV
			}
			format = wavFormat{
				encoding:      binary.LittleEndian.Uint16(data[body : body+2]),
				bitsPerSample: binary.LittleEndian.Uint16(data[body+14 : body+16]),
			}
			hasFmt = true
		case "data":
			end := len(data)
			// Streaming writers leave 0 or 0xFFFFFFFF as the size; take what is there.
			if size != 0 && size != math.MaxUint32 && body+int(size) < end {
				end = body + int(size)
			}
			samples = data[body:end]
			hasData = true
		}

		next := int64(body) + int64(size) + int64(size%2)
		if next > int64(len(data)) {
			break
		}
		off = int(next)
	}

	if !hasFmt || !hasData {
		return wavFormat{}, nil, ErrInvalidWAV
	}
	if err := format.validate(); err != nil {
		return wavFormat{}, nil, err
	}
	return format, samples, nil
}

// decodeSample maps one sample to [-1, 1].
func (f wavFormat) decodeSample(b []byte) float64 {
	if f.encoding == formatFloat {
		if f.bitsPerSample == 64 {
			return math.Float64frombits(binary.LittleEndian.Uint64(b))
		}
		return float64(math.Float32frombits(binary.LittleEndian.Uint32(b)))
	}

	switch f.bitsPerSample {
	case 8:
		return (float64(b[0]) - 128) / 128
	case 16:
		return float64(int16(binary.LittleEndian.Uint16(b))) / 32768
	case 24:
		v := int32(b[0]) | int32(b[1])<<8 | int32(b[2])<<16
		if v&0x800000 != 0 {
			v |= ^0xFFFFFF
		}
		return float64(v) / 8388608
	default:
		return float64(int32(binary.LittleEndian.Uint32(b))) / 2147483648
	}
}
