// Package wav normalizes raw audio and wraps it in a minimal WAV container.
//
// The speech engine only accepts 16-bit little-endian mono PCM inside a
// standard 44-byte RIFF/WAVE header, so every supported caller
// representation is normalized to that layout before dispatch.
package wav

import (
	"bytes"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
)

const (
	// HeaderSize is the fixed PCM WAV header length in bytes.
	HeaderSize = 44

	numChannels   = 1
	bitsPerSample = 16
)

// ErrEmptyAudio reports a zero-length normalized input buffer.
var ErrEmptyAudio = errors.New("audio buffer is empty")

// ErrInvalidContainer reports a buffer that is not a parseable WAV file.
var ErrInvalidContainer = errors.New("invalid wav container")

var riffSignature = []byte("RIFF")

// Normalize converts a supported raw-audio representation into a byte
// buffer. Accepted inputs: hex-encoded string, []int16 sample slice, and
// raw []byte.
func Normalize(raw any) ([]byte, error) {
	switch v := raw.(type) {
	case []byte:
		return v, nil
	case string:
		decoded, err := hex.DecodeString(strings.TrimSpace(v))
		if err != nil {
			return nil, fmt.Errorf("decode hex audio: %w", err)
		}
		return decoded, nil
	case []int16:
		buf := make([]byte, len(v)*2)
		for i, sample := range v {
			binary.LittleEndian.PutUint16(buf[i*2:], uint16(sample))
		}
		return buf, nil
	default:
		return nil, fmt.Errorf("unsupported audio representation %T", raw)
	}
}

// Encode wraps raw PCM in a 44-byte WAV header at the given sample rate.
// Buffers that already carry a RIFF signature are returned unchanged, so
// encoding an encoded buffer is a no-op. The payload is truncated to an
// even byte count to preserve 16-bit sample alignment.
func Encode(raw any, sampleRate int) ([]byte, error) {
	pcm, err := Normalize(raw)
	if err != nil {
		return nil, err
	}
	if len(pcm) == 0 {
		return nil, ErrEmptyAudio
	}
	if bytes.HasPrefix(pcm, riffSignature) {
		return pcm, nil
	}

	if len(pcm)%2 != 0 {
		pcm = pcm[:len(pcm)-1]
	}
	if len(pcm) == 0 {
		return nil, ErrEmptyAudio
	}

	byteRate := sampleRate * numChannels * bitsPerSample / 8
	blockAlign := numChannels * bitsPerSample / 8

	buf := make([]byte, 0, HeaderSize+len(pcm))
	out := bytes.NewBuffer(buf)

	out.WriteString("RIFF")
	binary.Write(out, binary.LittleEndian, uint32(36+len(pcm)))
	out.WriteString("WAVE")

	out.WriteString("fmt ")
	binary.Write(out, binary.LittleEndian, uint32(16))
	binary.Write(out, binary.LittleEndian, uint16(1)) // PCM format code
	binary.Write(out, binary.LittleEndian, uint16(numChannels))
	binary.Write(out, binary.LittleEndian, uint32(sampleRate))
	binary.Write(out, binary.LittleEndian, uint32(byteRate))
	binary.Write(out, binary.LittleEndian, uint16(blockAlign))
	binary.Write(out, binary.LittleEndian, uint16(bitsPerSample))

	out.WriteString("data")
	binary.Write(out, binary.LittleEndian, uint32(len(pcm)))
	out.Write(pcm)

	return out.Bytes(), nil
}

// Validate checks minimum length and header signatures before dispatching
// a buffer to the engine. The returned error names the failing reason.
func Validate(buf []byte) error {
	if len(buf) < HeaderSize {
		return fmt.Errorf("%w: %d bytes is shorter than the %d-byte header", ErrInvalidContainer, len(buf), HeaderSize)
	}
	if !bytes.HasPrefix(buf, riffSignature) {
		return fmt.Errorf("%w: missing RIFF signature", ErrInvalidContainer)
	}
	if !bytes.Equal(buf[8:12], []byte("WAVE")) {
		return fmt.Errorf("%w: missing WAVE marker", ErrInvalidContainer)
	}
	return nil
}

// DataSize reads the declared data-chunk byte count from an encoded buffer.
func DataSize(buf []byte) (int, error) {
	if err := Validate(buf); err != nil {
		return 0, err
	}
	return int(binary.LittleEndian.Uint32(buf[40:44])), nil
}
