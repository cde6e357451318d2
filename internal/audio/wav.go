// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package audio

import (
	"encoding/binary"
	"fmt"
)

// ParseWAV extracts the PCM payload and its format from a RIFF/WAVE
// container. Only uncompressed 16-bit signed PCM is supported; anything
// else wraps ErrUnsupportedFormat.
func ParseWAV(data []byte) (Format, []byte, error) {
	if len(data) < 12 || string(data[0:4]) != "RIFF" || string(data[8:12]) != "WAVE" {
		return Format{}, nil, fmt.Errorf("wav: not a RIFF/WAVE container: %w", ErrUnsupportedFormat)
	}

	var (
		format  Format
		sawFmt  bool
		pcm     []byte
		sawData bool
	)

	// Chunk walk: each chunk is 8 bytes of header plus a padded payload.
	offset := 12
	for offset+8 <= len(data) {
		id := string(data[offset : offset+4])
		size := int(binary.LittleEndian.Uint32(data[offset+4 : offset+8]))
		body := offset + 8
		if size < 0 || body+size > len(data) {
			return Format{}, nil, fmt.Errorf("wav: truncated %q chunk", id)
		}

		switch id {
		case "fmt ":
			if size < 16 {
				return Format{}, nil, fmt.Errorf("wav: short fmt chunk")
			}
			audioFormat := binary.LittleEndian.Uint16(data[body : body+2])
			channels := binary.LittleEndian.Uint16(data[body+2 : body+4])
			sampleRate := binary.LittleEndian.Uint32(data[body+4 : body+8])
			bits := binary.LittleEndian.Uint16(data[body+14 : body+16])
			if audioFormat != 1 || bits != 16 {
				return Format{}, nil, fmt.Errorf("wav: only 16-bit PCM supported (format=%d bits=%d): %w",
					audioFormat, bits, ErrUnsupportedFormat)
			}
			format = Format{
				SampleRate: int(sampleRate),
				Channels:   int(channels),
				Encoding:   EncodingS16LE,
			}
			sawFmt = true

		case "data":
			pcm = data[body : body+size]
			sawData = true
		}

		offset = body + size
		if size%2 == 1 {
			offset++ // chunks are word-aligned
		}
	}

	if !sawFmt || !sawData {
		return Format{}, nil, fmt.Errorf("wav: missing fmt or data chunk")
	}
	if err := format.Validate(); err != nil {
		return Format{}, nil, err
	}
	return format, pcm, nil
}
