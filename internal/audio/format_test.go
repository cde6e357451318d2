// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package audio

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestFormatValidateBounds(t *testing.T) {
	cases := []struct {
		name string
		f    Format
		ok   bool
	}{
		{"canonical", Canonical, true},
		{"floor rate", Format{SampleRate: 8000, Channels: 1, Encoding: EncodingS16LE}, true},
		{"ceiling rate", Format{SampleRate: 192000, Channels: 2, Encoding: EncodingF32LE}, true},
		{"rate too low", Format{SampleRate: 7999, Channels: 1, Encoding: EncodingS16LE}, false},
		{"rate too high", Format{SampleRate: 192001, Channels: 1, Encoding: EncodingS16LE}, false},
		{"zero channels", Format{SampleRate: 16000, Channels: 0, Encoding: EncodingS16LE}, false},
		{"too many channels", Format{SampleRate: 16000, Channels: 3, Encoding: EncodingS16LE}, false},
		{"unknown encoding", Format{SampleRate: 16000, Channels: 1, Encoding: "opus"}, false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.f.Validate()
			if tc.ok {
				require.NoError(t, err)
			} else {
				require.ErrorIs(t, err, ErrUnsupportedFormat)
			}
		})
	}
}

func TestFormatDuration(t *testing.T) {
	// 16 kHz mono s16le: 32000 bytes is exactly one second.
	require.Equal(t, time.Second, Canonical.Duration(32000))
	require.Equal(t, 20*time.Millisecond, Canonical.Duration(640))

	stereo := Format{SampleRate: 48000, Channels: 2, Encoding: EncodingS16LE}
	require.Equal(t, time.Second, stereo.Duration(192000))

	require.Zero(t, Format{}.Duration(1000), "a zero format must not divide by zero")
}

func TestEncodingBytesPerSample(t *testing.T) {
	require.Equal(t, 1, EncodingS8.BytesPerSample())
	require.Equal(t, 2, EncodingS16LE.BytesPerSample())
	require.Equal(t, 3, EncodingS24LE.BytesPerSample())
	require.Equal(t, 4, EncodingS32LE.BytesPerSample())
	require.Equal(t, 4, EncodingF32LE.BytesPerSample())
	require.Zero(t, Encoding("mp3").BytesPerSample())
}
