package wavstream

import (
	"bytes"
	"encoding/binary"
	"testing"
	"time"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHeaderLayout(t *testing.T) {
	t.Parallel()

	hdr := Header(CDQuality)

	assert.Equal(t, "RIFF", string(hdr[0:4]))
	assert.Equal(t, uint32(0xFFFFFFFF), binary.LittleEndian.Uint32(hdr[4:8]))
	assert.Equal(t, "WAVE", string(hdr[8:12]))
	assert.Equal(t, "fmt ", string(hdr[12:16]))
	assert.Equal(t, uint32(16), binary.LittleEndian.Uint32(hdr[16:20]))
	assert.Equal(t, uint16(1), binary.LittleEndian.Uint16(hdr[20:22]))
	assert.Equal(t, uint16(2), binary.LittleEndian.Uint16(hdr[22:24]))
	assert.Equal(t, uint32(44100), binary.LittleEndian.Uint32(hdr[24:28]))
	assert.Equal(t, uint32(176400), binary.LittleEndian.Uint32(hdr[28:32]))
	assert.Equal(t, uint16(4), binary.LittleEndian.Uint16(hdr[32:34]))
	assert.Equal(t, uint16(16), binary.LittleEndian.Uint16(hdr[34:36]))
	assert.Equal(t, "data", string(hdr[36:40]))
	assert.Equal(t, uint32(0xFFFFFFFF), binary.LittleEndian.Uint32(hdr[40:44]))
}

func TestHeaderDecodesWithWavDecoder(t *testing.T) {
	t.Parallel()

	buf := &bytes.Buffer{}
	n, err := WriteHeader(buf, CDQuality)
	require.NoError(t, err)
	require.Equal(t, HeaderSize, n)
	// one second of silence after the header
	buf.Write(make([]byte, CDQuality.ByteRate()))

	dec := wav.NewDecoder(bytes.NewReader(buf.Bytes()))
	dec.ReadInfo()
	require.NoError(t, dec.Err())

	assert.Equal(t, uint16(1), dec.WavAudioFormat)
	assert.Equal(t, uint16(2), dec.NumChans)
	assert.Equal(t, uint32(44100), dec.SampleRate)
	assert.Equal(t, uint16(16), dec.BitDepth)
	assert.Equal(t, uint32(176400), dec.AvgBytesPerSec)
}

func TestFormatValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		format  Format
		wantErr bool
	}{
		{"cd quality", CDQuality, false},
		{"mono 48k", Format{audio.Format{NumChannels: 1, SampleRate: 48000}, 24}, false},
		{"no channels", Format{audio.Format{NumChannels: 0, SampleRate: 44100}, 16}, true},
		{"no rate", Format{audio.Format{NumChannels: 2, SampleRate: 0}, 16}, true},
		{"odd depth", Format{audio.Format{NumChannels: 2, SampleRate: 44100}, 12}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := tt.format.Validate()
			if tt.wantErr {
				require.Error(t, err)
				_, werr := WriteHeader(&bytes.Buffer{}, tt.format)
				assert.Error(t, werr)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestFormatDuration(t *testing.T) {
	t.Parallel()

	assert.Equal(t, time.Second, CDQuality.Duration(176400))
	assert.Equal(t, 500*time.Millisecond, CDQuality.Duration(88200))
	assert.Equal(t, time.Duration(0), Format{}.Duration(1000))
}
