// Package wavstream frames raw PCM for open-ended HTTP delivery as a RIFF/WAVE stream.
package wavstream

import (
	"encoding/binary"
	"fmt"
	"io"
	"time"

	"github.com/go-audio/audio"
)

const (
	// HeaderSize is the size of the canonical PCM WAVE header
	HeaderSize = 44
	// ContentType is the MIME type used for stream responses
	ContentType = "audio/wav"

	// streamingSize marks the RIFF and data lengths as unknown
	streamingSize = 0xFFFFFFFF

	fmtChunkSize  = 16
	formatTagPCM  = 1
	bitsPerByte   = 8
	maxSampleRate = 384000
)

// Format is the PCM layout carried in the header
type Format struct {
	audio.Format
	BitDepth int
}

// CDQuality is the layout produced by the capture backends: 44.1 kHz, 16-bit, stereo
var CDQuality = Format{
	Format:   audio.Format{NumChannels: 2, SampleRate: 44100},
	BitDepth: 16,
}

// BlockAlign returns the size of one frame in bytes
func (f Format) BlockAlign() int {
	return f.NumChannels * f.BitDepth / bitsPerByte
}

// ByteRate returns the number of PCM bytes per second
func (f Format) ByteRate() int {
	return f.SampleRate * f.BlockAlign()
}

// Duration returns the playback time covered by n PCM bytes
func (f Format) Duration(n int) time.Duration {
	rate := f.ByteRate()
	if rate <= 0 {
		return 0
	}
	return time.Duration(int64(n) * int64(time.Second) / int64(rate))
}

// Validate rejects layouts a WAVE header cannot describe
func (f Format) Validate() error {
	switch {
	case f.NumChannels < 1 || f.NumChannels > 8:
		return fmt.Errorf("unsupported channel count %d", f.NumChannels)
	case f.SampleRate < 1 || f.SampleRate > maxSampleRate:
		return fmt.Errorf("unsupported sample rate %d", f.SampleRate)
	case f.BitDepth != 8 && f.BitDepth != 16 && f.BitDepth != 24 && f.BitDepth != 32:
		return fmt.Errorf("unsupported bit depth %d", f.BitDepth)
	}
	return nil
}

// Header returns the 44-byte streaming header for f. Both length fields are set to
// 0xFFFFFFFF since the stream has no known end.
func Header(f Format) [HeaderSize]byte {
	var hdr [HeaderSize]byte
	copy(hdr[0:4], "RIFF")
	binary.LittleEndian.PutUint32(hdr[4:8], streamingSize)
	copy(hdr[8:12], "WAVE")
	copy(hdr[12:16], "fmt ")
	binary.LittleEndian.PutUint32(hdr[16:20], fmtChunkSize)
	binary.LittleEndian.PutUint16(hdr[20:22], formatTagPCM)
	binary.LittleEndian.PutUint16(hdr[22:24], uint16(f.NumChannels))  //nolint:gosec // validated range
	binary.LittleEndian.PutUint32(hdr[24:28], uint32(f.SampleRate))   //nolint:gosec // validated range
	binary.LittleEndian.PutUint32(hdr[28:32], uint32(f.ByteRate()))   //nolint:gosec // validated range
	binary.LittleEndian.PutUint16(hdr[32:34], uint16(f.BlockAlign())) //nolint:gosec // validated range
	binary.LittleEndian.PutUint16(hdr[34:36], uint16(f.BitDepth))     //nolint:gosec // validated range
	copy(hdr[36:40], "data")
	binary.LittleEndian.PutUint32(hdr[40:44], streamingSize)
	return hdr
}

// WriteHeader writes the streaming header for f to w
func WriteHeader(w io.Writer, f Format) (int, error) {
	if err := f.Validate(); err != nil {
		return 0, err
	}
	hdr := Header(f)
	return w.Write(hdr[:])
}
