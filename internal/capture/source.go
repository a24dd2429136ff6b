// Package capture reads raw PCM from an external Bluetooth audio subsystem and feeds it into
// the shared audio buffer.
//
// The reconnect logic only depends on the Source capability (open, read, close). The
// shipped sources wrap a helper process (bluealsa-cli, arecord or pw-cat) whose stdout is the
// PCM stream, but any reopenable byte stream can be plugged in.
package capture

import (
	"context"
	"io"
	"regexp"
	"strings"

	"github.com/tphakala/turntable-streamer/internal/errors"
)

var (
	// ErrNoDevice is returned when discovery finds no usable audio source
	ErrNoDevice = errors.NewStd("no bluetooth audio source found")
	// ErrSourceClosed is returned when a source reaches end of stream
	ErrSourceClosed = errors.NewStd("audio source closed")
)

// Source is a reopenable PCM byte stream. Read and Close may be called from different
// goroutines; Close must unblock a pending Read.
type Source interface {
	io.ReadCloser
	// Open acquires the underlying resource. A Source is opened at most once.
	Open(ctx context.Context) error
	// String describes the source for logs
	String() string
}

// Device is one candidate audio source reported by the Bluetooth audio subsystem
type Device struct {
	// ID is what the backend passes to its capture tool
	ID string `json:"id" yaml:"id"`
	// MAC is the remote device address when known
	MAC string `json:"mac,omitempty" yaml:"mac,omitempty"`
	// Profile is the Bluetooth profile, e.g. a2dp
	Profile string `json:"profile,omitempty" yaml:"profile,omitempty"`
	// Description is the human readable name
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
}

// Backend knows how to list devices and open a capture source for one of them
type Backend interface {
	Name() string
	// Discover lists the devices currently offered by the audio subsystem
	Discover(ctx context.Context) ([]Device, error)
	// Select picks the device to capture from. target is the configured device, possibly empty.
	Select(devices []Device, target string) (Device, bool)
	// Direct maps a configured target to a device id without discovery when possible
	Direct(target string) (string, bool)
	// NewSource returns an unopened source for a device id
	NewSource(deviceID string) Source
}

var macPattern = regexp.MustCompile(`^([0-9A-Fa-f]{2}:){5}[0-9A-Fa-f]{2}$`)

// IsMAC reports whether s is a colon separated Bluetooth address
func IsMAC(s string) bool {
	return macPattern.MatchString(s)
}

// underscoreMAC converts AA:BB:.. to AA_BB_.. as used in BlueZ object and node names
func underscoreMAC(mac string) string {
	return strings.ToUpper(strings.ReplaceAll(mac, ":", "_"))
}
