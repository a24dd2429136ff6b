package capture

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/turntable-streamer/internal/errors"
)

const bluealsaListing = `bluealsa:DEV=AA:BB:CC:DD:EE:01,PROFILE=sco,SRV=org.bluealsa
    Headset, trusted phone, playback
    SCO (CVSD): S16_LE 1 channel 8000 Hz
bluealsa:DEV=F4:04:4C:1A:E5:B9,PROFILE=a2dp,SRV=org.bluealsa
    AT-TT, trusted audio-card, capture
    A2DP (SBC): S16_LE 2 channels 44100 Hz
`

const pipewireListing = `	id 31, type PipeWire:Interface:Node/3
 		object.serial = "31"
 		node.name = "alsa_output.pci-0000_00_1f.3.analog-stereo"
 		media.class = "Audio/Sink"
	id 58, type PipeWire:Interface:Node/3
 		object.serial = "58"
 		node.description = "AT-TT"
 		node.name = "bluez_input.F4_04_4C_1A_E5_B9.2"
 		media.class = "Audio/Source"
`

func TestParseBlueALSAPCMs(t *testing.T) {
	t.Parallel()

	devices := ParseBlueALSAPCMs([]byte(bluealsaListing))
	require.Len(t, devices, 2)

	assert.Equal(t, "bluealsa:DEV=F4:04:4C:1A:E5:B9,PROFILE=a2dp,SRV=org.bluealsa", devices[1].ID)
	assert.Equal(t, "F4:04:4C:1A:E5:B9", devices[1].MAC)
	assert.Equal(t, "a2dp", devices[1].Profile)
	assert.Equal(t, "AT-TT, trusted audio-card, capture", devices[1].Description)
	assert.Equal(t, "sco", devices[0].Profile)

	assert.Empty(t, ParseBlueALSAPCMs([]byte("no pcms here\n")))
}

func TestSelectBlueALSA(t *testing.T) {
	t.Parallel()

	devices := ParseBlueALSAPCMs([]byte(bluealsaListing))

	tests := []struct {
		name   string
		target string
		wantOK bool
		wantID string
	}{
		{"auto picks first a2dp", "", true, devices[1].ID},
		{"mac match", "AA:BB:CC:DD:EE:01", true, devices[0].ID},
		{"mac match ignores case", "f4:04:4c:1a:e5:b9", true, devices[1].ID},
		{"unknown mac", "00:00:00:00:00:00", false, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, ok := selectBlueALSA(devices, tt.target)
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.wantID, got.ID)
		})
	}
}

func TestParsePipeWireNodes(t *testing.T) {
	t.Parallel()

	devices := ParsePipeWireNodes([]byte(pipewireListing))
	require.Len(t, devices, 1)
	assert.Equal(t, "bluez_input.F4_04_4C_1A_E5_B9.2", devices[0].ID)
	assert.Equal(t, "F4:04:4C:1A:E5:B9", devices[0].MAC)
	assert.Equal(t, "AT-TT Audio/Source", devices[0].Description)

	b, err := NewBackend(BackendPipeWire, DefaultCommands(), nil)
	require.NoError(t, err)
	dev, ok := b.Select(devices, "F4:04:4C:1A:E5:B9")
	require.True(t, ok)
	assert.Equal(t, devices[0].ID, dev.ID)
	_, ok = b.Select(devices, "00:11:22:33:44:55")
	assert.False(t, ok)
}

func TestBackendDirectAndCommands(t *testing.T) {
	t.Parallel()

	cmds := DefaultCommands()

	t.Run("bluealsa", func(t *testing.T) {
		b, err := NewBackend(BackendBlueALSA, cmds, nil)
		require.NoError(t, err)

		id, ok := b.Direct("f4:04:4c:1a:e5:b9")
		require.True(t, ok)
		assert.Equal(t, "/org/bluealsa/hci0/dev_F4_04_4C_1A_E5_B9/a2dpsnk/source", id)
		_, ok = b.Direct("")
		assert.False(t, ok)

		src := b.NewSource("bluealsa:DEV=F4:04:4C:1A:E5:B9,PROFILE=a2dp,SRV=org.bluealsa")
		assert.Equal(t, "bluealsa-cli open /org/bluealsa/hci0/dev_F4_04_4C_1A_E5_B9/a2dpsnk/source", src.String())
	})

	t.Run("arecord", func(t *testing.T) {
		b, err := NewBackend(BackendARecord, cmds, nil)
		require.NoError(t, err)

		_, ok := b.Direct("F4:04:4C:1A:E5:B9")
		assert.False(t, ok)
		id, ok := b.Direct("bluealsa:DEV=F4:04:4C:1A:E5:B9,PROFILE=a2dp")
		require.True(t, ok)

		src := b.NewSource(id)
		assert.Equal(t, "arecord -D bluealsa:DEV=F4:04:4C:1A:E5:B9,PROFILE=a2dp -f S16_LE -c 2 -r 44100 -t raw", src.String())
	})

	t.Run("pipewire", func(t *testing.T) {
		b, err := NewBackend(BackendPipeWire, cmds, nil)
		require.NoError(t, err)

		_, ok := b.Direct("F4:04:4C:1A:E5:B9")
		assert.False(t, ok)
		id, ok := b.Direct("bluez_input.F4_04_4C_1A_E5_B9.2")
		require.True(t, ok)

		src := b.NewSource(id)
		assert.Equal(t, "pw-cat --record --target bluez_input.F4_04_4C_1A_E5_B9.2 --format s16 --rate 44100 --channels 2 -", src.String())
	})

	t.Run("unknown", func(t *testing.T) {
		_, err := NewBackend("jack", cmds, nil)
		require.Error(t, err)
		assert.True(t, errors.IsCategory(err, errors.CategoryConfiguration))
	})
}

func TestIsMAC(t *testing.T) {
	t.Parallel()

	assert.True(t, IsMAC("F4:04:4C:1A:E5:B9"))
	assert.True(t, IsMAC("f4:04:4c:1a:e5:b9"))
	assert.False(t, IsMAC("F4-04-4C-1A-E5-B9"))
	assert.False(t, IsMAC("F4:04:4C:1A:E5"))
	assert.False(t, IsMAC(""))
}

// countingRunner returns canned discovery output and counts invocations
type countingRunner struct {
	mu     sync.Mutex
	calls  int
	output string
}

func (r *countingRunner) run(_ context.Context, _ string, _ ...string) ([]byte, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	return []byte(r.output), nil
}

func (r *countingRunner) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls
}

func TestResolverCachesDiscovery(t *testing.T) {
	t.Parallel()

	runner := &countingRunner{output: bluealsaListing}
	b, err := NewBackend(BackendARecord, DefaultCommands(), runner.run)
	require.NoError(t, err)
	r := NewResolver(b, "", time.Hour)

	ctx := context.Background()
	id, err := r.Resolve(ctx)
	require.NoError(t, err)
	assert.Contains(t, id, "PROFILE=a2dp")

	_, err = r.Resolve(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, runner.count())

	r.Invalidate()
	_, err = r.Resolve(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, runner.count())
}

func TestResolverDirectSkipsDiscovery(t *testing.T) {
	t.Parallel()

	runner := &countingRunner{}
	b, err := NewBackend(BackendBlueALSA, DefaultCommands(), runner.run)
	require.NoError(t, err)

	id, err := NewResolver(b, "F4:04:4C:1A:E5:B9", time.Hour).Resolve(context.Background())
	require.NoError(t, err)
	assert.Equal(t, BlueALSAPath("F4:04:4C:1A:E5:B9"), id)
	assert.Zero(t, runner.count())
}

func TestResolverNoDevice(t *testing.T) {
	t.Parallel()

	runner := &countingRunner{output: "nothing connected\n"}
	b, err := NewBackend(BackendBlueALSA, DefaultCommands(), runner.run)
	require.NoError(t, err)

	_, err = NewResolver(b, "", time.Hour).Resolve(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNoDevice)
	assert.True(t, errors.IsCategory(err, errors.CategoryNotFound))
}
