package capture

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/tphakala/turntable-streamer/internal/errors"
)

// Backend names accepted by NewBackend
const (
	BackendBlueALSA = "bluealsa"
	BackendARecord  = "arecord"
	BackendPipeWire = "pipewire"
)

// Backends lists the supported backend names
var Backends = []string{BackendBlueALSA, BackendARecord, BackendPipeWire}

const (
	bluealsaPCMPrefix = "bluealsa:DEV="
	a2dpProfile       = "a2dp"
	discoveryTimeout  = 5 * time.Second
)

// Commands holds the helper binaries used by the backends
type Commands struct {
	BlueALSACLI   string `mapstructure:"bluealsacli" yaml:"bluealsacli"`
	BlueALSAAPlay string `mapstructure:"bluealsaaplay" yaml:"bluealsaaplay"`
	ARecord       string `mapstructure:"arecord" yaml:"arecord"`
	PWCat         string `mapstructure:"pwcat" yaml:"pwcat"`
	PWCLI         string `mapstructure:"pwcli" yaml:"pwcli"`
}

// DefaultCommands resolves the helpers through PATH
func DefaultCommands() Commands {
	return Commands{
		BlueALSACLI:   "bluealsa-cli",
		BlueALSAAPlay: "bluealsa-aplay",
		ARecord:       "arecord",
		PWCat:         "pw-cat",
		PWCLI:         "pw-cli",
	}
}

// Runner runs a discovery command and returns its stdout
type Runner func(ctx context.Context, name string, args ...string) ([]byte, error)

// ExecRunner runs the command with a bounded timeout
func ExecRunner(ctx context.Context, name string, args ...string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, discoveryTimeout)
	defer cancel()

	out, err := exec.CommandContext(ctx, name, args...).Output() //nolint:gosec // G204: helper names come from validated settings
	if err != nil {
		return nil, errors.New(fmt.Errorf("%s failed: %w", name, err)).
			Component("capture").
			Category(errors.CategoryCommandExecution).
			Priority(errors.PriorityLow).
			Context("operation", "discover").
			Context("command", name).
			Build()
	}
	return out, nil
}

// NewBackend returns the backend registered under name
func NewBackend(name string, cmds Commands, run Runner) (Backend, error) {
	if run == nil {
		run = ExecRunner
	}
	switch name {
	case BackendBlueALSA:
		return &blueALSABackend{cmds: cmds, run: run}, nil
	case BackendARecord:
		return &aRecordBackend{cmds: cmds, run: run}, nil
	case BackendPipeWire:
		return &pipeWireBackend{cmds: cmds, run: run}, nil
	default:
		return nil, errors.Newf("unknown capture backend %q", name).
			Component("capture").
			Category(errors.CategoryConfiguration).
			Context("backend", name).
			Build()
	}
}

// blueALSABackend opens the A2DP sink transport through bluealsa-cli
type blueALSABackend struct {
	cmds Commands
	run  Runner
}

func (b *blueALSABackend) Name() string { return BackendBlueALSA }

func (b *blueALSABackend) Discover(ctx context.Context) ([]Device, error) {
	out, err := b.run(ctx, b.cmds.BlueALSAAPlay, "--list-pcms")
	if err != nil {
		return nil, err
	}
	return ParseBlueALSAPCMs(out), nil
}

func (b *blueALSABackend) Select(devices []Device, target string) (Device, bool) {
	return selectBlueALSA(devices, target)
}

// Direct builds the D-Bus PCM path straight from a MAC or accepts a full path
func (b *blueALSABackend) Direct(target string) (string, bool) {
	switch {
	case IsMAC(target):
		return BlueALSAPath(target), true
	case strings.HasPrefix(target, "/org/bluealsa/"):
		return target, true
	}
	return "", false
}

func (b *blueALSABackend) NewSource(deviceID string) Source {
	if !strings.HasPrefix(deviceID, "/") {
		// a discovered ALSA PCM id; bluealsa-cli wants the D-Bus path
		if mac := pcmField(deviceID, "DEV"); mac != "" {
			deviceID = BlueALSAPath(mac)
		}
	}
	return NewProcessSource(b.cmds.BlueALSACLI, "open", deviceID)
}

// BlueALSAPath returns the BlueALSA D-Bus object path of the A2DP sink source for mac
func BlueALSAPath(mac string) string {
	return fmt.Sprintf("/org/bluealsa/hci0/dev_%s/a2dpsnk/source", underscoreMAC(mac))
}

// aRecordBackend captures the bluealsa ALSA PCM through arecord
type aRecordBackend struct {
	cmds Commands
	run  Runner
}

func (b *aRecordBackend) Name() string { return BackendARecord }

func (b *aRecordBackend) Discover(ctx context.Context) ([]Device, error) {
	out, err := b.run(ctx, b.cmds.BlueALSAAPlay, "--list-pcms")
	if err != nil {
		return nil, err
	}
	return ParseBlueALSAPCMs(out), nil
}

func (b *aRecordBackend) Select(devices []Device, target string) (Device, bool) {
	return selectBlueALSA(devices, target)
}

// Direct accepts a full ALSA PCM id; a bare MAC still goes through discovery
func (b *aRecordBackend) Direct(target string) (string, bool) {
	if strings.HasPrefix(target, "bluealsa:") {
		return target, true
	}
	return "", false
}

func (b *aRecordBackend) NewSource(deviceID string) Source {
	return NewProcessSource(b.cmds.ARecord,
		"-D", deviceID, "-f", "S16_LE", "-c", "2", "-r", "44100", "-t", "raw")
}

// pipeWireBackend records a bluez node through pw-cat
type pipeWireBackend struct {
	cmds Commands
	run  Runner
}

func (b *pipeWireBackend) Name() string { return BackendPipeWire }

func (b *pipeWireBackend) Discover(ctx context.Context) ([]Device, error) {
	out, err := b.run(ctx, b.cmds.PWCLI, "ls", "Node")
	if err != nil {
		return nil, err
	}
	return ParsePipeWireNodes(out), nil
}

func (b *pipeWireBackend) Select(devices []Device, target string) (Device, bool) {
	for _, d := range devices {
		if target == "" || d.ID == target || (d.MAC != "" && strings.EqualFold(d.MAC, target)) {
			return d, true
		}
	}
	return Device{}, false
}

// Direct accepts a node name that is not a MAC
func (b *pipeWireBackend) Direct(target string) (string, bool) {
	if target != "" && !IsMAC(target) {
		return target, true
	}
	return "", false
}

func (b *pipeWireBackend) NewSource(deviceID string) Source {
	return NewProcessSource(b.cmds.PWCat,
		"--record", "--target", deviceID,
		"--format", "s16", "--rate", "44100", "--channels", "2", "-")
}

// ParseBlueALSAPCMs parses `bluealsa-aplay --list-pcms`. Each PCM is a line starting with
// bluealsa:DEV= optionally followed by indented description lines.
func ParseBlueALSAPCMs(out []byte) []Device {
	var devices []Device
	sc := bufio.NewScanner(bytes.NewReader(out))
	for sc.Scan() {
		raw := sc.Text()
		line := strings.TrimSpace(raw)
		if strings.HasPrefix(line, bluealsaPCMPrefix) {
			devices = append(devices, Device{
				ID:      line,
				MAC:     strings.ToUpper(pcmField(line, "DEV")),
				Profile: pcmField(line, "PROFILE"),
			})
			continue
		}
		// the first indented line names the device
		if n := len(devices); n > 0 && line != "" && raw != line && devices[n-1].Description == "" {
			devices[n-1].Description = line
		}
	}
	return devices
}

// pcmField extracts KEY=value from an ALSA PCM id such as bluealsa:DEV=..,PROFILE=a2dp
func pcmField(pcm, key string) string {
	_, params, found := strings.Cut(pcm, ":")
	if !found {
		params = pcm
	}
	for kv := range strings.SplitSeq(params, ",") {
		k, v, ok := strings.Cut(kv, "=")
		if ok && strings.EqualFold(strings.TrimSpace(k), key) {
			return strings.TrimSpace(v)
		}
	}
	return ""
}

// selectBlueALSA picks the PCM for target MAC, or the first A2DP PCM when no target is set
func selectBlueALSA(devices []Device, target string) (Device, bool) {
	for _, d := range devices {
		if target != "" {
			if strings.Contains(strings.ToUpper(d.ID), strings.ToUpper(target)) {
				return d, true
			}
			continue
		}
		if strings.Contains(d.ID, "PROFILE="+a2dpProfile) {
			return d, true
		}
	}
	return Device{}, false
}

// ParsePipeWireNodes parses `pw-cli ls Node` and returns Bluetooth input nodes
func ParsePipeWireNodes(out []byte) []Device {
	type node struct {
		id, name, desc, class string
	}
	var nodes []node
	sc := bufio.NewScanner(bytes.NewReader(out))
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if rest, ok := strings.CutPrefix(line, "id "); ok {
			id, _, _ := strings.Cut(rest, ",")
			nodes = append(nodes, node{id: strings.TrimSpace(id)})
			continue
		}
		if len(nodes) == 0 {
			continue
		}
		k, v, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		v = strings.Trim(strings.TrimSpace(v), `"`)
		cur := &nodes[len(nodes)-1]
		switch strings.TrimSpace(k) {
		case "node.name":
			cur.name = v
		case "node.description":
			cur.desc = v
		case "media.class":
			cur.class = v
		}
	}

	var devices []Device
	for _, n := range nodes {
		if !strings.HasPrefix(n.name, "bluez_input.") && !strings.HasPrefix(n.name, "bluez_source.") {
			continue
		}
		devices = append(devices, Device{
			ID:          n.name,
			MAC:         nodeMAC(n.name),
			Profile:     a2dpProfile,
			Description: strings.TrimSpace(n.desc + " " + n.class),
		})
	}
	return devices
}

// nodeMAC extracts AA:BB:.. from bluez_input.AA_BB_CC_DD_EE_FF.2
func nodeMAC(name string) string {
	parts := strings.Split(name, ".")
	if len(parts) < 2 {
		return ""
	}
	mac := strings.ReplaceAll(parts[1], "_", ":")
	if !IsMAC(mac) {
		return ""
	}
	return strings.ToUpper(mac)
}
