package discover

import (
	"context"
	"io"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/tphakala/turntable-streamer/internal/capture"
	"github.com/tphakala/turntable-streamer/internal/conf"
)

// discoverTimeout bounds a single discovery run
const discoverTimeout = 10 * time.Second

// Report is what the discover command prints
type Report struct {
	Backend  string           `yaml:"backend"`
	Target   string           `yaml:"target"`
	Selected string           `yaml:"selected"`
	Devices  []capture.Device `yaml:"devices"`
}

// Command creates the discover command.
func Command(settings *conf.Settings) *cobra.Command {
	return &cobra.Command{
		Use:   "discover",
		Short: "List Bluetooth audio sources",
		Long:  "Run device discovery once and print the sources found and the one capture would open.",
		RunE: func(cmd *cobra.Command, args []string) error {
			backend, err := capture.NewBackend(settings.Capture.Backend, settings.Capture.Commands, nil)
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), discoverTimeout)
			defer cancel()

			report, err := Discover(ctx, backend, settings.Capture.Device)
			if err != nil {
				return err
			}
			return writeReport(cmd.OutOrStdout(), report)
		},
	}
}

// Discover lists the devices offered by backend and marks the one selected for target
func Discover(ctx context.Context, backend capture.Backend, target string) (Report, error) {
	devices, err := backend.Discover(ctx)
	if err != nil {
		return Report{}, err
	}
	r := Report{Backend: backend.Name(), Target: target, Devices: devices}
	if dev, ok := backend.Select(devices, target); ok {
		r.Selected = dev.ID
	} else if id, ok := backend.Direct(target); ok {
		r.Selected = id
	}
	return r, nil
}

func writeReport(w io.Writer, r Report) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(r); err != nil {
		return err
	}
	return enc.Close()
}
