package config

import (
	"io"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/tphakala/turntable-streamer/internal/conf"
	"github.com/tphakala/turntable-streamer/internal/logger"
)

const redacted = "[REDACTED]"

// Command creates the config command.
func Command(settings *conf.Settings) *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration",
		Long:  "Print the settings after defaults, config file, environment and flags are applied. Secrets are redacted.",
		RunE: func(cmd *cobra.Command, args []string) error {
			if path := conf.ConfigFileUsed(); path != "" {
				cmd.PrintErrf("# config file: %s\n", path)
			}
			return Write(cmd.OutOrStdout(), settings)
		},
	}
}

// Write encodes settings as YAML with every sensitive value replaced
func Write(w io.Writer, settings *conf.Settings) error {
	var doc yaml.Node
	if err := doc.Encode(settings); err != nil {
		return err
	}
	redactNode(&doc)

	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(&doc); err != nil {
		return err
	}
	return enc.Close()
}

// redactNode walks mapping nodes and blanks non-empty scalar values under sensitive keys
func redactNode(n *yaml.Node) {
	if n.Kind == yaml.MappingNode {
		for i := 0; i+1 < len(n.Content); i += 2 {
			key, val := n.Content[i], n.Content[i+1]
			if val.Kind == yaml.ScalarNode && val.Value != "" && logger.IsSensitiveKey(key.Value) {
				val.Value = redacted
				val.Tag = "!!str"
				val.Style = 0
			}
		}
	}
	for _, c := range n.Content {
		redactNode(c)
	}
}
