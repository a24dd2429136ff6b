package main

import (
	"os"

	"github.com/tphakala/turntable-streamer/cmd"
	"github.com/tphakala/turntable-streamer/internal/buildinfo"
	"github.com/tphakala/turntable-streamer/internal/conf"
	"github.com/tphakala/turntable-streamer/internal/logger"
)

// set at build time with -ldflags "-X main.version=... -X main.buildDate=..."
var (
	version   = "dev"
	buildDate string
)

func main() {
	var settings conf.Settings
	info := buildinfo.NewContext(version, buildDate)

	rootCmd := cmd.RootCommand(&settings, info)
	err := rootCmd.Execute()

	// os.Exit skips deferred calls, so flush buffered log output first
	_ = logger.Global().Close()
	if err != nil {
		os.Exit(1)
	}
}
