// conf/defaults.go default values for settings
package conf

import (
	"time"

	"github.com/spf13/viper"

	"github.com/tphakala/turntable-streamer/internal/audiobuffer"
	"github.com/tphakala/turntable-streamer/internal/capture"
)

// DefaultPort is the HTTP listen port
const DefaultPort = 80

// setDefaultConfig sets default values for every key
func setDefaultConfig(v *viper.Viper) {
	v.SetDefault("debug", false)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.file.enabled", false)
	v.SetDefault("logging.file.path", "logs/turntable.log")

	cmds := capture.DefaultCommands()
	v.SetDefault("capture.device", "")
	v.SetDefault("capture.backend", capture.BackendBlueALSA)
	v.SetDefault("capture.chunksize", audiobuffer.DefaultChunkSize)
	v.SetDefault("capture.backoff", capture.DefaultBackoff)
	v.SetDefault("capture.maxbackoff", capture.DefaultMaxBackoff)
	v.SetDefault("capture.discoveryinterval", capture.DefaultDiscoveryInterval)
	v.SetDefault("capture.discoveryttl", capture.DefaultDiscoveryTTL)
	v.SetDefault("capture.commands.bluealsacli", cmds.BlueALSACLI)
	v.SetDefault("capture.commands.bluealsaaplay", cmds.BlueALSAAPlay)
	v.SetDefault("capture.commands.arecord", cmds.ARecord)
	v.SetDefault("capture.commands.pwcat", cmds.PWCat)
	v.SetDefault("capture.commands.pwcli", cmds.PWCLI)

	v.SetDefault("buffer.capacity", audiobuffer.DefaultCapacity)
	v.SetDefault("buffer.prebuffer", audiobuffer.DefaultPrebufferThreshold)

	v.SetDefault("webserver.host", "")
	v.SetDefault("webserver.port", DefaultPort)
	v.SetDefault("webserver.metrics", true)

	v.SetDefault("sentry.enabled", false)
	v.SetDefault("sentry.dsn", "")
}

// ShutdownTimeout bounds the graceful HTTP shutdown
const ShutdownTimeout = 5 * time.Second
