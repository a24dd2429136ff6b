// Package buildinfo holds build-time metadata kept apart from user configuration
package buildinfo

import "fmt"

// UnknownValue is reported for metadata not injected at build time
const UnknownValue = "unknown"

// BuildInfo provides access to build-time metadata.
type BuildInfo interface {
	// Version returns the build version string
	Version() string
	// BuildDate returns the build date string
	BuildDate() string
}

// Context contains build-time metadata. It is injected at startup from linker flags and is
// never part of the configuration system.
type Context struct {
	version   string
	buildDate string
}

// NewContext creates build metadata from the values injected at build time
func NewContext(version, buildDate string) *Context {
	return &Context{version: version, buildDate: buildDate}
}

// Version implements BuildInfo.Version
func (c *Context) Version() string {
	if c == nil || c.version == "" {
		return UnknownValue
	}
	return c.version
}

// BuildDate implements BuildInfo.BuildDate
func (c *Context) BuildDate() string {
	if c == nil || c.buildDate == "" {
		return UnknownValue
	}
	return c.buildDate
}

// String formats the metadata for --version output
func (c *Context) String() string {
	return fmt.Sprintf("%s (built %s)", c.Version(), c.BuildDate())
}
