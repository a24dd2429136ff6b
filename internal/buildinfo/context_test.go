package buildinfo

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestContext(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		ctx       *Context
		version   string
		buildDate string
		str       string
	}{
		{"nil context", nil, UnknownValue, UnknownValue, "unknown (built unknown)"},
		{"empty values", NewContext("", ""), UnknownValue, UnknownValue, "unknown (built unknown)"},
		{"release", NewContext("1.2.0", "2026-10-01"), "1.2.0", "2026-10-01", "1.2.0 (built 2026-10-01)"},
		{"pre-release", NewContext("1.3.0-rc.1", ""), "1.3.0-rc.1", UnknownValue, "1.3.0-rc.1 (built unknown)"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.version, tt.ctx.Version())
			assert.Equal(t, tt.buildDate, tt.ctx.BuildDate())
			assert.Equal(t, tt.str, tt.ctx.String())
		})
	}
}

func TestContextImplementsBuildInfo(t *testing.T) {
	t.Parallel()
	var info BuildInfo = NewContext("1.0.0", "")
	assert.Equal(t, "1.0.0", info.Version())
}
