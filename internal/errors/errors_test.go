package errors

import (
	"fmt"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuilderDefaults(t *testing.T) {
	ee := New(fmt.Errorf("test error")).Build()

	assert.Equal(t, "test error", ee.Error())
	assert.Equal(t, ComponentUnknown, ee.Component)
	assert.Equal(t, CategoryGeneric, ee.Category)
	assert.False(t, ee.Timestamp.IsZero())
}

func TestBuilderCarriesContext(t *testing.T) {
	ee := Newf("open %s", "pcm").
		Component("capture").
		Category(CategoryAudioSource).
		Priority(PriorityLow).
		Context("device", "hci0").
		Timing("open_source", 1500*time.Millisecond).
		Build()

	assert.Equal(t, "capture", ee.Component)
	assert.Equal(t, PriorityLow, ee.Priority)
	assert.True(t, IsCategory(ee, CategoryAudioSource))
	assert.False(t, IsCategory(ee, CategoryHTTP))

	ctx := ee.GetContext()
	assert.Equal(t, "hci0", ctx["device"])
	assert.Equal(t, "open_source", ctx["operation"])
	assert.Equal(t, int64(1500), ctx["duration_ms"])

	ctx["device"] = "mutated"
	assert.Equal(t, "hci0", ee.Context["device"])
}

func TestPriorityFallback(t *testing.T) {
	assert.Equal(t, PriorityMedium, New(io.EOF).Priority("urgent").Build().Priority)
	assert.Empty(t, New(io.EOF).Priority("").Build().Priority)
}

func TestUnwrapAndIs(t *testing.T) {
	ee := New(fmt.Errorf("read: %w", io.EOF)).Category(CategoryAudioSource).Build()

	assert.ErrorIs(t, ee, io.EOF)
	wrapped := fmt.Errorf("capture: %w", ee)
	assert.True(t, IsCategory(wrapped, CategoryAudioSource))

	// category is inherited when wrapping an enhanced error
	outer := New(wrapped).Build()
	assert.Equal(t, CategoryAudioSource, outer.Category)
}

type recordingReporter struct {
	got []*EnhancedError
}

func (r *recordingReporter) ReportError(ee *EnhancedError) { r.got = append(r.got, ee) }
func (r *recordingReporter) IsEnabled() bool              { return true }

func TestTelemetryReporterReceivesErrors(t *testing.T) {
	rec := &recordingReporter{}
	SetTelemetryReporter(rec)
	t.Cleanup(func() { SetTelemetryReporter(nil) })

	ee := New(io.ErrUnexpectedEOF).Component("capture").Build()
	require.Len(t, rec.got, 1)
	assert.Same(t, ee, rec.got[0])

	assert.True(t, ee.MarkReported())
	assert.False(t, ee.MarkReported())
}

func TestDisabledSentryReporter(t *testing.T) {
	r, err := InitSentry("", "test")
	require.NoError(t, err)
	assert.False(t, r.IsEnabled())

	ee := New(io.EOF).Build()
	r.ReportError(ee)
	assert.True(t, ee.MarkReported(), "disabled reporter must not mark errors")
}

func TestScrubMessage(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"mac colon", "device 00:1A:7D:DA:71:13 not found", "device [MAC] not found"},
		{"mac underscore", "/org/bluealsa/hci0/dev_00_1A_7D_DA_71_13/a2dpsnk", "/org/bluealsa/hci0/dev_[MAC]/a2dpsnk"},
		{"query", "GET http://host/x?token=abc failed", "GET http://host/x?[REDACTED] failed"},
		{"clean", "nothing here", "nothing here"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, scrubMessage(tt.in))
		})
	}
}
