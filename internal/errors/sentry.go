package errors

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/getsentry/sentry-go"
)

// TelemetryReporter receives errors produced by ErrorBuilder.Build
type TelemetryReporter interface {
	ReportError(err *EnhancedError)
	IsEnabled() bool
}

var globalTelemetryReporter TelemetryReporter

// SetTelemetryReporter installs the process-wide reporter. A nil or disabled reporter
// turns reporting off.
func SetTelemetryReporter(reporter TelemetryReporter) {
	globalTelemetryReporter = reporter
	hasActiveReporting.Store(reporter != nil && reporter.IsEnabled())
}

func reportToTelemetry(ee *EnhancedError) {
	if r := globalTelemetryReporter; r != nil && r.IsEnabled() {
		r.ReportError(ee)
	}
}

// SentryReporter reports errors to Sentry
type SentryReporter struct {
	enabled bool
}

// InitSentry initialises the Sentry SDK and returns a reporter for it
func InitSentry(dsn, release string) (*SentryReporter, error) {
	if dsn == "" {
		return &SentryReporter{}, nil
	}
	if err := sentry.Init(sentry.ClientOptions{
		Dsn:              dsn,
		Release:          release,
		AttachStacktrace: true,
	}); err != nil {
		return nil, fmt.Errorf("sentry init: %w", err)
	}
	return &SentryReporter{enabled: true}, nil
}

// FlushSentry waits up to timeout for queued events to be delivered
func FlushSentry(timeout time.Duration) {
	sentry.Flush(timeout)
}

// IsEnabled returns whether Sentry reporting is enabled
func (sr *SentryReporter) IsEnabled() bool {
	return sr != nil && sr.enabled
}

// ReportError sends ee to Sentry once. Low priority errors are not sent.
func (sr *SentryReporter) ReportError(ee *EnhancedError) {
	if !sr.IsEnabled() || ee.Priority == PriorityLow || !ee.MarkReported() {
		return
	}

	msg := scrubMessage(fmt.Sprintf("[%s] %s", ee.Category, ee.Err.Error()))
	title := errorTitle(ee)

	sentry.WithScope(func(scope *sentry.Scope) {
		scope.SetTag("component", ee.Component)
		scope.SetTag("category", string(ee.Category))
		if ee.Priority != "" {
			scope.SetTag("priority", ee.Priority)
		}
		for key, value := range ee.Context {
			if s, ok := value.(string); ok {
				value = scrubMessage(s)
			}
			scope.SetContext(key, map[string]any{"value": value})
		}
		scope.SetFingerprint([]string{title, ee.Component, string(ee.Category)})

		event := sentry.NewEvent()
		event.Level = sentryLevel(ee)
		event.Message = msg
		event.Exception = []sentry.Exception{{Type: title, Value: msg}}
		sentry.CaptureEvent(event)
	})
}

func errorTitle(ee *EnhancedError) string {
	parts := []string{ee.Component, string(ee.Category)}
	if op, ok := ee.Context["operation"].(string); ok && op != "" {
		parts = append(parts, strings.ReplaceAll(op, "_", " "))
	}
	return strings.Join(parts, " ")
}

func sentryLevel(ee *EnhancedError) sentry.Level {
	switch ee.Priority {
	case PriorityCritical, PriorityHigh:
		return sentry.LevelError
	}
	switch ee.Category {
	case CategoryAudioSource, CategoryNetwork, CategoryHTTP, CategoryBroadcast:
		return sentry.LevelWarning
	default:
		return sentry.LevelError
	}
}

var (
	macPattern   = regexp.MustCompile(`(?i)([0-9a-f]{2}[:_]){5}[0-9a-f]{2}`)
	queryPattern = regexp.MustCompile(`(https?://[^?\s]+)\?\S*`)
)

// scrubMessage removes Bluetooth addresses and URL query strings
func scrubMessage(message string) string {
	message = queryPattern.ReplaceAllString(message, "$1?[REDACTED]")
	return macPattern.ReplaceAllString(message, "[MAC]")
}
