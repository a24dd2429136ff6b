package httpcontroller

import (
	"fmt"
	"html/template"
	"time"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// templateFunctions returns the functions available to the views
func templateFunctions() template.FuncMap {
	return template.FuncMap{
		"title":    titleCase,
		"mb":       formatMB,
		"percent":  formatPercent,
		"duration": formatDuration,
		"barWidth": barWidth,
	}
}

// titleCase builds a Caser per call since a Caser must not be shared between goroutines
func titleCase(s string) string {
	return cases.Title(language.English).String(s)
}

// formatMB renders a decimal megabyte figure with two decimals
func formatMB(v float64) string {
	return fmt.Sprintf("%.2f MB", v)
}

func formatPercent(v float64) string {
	return fmt.Sprintf("%.1f%%", v)
}

// formatDuration rounds to tenths of a second
func formatDuration(d time.Duration) string {
	return d.Round(100 * time.Millisecond).String()
}

// barWidth clamps a percentage into [0, 100] for use as a CSS width
func barWidth(v float64) int {
	switch {
	case v < 0:
		return 0
	case v > 100:
		return 100
	default:
		return int(v)
	}
}
