// Package report extracts summary figures from the free-text edit report
// produced by the cut stage.
package report

import (
	"regexp"
	"strconv"
	"strings"
)

// DefaultCutPercentage is used when no figure can be parsed.
const DefaultCutPercentage = 0.0

var percentPattern = regexp.MustCompile(`(\d+(?:\.\d+)?)\s*%`)

// lineMarkers identify lines that talk about removed footage.
var lineMarkers = []string{"절약", "saved", "cut"}

// ParseCutPercentage returns the first percentage found on a line mentioning
// saved or cut footage. ok is false when no such figure exists or the value
// is outside 0..100.
func ParseCutPercentage(markdown string) (pct float64, ok bool) {
	for _, line := range strings.Split(markdown, "\n") {
		lower := strings.ToLower(line)
		if !containsAny(lower, lineMarkers) {
			continue
		}
		m := percentPattern.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		v, err := strconv.ParseFloat(m[1], 64)
		if err != nil || v < 0 || v > 100 {
			return DefaultCutPercentage, false
		}
		return v, true
	}
	return DefaultCutPercentage, false
}

// CutPercentage returns the parsed percentage or DefaultCutPercentage.
func CutPercentage(markdown string) float64 {
	pct, _ := ParseCutPercentage(markdown)
	return pct
}

// CutDurationSeconds converts a percentage of total into whole seconds.
func CutDurationSeconds(totalSeconds int, pct float64) int {
	return int(float64(totalSeconds) * pct / 100)
}

func containsAny(s string, needles []string) bool {
	for _, n := range needles {
		if strings.Contains(s, n) {
			return true
		}
	}
	return false
}
