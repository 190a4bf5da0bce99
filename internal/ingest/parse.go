package ingest

import (
	"math"
	"strconv"
	"strings"
	"time"
)

// Exact layouts produced by the capture tools, tried before the generic ISO
// fallbacks.
var exactLayouts = []string{
	"2006-01-02 15:04:05",
	"2006-01-02 15:04:05.999999",
}

// isoLayouts covers both date/time separators, optional seconds (with or
// without a fraction) and the +hh:mm, +hhmm and +hh offset forms. A trailing
// Z is rewritten to +00:00 before these are tried.
var isoLayouts = func() []string {
	var out []string
	for _, sep := range []string{"T", " "} {
		for _, clock := range []string{"15:04:05", "15:04"} {
			for _, zone := range []string{"Z07:00", "Z0700", "Z07", ""} {
				out = append(out, "2006-01-02"+sep+clock+zone)
			}
		}
	}
	return append(out, "2006-01-02")
}()

// Day-first layouts seen in exports from Spanish-locale workstations.
var dayFirstLayouts = []string{
	"02/01/2006 15:04:05",
	"02/01/2006T15:04:05",
}

// ParseTimestamp converts a raw cell into a timestamp. Values without an
// explicit offset are read as UTC. ok is false for empty or unparseable input.
func ParseTimestamp(s string) (t time.Time, ok bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}

	for _, layout := range exactLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}

	iso := s
	if strings.HasSuffix(iso, "Z") || strings.HasSuffix(iso, "z") {
		iso = iso[:len(iso)-1] + "+00:00"
	}
	for _, layout := range isoLayouts {
		if t, err := time.Parse(layout, iso); err == nil {
			return t, true
		}
	}

	for _, layout := range dayFirstLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// ParseFloat converts a raw cell into a float, accepting a comma as decimal
// separator. ok is false for empty, unparseable or non-finite input.
func ParseFloat(s string) (f float64, ok bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, false
	}
	s = strings.ReplaceAll(s, ",", ".")
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

// parseFloatPtr is ParseFloat in the shape the normalizers store.
func parseFloatPtr(s string) *float64 {
	f, ok := ParseFloat(s)
	if !ok {
		return nil
	}
	return &f
}

// optionalString trims s and maps the empty string to nil.
func optionalString(s string) *string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return &s
}
