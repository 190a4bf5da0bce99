package ingest

import (
	"math"
	"strconv"
	"strings"
	"time"
)

// zeroEpsilon: a pair this close to (0, 0) is a "no fix" sentinel from
// broken GPS units, not a position in the Gulf of Guinea.
const zeroEpsilon = 1e-9

// ValidCoordinates reports whether a pair is usable as a position.
func ValidCoordinates(lat, lon *float64) bool {
	if lat == nil || lon == nil {
		return false
	}
	if math.Abs(*lat) < zeroEpsilon && math.Abs(*lon) < zeroEpsilon {
		return false
	}
	return *lat >= -90 && *lat <= 90 && *lon >= -180 && *lon <= 180
}

// Normalizer maps a raw row of one layout onto a Detection. ok is false when
// the row is unusable (no parseable timestamp). Provenance fields are left
// for the caller.
type Normalizer func(row Row) (d Detection, ok bool)

// NormalizerFor returns the normalizer for a layout, or nil for
// SourceUnknown.
func NormalizerFor(st SourceType) Normalizer {
	switch st {
	case SourceIDCatcher:
		return normalizeIDCatcher
	case SourceInterrogation:
		return normalizeInterrogation
	case SourceInterrogationDB:
		return normalizeInterrogationDB
	default:
		return nil
	}
}

// Normalize is NormalizerFor(st)(row), with provenance filled in.
func Normalize(st SourceType, sourceFile string, row Row) (Detection, bool) {
	n := NormalizerFor(st)
	if n == nil {
		return Detection{}, false
	}
	d, ok := n(row)
	if !ok {
		return Detection{}, false
	}
	d.SourceType = st
	d.SourceFile = sourceFile
	d.SourceRow = row.Ordinal
	return d, true
}

// normalizeIDCatcher prefers the position the handset reported, falls back
// to the unit's own GPS fix, and otherwise leaves the position empty. Pairs
// are taken whole; a latitude is never combined with the other source's
// longitude. The distance cell is read independently of which pair wins.
func normalizeIDCatcher(row Row) (Detection, bool) {
	ts, ok := ParseTimestamp(row.Get(colDateTime))
	if !ok {
		return Detection{}, false
	}

	d := Detection{
		Timestamp:      ts,
		IMSI:           optionalString(row.Get(colIMSI)),
		IMEI:           optionalString(row.Get(colIMEI)),
		Operator:       optionalString(row.Get(colOperator)),
		DistanceMeters: parseFloatPtr(row.Get(colUEDistance)),
	}

	ueLat, ueLon := parseFloatPtr(row.Get(colUELatitude)), parseFloatPtr(row.Get(colUELongitude))
	gpsLat, gpsLon := parseFloatPtr(row.Get(colGPSLatitude)), parseFloatPtr(row.Get(colGPSLongitude))

	switch {
	case ValidCoordinates(ueLat, ueLon):
		d.Latitude, d.Longitude = ueLat, ueLon
	case ValidCoordinates(gpsLat, gpsLon):
		d.Latitude, d.Longitude = gpsLat, gpsLon
	}
	return d, true
}

func normalizeInterrogation(row Row) (Detection, bool) {
	ts, ok := ParseTimestamp(row.Get(colTime))
	if !ok {
		return Detection{}, false
	}

	d := Detection{
		Timestamp: ts,
		IMSI:      optionalString(row.Get(colIMSI)),
		IMEI:      optionalString(row.Get(colIMEI)),
		Operator:  optionalString(row.Get(colProvider, colOperator)),
	}
	d.Latitude, d.Longitude = singleSourcePair(row.Get(colLatitude), row.Get(colLongitude))
	return d, true
}

func normalizeInterrogationDB(row Row) (Detection, bool) {
	raw := row.Get(colTime)
	ts, ok := ParseTimestamp(raw)
	if !ok {
		if ts, ok = unixSeconds(raw); !ok {
			return Detection{}, false
		}
	}

	d := Detection{
		Timestamp:      ts,
		IMSI:           optionalString(row.Get(colIMSI)),
		IMEI:           optionalString(row.Get(colIMEI)),
		Operator:       optionalString(row.Get(colProvider)),
		DistanceMeters: parseFloatPtr(row.Get(colRange)),
	}
	d.Latitude, d.Longitude = singleSourcePair(row.Get(colLatitude), row.Get(colLongitude))
	return d, true
}

// singleSourcePair returns the pair when it passes ValidCoordinates and nil,
// nil otherwise.
func singleSourcePair(latCell, lonCell string) (*float64, *float64) {
	lat, lon := parseFloatPtr(latCell), parseFloatPtr(lonCell)
	if !ValidCoordinates(lat, lon) {
		return nil, nil
	}
	return lat, lon
}

func unixSeconds(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) || f <= 0 {
		return time.Time{}, false
	}
	sec, frac := math.Modf(f)
	return time.Unix(int64(sec), int64(frac*1e9)).UTC(), true
}
