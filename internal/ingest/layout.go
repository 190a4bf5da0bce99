package ingest

import (
	"strings"
)

// SourceType identifies which upstream export layout a file uses. The set is
// closed; it is stored as a smallint next to every detection.
type SourceType int16

const (
	SourceUnknown SourceType = 0

	// SourceIDCatcher: dateTime, imsi, imei, ueLatitude/ueLongitude,
	// gps_latitude/gps_longitude, relative_ue_distance.
	SourceIDCatcher SourceType = 1

	// SourceInterrogation: Time, IMSI, IMEI, Latitude, Longitude.
	SourceInterrogation SourceType = 2

	// SourceInterrogationDB: the viewer's SQLite interrogation views. Only
	// produced by the dbexport reader, never by header detection.
	SourceInterrogationDB SourceType = 3
)

func (t SourceType) String() string {
	switch t {
	case SourceIDCatcher:
		return "idcatcher"
	case SourceInterrogation:
		return "interrogation"
	case SourceInterrogationDB:
		return "interrogation-db"
	default:
		return "unknown"
	}
}

// Column names, compared case-insensitively.
const (
	colDateTime     = "dateTime"
	colIMSI         = "imsi"
	colIMEI         = "imei"
	colUELatitude   = "ueLatitude"
	colUELongitude  = "ueLongitude"
	colGPSLatitude  = "gps_latitude"
	colGPSLongitude = "gps_longitude"
	colUEDistance   = "relative_ue_distance"
	colOperator     = "operator"

	colTime      = "Time"
	colLatitude  = "Latitude"
	colLongitude = "Longitude"
	colProvider  = "Provider"
	colRange     = "Estimated Range (m)"
)

// Detect classifies a header. The idcatcher layout is checked before the
// generic interrogation layout; the first match wins. It never looks at rows.
func Detect(header []string) SourceType {
	h := make(map[string]struct{}, len(header))
	for _, c := range header {
		h[foldColumn(c)] = struct{}{}
	}
	has := func(name string) bool {
		_, ok := h[foldColumn(name)]
		return ok
	}

	if has(colDateTime) && (has(colGPSLatitude) || has(colUELatitude)) {
		return SourceIDCatcher
	}
	if has(colTime) && has(colLatitude) && has(colLongitude) {
		return SourceInterrogation
	}
	return SourceUnknown
}

func foldColumn(name string) string {
	return strings.ToLower(strings.TrimSpace(strings.TrimPrefix(name, "\ufeff")))
}
