package portal

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/EmpoweredVote/geo-ingest/internal/ingest"
	"github.com/EmpoweredVote/geo-ingest/internal/pgstore"
)

var errBadRequest = errors.New("bad request")

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, "Failed to encode response", http.StatusInternalServerError)
	}
}

// addServerTiming appends Server-Timing metrics, e.g. {"db", "12.3"}.
func addServerTiming(w http.ResponseWriter, kv ...[2]string) {
	if len(kv) == 0 {
		return
	}
	parts := make([]string, len(kv))
	for i, p := range kv {
		parts[i] = fmt.Sprintf("%s;dur=%s", p[0], p[1])
	}
	w.Header().Add("Server-Timing", strings.Join(parts, ", "))
}

func sinceMS(start time.Time) string {
	return strconv.FormatFloat(float64(time.Since(start).Microseconds())/1000, 'f', 1, 64)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]any{"ok": false, "error": msg})
}

// fail logs an internal error and answers 500 without leaking details.
func (s *Server) fail(w http.ResponseWriter, r *http.Request, msg string, err error) {
	s.Logger.Error(msg, zap.String("path", r.URL.Path), zap.Error(err))
	writeError(w, http.StatusInternalServerError, msg)
}

func (s *Server) HealthHandler(w http.ResponseWriter, r *http.Request) {
	now, err := s.Query.Now(r.Context())
	if err != nil {
		s.fail(w, r, "database unavailable", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "now": now})
}

func (s *Server) DetectionsHandler(w http.ResponseWriter, r *http.Request) {
	f, err := parseFilter(r.URL.Query())
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	start := time.Now()
	page, err := s.Query.ListDetections(r.Context(), f)
	addServerTiming(w, [2]string{"db", sinceMS(start)})
	if err != nil {
		s.fail(w, r, "failed to list detections", err)
		return
	}
	writeJSON(w, http.StatusOK, struct {
		OK bool `json:"ok"`
		pgstore.DetectionPage
	}{true, page})
}

func (s *Server) SummaryHandler(w http.ResponseWriter, r *http.Request) {
	f, err := parseFilter(r.URL.Query())
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	start := time.Now()
	sum, err := s.Query.Summarize(r.Context(), f)
	addServerTiming(w, [2]string{"db", sinceMS(start)})
	if err != nil {
		s.fail(w, r, "failed to summarize detections", err)
		return
	}
	writeJSON(w, http.StatusOK, struct {
		OK bool `json:"ok"`
		pgstore.Summary
	}{true, sum})
}

type fileResponse struct {
	SourceFile string     `json:"source_file"`
	SourceType string     `json:"source_type"`
	RowsSeen   int64      `json:"rows_seen"`
	RowsLoaded int64      `json:"rows_loaded"`
	LoadedAt   *time.Time `json:"loaded_at"`
	Notes      string     `json:"notes"`
	RunID      string     `json:"run_id"`
	CreatedAt  time.Time  `json:"created_at"`
}

func (s *Server) FilesHandler(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	if limit > pgstore.MaxLimit {
		limit = pgstore.MaxLimit
	}

	files, err := s.Query.ListFiles(r.Context(), limit)
	if err != nil {
		s.fail(w, r, "failed to list ingest files", err)
		return
	}

	items := make([]fileResponse, len(files))
	for i, f := range files {
		items[i] = fileResponse{
			SourceFile: f.SourceFile,
			SourceType: f.SourceType.String(),
			RowsSeen:   f.RowsSeen,
			RowsLoaded: f.RowsLoaded,
			LoadedAt:   f.LoadedAt,
			Notes:      f.Notes,
			RunID:      f.RunID.String(),
			CreatedAt:  f.CreatedAt,
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "items": items})
}

// parseFilter reads from, to, imsi, imei, page, limit, lat, lon and radius.
// imsi and imei take comma-separated or repeated values. The geographic
// filter applies only when lat, lon and radius are all present.
func parseFilter(q url.Values) (pgstore.DetectionFilter, error) {
	var f pgstore.DetectionFilter

	for _, p := range []struct {
		name string
		dst  **time.Time
	}{{"from", &f.From}, {"to", &f.To}} {
		v := q.Get(p.name)
		if v == "" {
			continue
		}
		t, ok := ingest.ParseTimestamp(v)
		if !ok {
			return f, fmt.Errorf("%w: invalid %s %q", errBadRequest, p.name, v)
		}
		*p.dst = &t
	}

	f.IMSI = listParam(q, "imsi")
	f.IMEI = listParam(q, "imei")

	f.Page, _ = strconv.Atoi(q.Get("page"))
	f.Limit, _ = strconv.Atoi(q.Get("limit"))
	f.Normalize()

	lat, lon, radius := q.Get("lat"), q.Get("lon"), q.Get("radius")
	if lat == "" || lon == "" || radius == "" {
		return f, nil
	}
	var n pgstore.Near
	var okLat, okLon, okRadius bool
	n.Lat, okLat = ingest.ParseFloat(lat)
	n.Lon, okLon = ingest.ParseFloat(lon)
	n.Radius, okRadius = ingest.ParseFloat(radius)
	if !okLat || !okLon || n.Lat < -90 || n.Lat > 90 || n.Lon < -180 || n.Lon > 180 {
		return f, fmt.Errorf("%w: invalid lat/lon", errBadRequest)
	}
	if !okRadius || n.Radius <= 0 {
		return f, fmt.Errorf("%w: radius must be a positive number of meters", errBadRequest)
	}
	f.Near = &n
	return f, nil
}

func listParam(q url.Values, name string) []string {
	var out []string
	for _, v := range q[name] {
		for _, s := range strings.Split(v, ",") {
			if s = strings.TrimSpace(s); s != "" {
				out = append(out, s)
			}
		}
	}
	return out
}
