package portal

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/EmpoweredVote/geo-ingest/internal/ingest"
	"github.com/EmpoweredVote/geo-ingest/internal/pgstore"
)

type fakeQuerier struct {
	filter pgstore.DetectionFilter
	limit  int
	err    error
}

func (f *fakeQuerier) Now(ctx context.Context) (time.Time, error) {
	return time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC), f.err
}

func (f *fakeQuerier) ListDetections(ctx context.Context, filter pgstore.DetectionFilter) (pgstore.DetectionPage, error) {
	f.filter = filter
	imsi := "214010000000001"
	return pgstore.DetectionPage{
		Page:  filter.Page,
		Limit: filter.Limit,
		Total: 1,
		Items: []pgstore.DetectionRow{{IMSI: &imsi, SourceFile: "a.csv", SourceRow: 3}},
	}, f.err
}

func (f *fakeQuerier) Summarize(ctx context.Context, filter pgstore.DetectionFilter) (pgstore.Summary, error) {
	f.filter = filter
	return pgstore.Summary{Total: 4, IMSIUnique: 2}, f.err
}

func (f *fakeQuerier) ListFiles(ctx context.Context, limit int) ([]ingest.IngestFile, error) {
	f.limit = limit
	return []ingest.IngestFile{{
		SourceFile: "a.csv",
		SourceType: ingest.SourceInterrogation,
		RowsSeen:   3,
		RowsLoaded: 2,
		Notes:      ingest.NoteOK,
		RunID:      uuid.MustParse("6f1c2f9e-4e55-4b44-9a57-1d3c7a0f2b11"),
	}}, f.err
}

type fakeIngestor struct {
	saveRaw  bool
	inputs   []ingest.Input
	contents []string
}

func (f *fakeIngestor) IngestAll(ctx context.Context, inputs []ingest.Input) []ingest.Result {
	f.inputs = inputs
	out := make([]ingest.Result, len(inputs))
	for i, in := range inputs {
		b, _ := os.ReadFile(in.Path)
		f.contents = append(f.contents, string(b))
		out[i] = ingest.Result{SourceFile: in.SourceFile(), State: ingest.StateFinalized, RowsSeen: 1, RowsLoaded: 1}
	}
	return out
}

type allowToken string

func (a allowToken) VerifyToken(token string) error {
	if token != string(a) {
		return errors.New("bad token")
	}
	return nil
}

func newTestServer(t *testing.T) (*Server, *fakeQuerier, *fakeIngestor) {
	t.Helper()
	q := &fakeQuerier{}
	ing := &fakeIngestor{}
	s := &Server{
		Query: q,
		NewIngestor: func(saveRaw bool) Ingestor {
			ing.saveRaw = saveRaw
			return ing
		},
		UploadDir:   t.TempDir(),
		Tokens:      allowToken("secret"),
		UploadRate:  100,
		UploadBurst: 100,
	}
	return s, q, ing
}

func get(t *testing.T, h http.Handler, target string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("invalid JSON from %s: %v\n%s", target, err, rec.Body.String())
	}
	return rec, body
}

func TestHealth(t *testing.T) {
	s, q, _ := newTestServer(t)
	h := s.SetupRoutes()

	rec, body := get(t, h, "/health")
	if rec.Code != http.StatusOK || body["ok"] != true {
		t.Fatalf("health = %d %v", rec.Code, body)
	}

	q.err = errors.New("connection refused")
	rec, body = get(t, h, "/health")
	if rec.Code != http.StatusInternalServerError || body["ok"] != false {
		t.Errorf("health with db down = %d %v", rec.Code, body)
	}
	if strings.Contains(rec.Body.String(), "connection refused") {
		t.Error("internal error leaked to client")
	}
}

func TestDetectionsParsesFilter(t *testing.T) {
	s, q, _ := newTestServer(t)
	h := s.SetupRoutes()

	rec, body := get(t, h, "/detections?from=2024-01-01&to=2024-02-01T00:00:00Z&imsi=1,2&imsi=3&imei=9&page=2&limit=9999&lat=40.4&lon=-3.7&radius=250")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	if body["ok"] != true || body["total"] != float64(1) {
		t.Errorf("body = %v", body)
	}
	if st := rec.Header().Get("Server-Timing"); !strings.HasPrefix(st, "db;dur=") {
		t.Errorf("Server-Timing = %q", st)
	}

	f := q.filter
	if f.From == nil || !f.From.Equal(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("from = %v", f.From)
	}
	if f.To == nil || !f.To.Equal(time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("to = %v", f.To)
	}
	if strings.Join(f.IMSI, "|") != "1|2|3" || strings.Join(f.IMEI, "|") != "9" {
		t.Errorf("imsi = %v, imei = %v", f.IMSI, f.IMEI)
	}
	if f.Page != 2 || f.Limit != pgstore.MaxLimit {
		t.Errorf("page = %d, limit = %d", f.Page, f.Limit)
	}
	if f.Near == nil || f.Near.Lat != 40.4 || f.Near.Lon != -3.7 || f.Near.Radius != 250 {
		t.Errorf("near = %+v", f.Near)
	}
}

func TestDetectionsDefaultsAndPartialGeo(t *testing.T) {
	s, q, _ := newTestServer(t)
	h := s.SetupRoutes()

	// Without radius the geographic filter is ignored.
	if rec, _ := get(t, h, "/detections?lat=40&lon=-3"); rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if q.filter.Near != nil {
		t.Errorf("near = %+v, want nil", q.filter.Near)
	}
	if q.filter.Page != 1 || q.filter.Limit != pgstore.DefaultLimit {
		t.Errorf("page = %d, limit = %d", q.filter.Page, q.filter.Limit)
	}
}

func TestDetectionsHugePageIsClamped(t *testing.T) {
	s, q, _ := newTestServer(t)
	h := s.SetupRoutes()

	if rec, _ := get(t, h, "/detections?page=9223372036854775807&limit=500"); rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if q.filter.Page != pgstore.MaxPage {
		t.Errorf("page = %d, want %d", q.filter.Page, pgstore.MaxPage)
	}
	if offset := (q.filter.Page - 1) * q.filter.Limit; offset < 0 {
		t.Errorf("offset overflowed: %d", offset)
	}
}

func TestDetectionsRejectsBadInput(t *testing.T) {
	s, _, _ := newTestServer(t)
	h := s.SetupRoutes()

	for _, target := range []string{
		"/detections?from=yesterday",
		"/detections?lat=95&lon=0&radius=10",
		"/detections?lat=40&lon=-3&radius=-1",
		"/detections/summary?to=31-31-2024",
	} {
		rec, body := get(t, h, target)
		if rec.Code != http.StatusBadRequest || body["ok"] != false {
			t.Errorf("%s = %d %v, want 400", target, rec.Code, body)
		}
	}
}

func TestSummary(t *testing.T) {
	s, q, _ := newTestServer(t)
	h := s.SetupRoutes()

	rec, body := get(t, h, "/detections/summary?imsi=1")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if body["total"] != float64(4) || body["imsi_unique"] != float64(2) {
		t.Errorf("body = %v", body)
	}
	if len(q.filter.IMSI) != 1 {
		t.Errorf("imsi = %v", q.filter.IMSI)
	}
}

func TestFiles(t *testing.T) {
	s, q, _ := newTestServer(t)
	h := s.SetupRoutes()

	rec, body := get(t, h, "/ingest/files?limit=10")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if q.limit != 10 {
		t.Errorf("limit = %d", q.limit)
	}
	items, _ := body["items"].([]any)
	if len(items) != 1 {
		t.Fatalf("items = %v", body["items"])
	}
	item := items[0].(map[string]any)
	if item["source_type"] != "interrogation" || item["notes"] != "ok" || item["run_id"] != "6f1c2f9e-4e55-4b44-9a57-1d3c7a0f2b11" {
		t.Errorf("item = %v", item)
	}
}

func multipartBody(t *testing.T, files map[string]string) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for name, content := range files {
		fw, err := mw.CreateFormFile("files", name)
		if err != nil {
			t.Fatal(err)
		}
		if _, err := fw.Write([]byte(content)); err != nil {
			t.Fatal(err)
		}
	}
	if err := mw.Close(); err != nil {
		t.Fatal(err)
	}
	return &buf, mw.FormDataContentType()
}

func upload(t *testing.T, h http.Handler, target, token string, files map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	body, ctype := multipartBody(t, files)
	req := httptest.NewRequest(http.MethodPost, target, body)
	req.Header.Set("Content-Type", ctype)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestUpload(t *testing.T) {
	s, _, ing := newTestServer(t)
	h := s.SetupRoutes()

	rec := upload(t, h, "/ingest/upload?saveRaw=0", "secret", map[string]string{
		"capture #1.csv": "Time;IMSI;Latitude;Longitude\n",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	if ing.saveRaw {
		t.Error("saveRaw=0 should disable raw archival")
	}
	if len(ing.inputs) != 1 {
		t.Fatalf("inputs = %v", ing.inputs)
	}
	in := ing.inputs[0]
	if in.Name != "capture #1.csv" || in.SourceFile() != "capture #1.csv" {
		t.Errorf("input name = %q", in.Name)
	}
	if !strings.HasPrefix(in.Path, s.UploadDir) || !strings.HasSuffix(in.Path, "__capture _1.csv") {
		t.Errorf("stored path = %q", in.Path)
	}
	if ing.contents[0] != "Time;IMSI;Latitude;Longitude\n" {
		t.Errorf("stored content = %q", ing.contents[0])
	}

	var body struct {
		OK      bool `json:"ok"`
		Results []struct {
			SourceFile string `json:"source_file"`
			State      string `json:"state"`
		} `json:"results"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if !body.OK || len(body.Results) != 1 || body.Results[0].State != "finalized" {
		t.Errorf("body = %+v", body)
	}
}

func TestUploadSaveRawDefault(t *testing.T) {
	s, _, ing := newTestServer(t)
	h := s.SetupRoutes()

	if rec := upload(t, h, "/ingest/upload", "secret", map[string]string{"a.csv": "x"}); rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if !ing.saveRaw {
		t.Error("raw archival should default to on")
	}
}

func TestUploadRequiresToken(t *testing.T) {
	s, _, ing := newTestServer(t)
	h := s.SetupRoutes()

	rec := upload(t, h, "/ingest/upload", "", map[string]string{"a.csv": "x"})
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", rec.Code)
	}
	rec = upload(t, h, "/ingest/upload", "wrong", map[string]string{"a.csv": "x"})
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", rec.Code)
	}
	if ing.inputs != nil {
		t.Error("ingestor ran without a valid token")
	}
}

func TestUploadNoFiles(t *testing.T) {
	s, _, _ := newTestServer(t)
	h := s.SetupRoutes()

	rec := upload(t, h, "/ingest/upload", "secret", nil)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestUploadUnmountedWithoutTokens(t *testing.T) {
	s, _, _ := newTestServer(t)
	s.Tokens = nil
	h := s.SetupRoutes()

	rec := upload(t, h, "/ingest/upload", "secret", map[string]string{"a.csv": "x"})
	if rec.Code != http.StatusNotFound && rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("status = %d, want route missing", rec.Code)
	}
}
