package portal

import (
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"regexp"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/EmpoweredVote/geo-ingest/internal/ingest"
	"github.com/EmpoweredVote/geo-ingest/internal/report"
)

const (
	maxUploadFiles  = 20
	maxUploadBytes  = 2 << 30
	maxMemoryBuffer = 32 << 20
)

var unsafeChars = regexp.MustCompile(`[^\w.\-() ]+`)

// UploadHandler stores every multipart "files" part under UploadDir and
// ingests them. The ledger keys on the client's file name, so re-uploading
// a file is reported as skipped. saveRaw=0 disables raw archival.
func (s *Server) UploadHandler(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	if err := r.ParseMultipartForm(maxMemoryBuffer); err != nil {
		writeError(w, http.StatusBadRequest, "invalid multipart body")
		return
	}
	defer r.MultipartForm.RemoveAll()

	parts := r.MultipartForm.File["files"]
	if len(parts) == 0 {
		writeError(w, http.StatusBadRequest, "no files received")
		return
	}
	if len(parts) > maxUploadFiles {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("at most %d files per upload", maxUploadFiles))
		return
	}

	saveRaw := true
	if v := r.URL.Query().Get("saveRaw"); v != "" {
		saveRaw = v == "1"
	}

	if err := os.MkdirAll(s.UploadDir, 0o755); err != nil {
		s.fail(w, r, "failed to prepare upload directory", err)
		return
	}

	inputs := make([]ingest.Input, 0, len(parts))
	for _, fh := range parts {
		path, err := s.save(fh)
		if err != nil {
			s.fail(w, r, "failed to store upload", err)
			return
		}
		inputs = append(inputs, ingest.Input{Path: path, Name: filepath.Base(fh.Filename)})
	}

	s.Logger.Info("upload received", zap.Int("files", len(inputs)), zap.Bool("save_raw", saveRaw))
	results := s.NewIngestor(saveRaw).IngestAll(r.Context(), inputs)

	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "results": report.Entries(results)})
}

// save copies one part to UploadDir under a unique, sanitized name and
// returns the path.
func (s *Server) save(fh *multipart.FileHeader) (string, error) {
	src, err := fh.Open()
	if err != nil {
		return "", err
	}
	defer src.Close()

	name := uuid.NewString() + "__" + unsafeChars.ReplaceAllString(filepath.Base(fh.Filename), "_")
	path := filepath.Join(s.UploadDir, name)

	dst, err := os.Create(path)
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		os.Remove(path)
		return "", fmt.Errorf("write %s: %w", name, err)
	}
	return path, dst.Close()
}
