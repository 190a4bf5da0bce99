package report

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/google/uuid"

	"github.com/EmpoweredVote/geo-ingest/internal/ingest"
)

// Entry is the serialized form of one file's ingest result, shared by the
// CLI's JSON output and the upload API.
type Entry struct {
	SourceFile  string `json:"source_file"`
	SourceType  string `json:"source_type"`
	State       string `json:"state"`
	OK          bool   `json:"ok"`
	RunID       string `json:"run_id,omitempty"`
	RowsSeen    int64  `json:"rows_seen"`
	RowsLoaded  int64  `json:"rows_loaded"`
	RowsOmitted int64  `json:"rows_omitted"`
	Flushes     int    `json:"flushes"`
	Partitions  int    `json:"partitions"`
	DurationMS  int64  `json:"duration_ms"`
	Error       string `json:"error,omitempty"`
}

func NewEntry(r ingest.Result) Entry {
	e := Entry{
		SourceFile:  r.SourceFile,
		SourceType:  r.SourceType.String(),
		State:       r.State.String(),
		OK:          r.OK(),
		RowsSeen:    r.RowsSeen,
		RowsLoaded:  r.RowsLoaded,
		RowsOmitted: r.RowsOmitted,
		Flushes:     r.Flushes,
		Partitions:  r.Partitions,
		DurationMS:  r.Duration.Milliseconds(),
	}
	if r.RunID != uuid.Nil {
		e.RunID = r.RunID.String()
	}
	if r.Err != nil {
		e.Error = r.Err.Error()
	}
	return e
}

func Entries(results []ingest.Result) []Entry {
	out := make([]Entry, len(results))
	for i, r := range results {
		out[i] = NewEntry(r)
	}
	return out
}

// Renderer writes a batch of ingest results.
type Renderer interface {
	Render(results []ingest.Result) error
}

// New picks a renderer by format name; anything but "json" is text.
func New(format string, w io.Writer) Renderer {
	if strings.EqualFold(format, "json") {
		return NewJSONRenderer(w)
	}
	return NewTextRenderer(w)
}

var (
	styleHeader  = lipgloss.NewStyle().Bold(true)
	styleOK      = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))  // green
	styleSkipped = lipgloss.NewStyle().Foreground(lipgloss.Color("245")) // gray
	styleFailed  = lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true)
	styleDetail  = lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Faint(true)
)

// TextRenderer prints one aligned line per file followed by a totals line.
type TextRenderer struct {
	w io.Writer
}

func NewTextRenderer(w io.Writer) *TextRenderer {
	return &TextRenderer{w: w}
}

func (r *TextRenderer) Render(results []ingest.Result) error {
	width := len("FILE")
	for _, res := range results {
		width = max(width, len(res.SourceFile))
	}

	head := fmt.Sprintf("%-*s  %-16s  %-9s  %8s  %8s  %8s  %s",
		width, "FILE", "TYPE", "STATE", "SEEN", "LOADED", "OMITTED", "TOOK")
	if _, err := fmt.Fprintln(r.w, styleHeader.Render(head)); err != nil {
		return err
	}

	var loaded, skipped, failed int
	var rows int64
	for _, res := range results {
		state := fmt.Sprintf("%-9s", res.State)
		switch res.State {
		case ingest.StateFinalized:
			loaded++
			rows += res.RowsLoaded
			state = styleOK.Render(state)
		case ingest.StateSkipped:
			skipped++
			state = styleSkipped.Render(state)
		default:
			failed++
			state = styleFailed.Render(state)
		}

		line := fmt.Sprintf("%-*s  %-16s  %s  %8d  %8d  %8d  %s",
			width, res.SourceFile, res.SourceType, state,
			res.RowsSeen, res.RowsLoaded, res.RowsOmitted, res.Duration.Round(time.Millisecond))
		if _, err := fmt.Fprintln(r.w, line); err != nil {
			return err
		}
		if res.Err != nil {
			if _, err := fmt.Fprintln(r.w, styleDetail.Render("  "+res.Err.Error())); err != nil {
				return err
			}
		}
	}

	_, err := fmt.Fprintf(r.w, "%d file(s): %d loaded, %d skipped, %d failed; %d row(s) inserted\n",
		len(results), loaded, skipped, failed, rows)
	return err
}

// JSONRenderer writes the results as one JSON array.
type JSONRenderer struct {
	enc *json.Encoder
}

func NewJSONRenderer(w io.Writer) *JSONRenderer {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return &JSONRenderer{enc: enc}
}

func (r *JSONRenderer) Render(results []ingest.Result) error {
	return r.enc.Encode(Entries(results))
}
