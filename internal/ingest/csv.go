package ingest

import (
	"bufio"
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

// sniffWindow bounds how much of the file is looked at to pick a delimiter.
const sniffWindow = 256 * 1024

var delimiters = []rune{',', ';', '\t', '|'}

// CSVSource reads a delimited text export. Input is decoded as UTF-8 with
// invalid sequences replaced by U+FFFD and a leading BOM dropped.
type CSVSource struct {
	r       *csv.Reader
	closer  io.Closer
	header  []string
	st      SourceType
	delim   rune
	ordinal int64
}

// OpenCSV opens path and reads its header.
func OpenCSV(path string) (Source, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	src, err := NewCSVSource(f)
	if err != nil {
		f.Close()
		return nil, err
	}
	src.closer = f
	return src, nil
}

// NewCSVSource sniffs the delimiter, reads the header and classifies it.
// An unrecognized header yields ErrUnknownSchema before any row is read.
func NewCSVSource(r io.Reader) (*CSVSource, error) {
	decoded := transform.NewReader(r, unicode.BOMOverride(unicode.UTF8.NewDecoder()))
	br := bufio.NewReaderSize(decoded, sniffWindow)

	// A short or failed peek still sniffs what it got; read errors surface
	// from the csv reader below.
	head, _ := br.Peek(sniffWindow)
	delim := sniffDelimiter(head)

	cr := csv.NewReader(br)
	cr.Comma = delim
	cr.LazyQuotes = true
	cr.FieldsPerRecord = -1

	header, err := cr.Read()
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, readError("header", err)
	}

	st := Detect(header)
	if st == SourceUnknown {
		return nil, fmt.Errorf("%w: delimiter %q, header [%s]", ErrUnknownSchema, delim, strings.Join(trimmed(header, 50), ", "))
	}
	return &CSVSource{r: cr, header: header, st: st, delim: delim}, nil
}

func (s *CSVSource) Type() SourceType { return s.st }

func (s *CSVSource) Next() (Row, error) {
	rec, err := s.r.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return Row{}, io.EOF
		}
		return Row{}, readError(fmt.Sprintf("row %d", s.ordinal+1), err)
	}
	s.ordinal++
	return NewRow(s.ordinal, s.header, rec), nil
}

// readError marks csv syntax errors as ErrMalformedInput and passes I/O
// errors through.
func readError(where string, err error) error {
	var pe *csv.ParseError
	if errors.As(err, &pe) {
		return fmt.Errorf("%w: %s: %v", ErrMalformedInput, where, err)
	}
	return fmt.Errorf("read %s: %w", where, err)
}

func (s *CSVSource) Close() error {
	if s.closer == nil {
		return nil
	}
	return s.closer.Close()
}

// sniffDelimiter scores each candidate on the first two non-blank lines:
// many header columns and a data line of about the same width win. A
// candidate needs at least four header columns to be considered; when none
// qualifies, the candidate occurring most often in the header is used.
func sniffDelimiter(head []byte) rune {
	header, sample := firstTwoLines(head)

	best, bestScore := ',', -1
	for _, d := range delimiters {
		hCols := nonEmpty(strings.Split(header, string(d)))
		sCols := len(strings.Split(sample, string(d)))
		score := hCols*10 + min(sCols, 200) - abs(sCols-hCols)
		if hCols >= 4 && score > bestScore {
			best, bestScore = d, score
		}
	}
	if bestScore >= 0 {
		return best
	}

	best, bestCount := ',', strings.Count(header, ",")
	for _, d := range delimiters[1:] {
		if n := strings.Count(header, string(d)); n > bestCount {
			best, bestCount = d, n
		}
	}
	return best
}

func firstTwoLines(head []byte) (string, string) {
	var lines []string
	for _, l := range bytes.Split(head, []byte("\n")) {
		s := strings.TrimSpace(string(l))
		if s == "" {
			continue
		}
		lines = append(lines, s)
		if len(lines) == 2 {
			break
		}
	}
	switch len(lines) {
	case 0:
		return "", ""
	case 1:
		return lines[0], ""
	}
	return lines[0], lines[1]
}

func nonEmpty(cols []string) int {
	n := 0
	for _, c := range cols {
		if strings.TrimSpace(c) != "" {
			n++
		}
	}
	return n
}

func trimmed(cols []string, limit int) []string {
	if len(cols) > limit {
		cols = cols[:limit]
	}
	out := make([]string, len(cols))
	for i, c := range cols {
		out[i] = strings.TrimSpace(c)
	}
	return out
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}
