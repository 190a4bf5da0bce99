// Package dbexport reads the SQLite databases the capture units and their
// desktop viewer export (.db / .db3) as ingest sources.
package dbexport

import (
	"database/sql"
	"errors"
	"fmt"
	"io"
	"strconv"

	_ "github.com/mattn/go-sqlite3"

	"github.com/EmpoweredVote/geo-ingest/internal/ingest"
)

const (
	idcatcherTable = "idcatcher"
	idColumn       = "_id"
	// viewField is added to raw rows read from a viewer view.
	viewField = "_view"
)

// InterrogationViews are read in this order; absent views are skipped.
var InterrogationViews = []string{
	"DBViewer_LTE_InterrogationResultsView",
	"DBViewer_GSM_InterrogationResultsView",
	"DBViewer_UMTS_InterrogationResultsView",
}

// Extensions the CLI and API route to Open.
var Extensions = []string{".db", ".db3"}

// Source streams the rows of one export. An idcatcher table yields
// SourceIDCatcher rows keyed by _id; viewer views yield
// SourceInterrogationDB rows numbered sequentially across all views.
type Source struct {
	db    *sql.DB
	st    ingest.SourceType
	views []string

	rows    *sql.Rows
	cols    []string
	view    string
	ordinal int64
}

// Open opens path read-only and classifies it. A database holding both an
// idcatcher table and viewer views is ambiguous and rejected with
// ErrUnknownSchema, as is one holding neither.
func Open(path string) (ingest.Source, error) {
	db, err := sql.Open("sqlite3", fmt.Sprintf("file:%s?mode=ro", path))
	if err != nil {
		return nil, err
	}
	src, err := newSource(db)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return src, nil
}

// Openers registers Open for every export extension.
func Openers() ingest.Openers {
	o := make(ingest.Openers, len(Extensions))
	for _, ext := range Extensions {
		o[ext] = Open
	}
	return o
}

func newSource(db *sql.DB) (*Source, error) {
	names, err := objectNames(db)
	if err != nil {
		return nil, err
	}

	var views []string
	for _, v := range InterrogationViews {
		if names[v] {
			views = append(views, v)
		}
	}
	hasIDCatcher := names[idcatcherTable]

	s := &Source{db: db}
	switch {
	case hasIDCatcher && len(views) > 0:
		return nil, fmt.Errorf("%w: both %s and viewer views present", ingest.ErrUnknownSchema, idcatcherTable)
	case hasIDCatcher:
		s.st = ingest.SourceIDCatcher
		s.rows, err = db.Query(`SELECT * FROM "` + idcatcherTable + `" ORDER BY "` + idColumn + `"`)
	case len(views) > 0:
		s.st = ingest.SourceInterrogationDB
		s.views = views
		err = s.nextView()
	default:
		return nil, fmt.Errorf("%w: no %s table or viewer views", ingest.ErrUnknownSchema, idcatcherTable)
	}
	if err != nil {
		return nil, err
	}
	if s.cols == nil && s.rows != nil {
		if s.cols, err = s.rows.Columns(); err != nil {
			return nil, err
		}
	}
	return s, nil
}

func objectNames(db *sql.DB) (map[string]bool, error) {
	rows, err := db.Query(`SELECT name FROM sqlite_master WHERE type IN ('table', 'view')`)
	if err != nil {
		return nil, fmt.Errorf("list sqlite objects: %w", err)
	}
	defer rows.Close()

	names := make(map[string]bool)
	for rows.Next() {
		var n string
		if err := rows.Scan(&n); err != nil {
			return nil, err
		}
		names[n] = true
	}
	return names, rows.Err()
}

// nextView closes the current result set and opens the next view.
func (s *Source) nextView() error {
	if s.rows != nil {
		s.rows.Close()
		s.rows = nil
	}
	if len(s.views) == 0 {
		return io.EOF
	}
	s.view, s.views = s.views[0], s.views[1:]

	rows, err := s.db.Query(`SELECT * FROM "` + s.view + `"`)
	if err != nil {
		return fmt.Errorf("query %s: %w", s.view, err)
	}
	cols, err := rows.Columns()
	if err != nil {
		rows.Close()
		return err
	}
	s.rows, s.cols = rows, cols
	return nil
}

func (s *Source) Type() ingest.SourceType { return s.st }

func (s *Source) Next() (ingest.Row, error) {
	for {
		if s.rows == nil {
			return ingest.Row{}, io.EOF
		}
		if s.rows.Next() {
			return s.scan()
		}
		if err := s.rows.Err(); err != nil {
			return ingest.Row{}, err
		}
		if s.st != ingest.SourceInterrogationDB {
			s.rows.Close()
			s.rows = nil
			continue
		}
		if err := s.nextView(); err != nil {
			if errors.Is(err, io.EOF) {
				return ingest.Row{}, io.EOF
			}
			return ingest.Row{}, err
		}
	}
}

func (s *Source) scan() (ingest.Row, error) {
	vals := make([]sql.NullString, len(s.cols))
	ptrs := make([]any, len(s.cols))
	for i := range vals {
		ptrs[i] = &vals[i]
	}
	if err := s.rows.Scan(ptrs...); err != nil {
		return ingest.Row{}, fmt.Errorf("scan row: %w", err)
	}

	m := make(map[string]string, len(s.cols)+1)
	for i, c := range s.cols {
		m[c] = vals[i].String
	}

	s.ordinal++
	ordinal := s.ordinal
	if s.st == ingest.SourceIDCatcher {
		if id, err := strconv.ParseInt(m[idColumn], 10, 64); err == nil {
			ordinal = id
		}
	} else {
		m[viewField] = s.view
	}
	return ingest.RowFromMap(ordinal, m), nil
}

func (s *Source) Close() error {
	if s.rows != nil {
		s.rows.Close()
	}
	return s.db.Close()
}
