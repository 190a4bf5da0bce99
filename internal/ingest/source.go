package ingest

import (
	"path/filepath"
	"strings"
)

// Source yields the rows of one input file. Its layout is known once it is
// open; Next returns io.EOF after the last row.
type Source interface {
	Type() SourceType
	Next() (Row, error)
	Close() error
}

// OpenFunc opens the file at path as a Source. It returns ErrUnknownSchema
// (wrapped) when the file matches none of the known layouts.
type OpenFunc func(path string) (Source, error)

// Openers picks an OpenFunc by file extension. Extensions are matched
// case-insensitively with the leading dot; anything unregistered is read as
// CSV.
type Openers map[string]OpenFunc

func (o Openers) For(name string) OpenFunc {
	ext := strings.ToLower(filepath.Ext(name))
	if fn, ok := o[ext]; ok && fn != nil {
		return fn
	}
	return OpenCSV
}
