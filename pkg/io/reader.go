// Package io provides input/output interfaces for raw table ingestion and
// result export.
package io

import (
	"context"

	"github.com/hed1ad/custsegml/pkg/records"
)

// TableReader loads a complete snapshot of the raw tables. Loads are
// all-or-nothing: a reader never returns a partial snapshot with a nil error.
type TableReader interface {
	// ReadTables returns the customer, order and payment tables.
	ReadTables(ctx context.Context) (records.Tables, error)

	// Close releases resources.
	Close() error
}

// TableWriter persists export tables.
type TableWriter interface {
	// WriteTable outputs one complete table.
	WriteTable(t Table) error

	// Close releases resources.
	Close() error
}

// Table is a named, rectangular export table of formatted cells.
type Table struct {
	Name   string
	Header []string
	Rows   [][]string
}

// Append adds a row. It panics when the width differs from the header, which
// is always a programming error in the table builder.
func (t *Table) Append(cells ...string) {
	if len(cells) != len(t.Header) {
		panic("io: row width does not match header of table " + t.Name)
	}
	t.Rows = append(t.Rows, cells)
}

// Len returns the number of data rows.
func (t *Table) Len() int {
	return len(t.Rows)
}

// MemoryWriter keeps written tables in memory, keyed by name.
type MemoryWriter struct {
	Tables map[string]Table
}

// NewMemoryWriter returns an empty MemoryWriter.
func NewMemoryWriter() *MemoryWriter {
	return &MemoryWriter{Tables: make(map[string]Table)}
}

// WriteTable stores t, replacing any table with the same name.
func (w *MemoryWriter) WriteTable(t Table) error {
	w.Tables[t.Name] = t
	return nil
}

// Close is a no-op.
func (w *MemoryWriter) Close() error {
	return nil
}

// StaticReader serves a snapshot already held in memory.
type StaticReader struct {
	Snapshot records.Tables
}

// ReadTables returns the held snapshot.
func (r StaticReader) ReadTables(ctx context.Context) (records.Tables, error) {
	if err := ctx.Err(); err != nil {
		return records.Tables{}, err
	}
	return r.Snapshot, nil
}

// Close is a no-op.
func (r StaticReader) Close() error {
	return nil
}
