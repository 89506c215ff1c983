package results

import (
	"encoding/csv"
	"fmt"
	"io"
	"sync"
)

// CSVWriter appends rows to a CSV stream. The header is written before the
// first row. Safe for concurrent use.
type CSVWriter struct {
	mu      sync.Mutex
	w       *csv.Writer
	written bool
}

func NewCSVWriter(w io.Writer) *CSVWriter {
	return &CSVWriter{w: csv.NewWriter(w)}
}

// Write appends rows and flushes.
func (c *CSVWriter) Write(rows ...Row) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.headerLocked(); err != nil {
		return err
	}
	for _, r := range rows {
		if err := c.w.Write(r.Record()); err != nil {
			return fmt.Errorf("write csv row: %w", err)
		}
	}
	c.w.Flush()
	if err := c.w.Error(); err != nil {
		return fmt.Errorf("flush csv: %w", err)
	}
	return nil
}

// Close writes the header if no row was ever written and flushes.
func (c *CSVWriter) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.headerLocked(); err != nil {
		return err
	}
	c.w.Flush()
	return c.w.Error()
}

func (c *CSVWriter) headerLocked() error {
	if c.written {
		return nil
	}
	if err := c.w.Write(Columns); err != nil {
		return fmt.Errorf("write csv header: %w", err)
	}
	c.written = true
	return nil
}
