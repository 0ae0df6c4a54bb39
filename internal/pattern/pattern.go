// Package pattern implements the portable LED pattern document used for
// import and export.
//
// A document always lists cells in logical order (row 0..7, column 0..19),
// independent of the serpentine wiring, so files stay valid if the
// wiring changes.
package pattern

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/dokzlo13/ledsync/internal/matrix"
)

// Pattern is an immutable snapshot of the matrix grid.
type Pattern struct {
	Name      string `json:"name"`
	Timestamp string `json:"timestamp"`
	Rows      []Row  `json:"rows"`
}

// Row is one logical row of the grid.
type Row struct {
	RowID   int      `json:"rowId"`
	Columns []Column `json:"columns"`
}

// Column is a single cell.
type Column struct {
	ColumnID int    `json:"columnId"`
	IsOn     bool   `json:"isOn"`
	Color    string `json:"color,omitempty"`
}

// CreatedAt parses the document timestamp.
func (p *Pattern) CreatedAt() (time.Time, error) {
	return time.Parse(time.RFC3339Nano, p.Timestamp)
}

// FromState builds a document from an active LED set. Colors are attached
// to the cells whose index appears in colors.
func FromState(name string, at time.Time, leds matrix.Set, colors map[matrix.Index]string) *Pattern {
	rows := make([]Row, matrix.Rows)
	for r := 0; r < matrix.Rows; r++ {
		cols := make([]Column, matrix.Cols)
		for c := 0; c < matrix.Cols; c++ {
			idx := matrix.MustIndex(r, c)
			cols[c] = Column{
				ColumnID: c,
				IsOn:     leds.Has(idx),
				Color:    colors[idx],
			}
		}
		rows[r] = Row{RowID: r, Columns: cols}
	}

	return &Pattern{
		Name:      name,
		Timestamp: at.UTC().Format(time.RFC3339Nano),
		Rows:      rows,
	}
}

// ToState returns the active LED set and per-LED colors of a document.
func ToState(p *Pattern) (matrix.Set, map[matrix.Index]string, error) {
	var leds matrix.Set
	colors := make(map[matrix.Index]string)

	for _, row := range p.Rows {
		for _, col := range row.Columns {
			idx, err := matrix.ToIndex(row.RowID, col.ColumnID)
			if err != nil {
				return matrix.Set{}, nil, err
			}
			if col.IsOn {
				leds.Add(idx)
			}
			if col.Color != "" {
				colors[idx] = col.Color
			}
		}
	}

	return leds, colors, nil
}

// Encode writes the document as indented JSON.
func (p *Pattern) Encode(w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(p)
}

// Save writes the document to path.
func (p *Pattern) Save(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create pattern file: %w", err)
	}
	if err := p.Encode(f); err != nil {
		f.Close()
		return fmt.Errorf("failed to write pattern file: %w", err)
	}
	return f.Close()
}

// Read validates a document from r.
func Read(r io.Reader) (*Pattern, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read pattern: %w", err)
	}
	return Validate(data)
}

// Load validates the document stored at path.
func Load(path string) (*Pattern, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open pattern file: %w", err)
	}
	defer f.Close()
	return Read(f)
}
