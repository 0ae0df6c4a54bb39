package pattern

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"math"

	"github.com/dokzlo13/ledsync/internal/matrix"
)

// ValidationError describes the first violation found in an imported
// document.
type ValidationError struct {
	Path   string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Path == "" {
		return "invalid pattern: " + e.Reason
	}
	return fmt.Sprintf("invalid pattern: %s: %s", e.Path, e.Reason)
}

func violation(path, format string, args ...any) *ValidationError {
	return &ValidationError{Path: path, Reason: fmt.Sprintf(format, args...)}
}

// Validate parses an untrusted document. It either returns a complete
// Pattern or a *ValidationError; nothing is partially decoded.
func Validate(raw []byte) (*Pattern, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()

	var doc any
	if err := dec.Decode(&doc); err != nil {
		return nil, violation("", "malformed JSON: %v", err)
	}
	if _, err := dec.Token(); err != io.EOF {
		return nil, violation("", "trailing data after document")
	}

	obj, ok := doc.(map[string]any)
	if !ok {
		return nil, violation("", "expected an object, got %s", kind(doc))
	}

	p := &Pattern{}
	var err *ValidationError
	if p.Name, err = stringField(obj, "name", ""); err != nil {
		return nil, err
	}
	if p.Timestamp, err = stringField(obj, "timestamp", ""); err != nil {
		return nil, err
	}

	rawRows, ok := obj["rows"]
	if !ok {
		return nil, violation("rows", "missing")
	}
	rows, ok := rawRows.([]any)
	if !ok {
		return nil, violation("rows", "expected an array, got %s", kind(rawRows))
	}
	if len(rows) != matrix.Rows {
		return nil, violation("rows", "expected %d entries, got %d", matrix.Rows, len(rows))
	}

	seenRows := make(map[int]bool, matrix.Rows)
	p.Rows = make([]Row, len(rows))
	for r, rawRow := range rows {
		rowPath := fmt.Sprintf("rows[%d]", r)
		row, err := validateRow(rowPath, rawRow)
		if err != nil {
			return nil, err
		}
		if seenRows[row.RowID] {
			return nil, violation(rowPath+".rowId", "duplicate id %d", row.RowID)
		}
		seenRows[row.RowID] = true
		p.Rows[r] = row
	}

	return p, nil
}

func validateRow(path string, raw any) (Row, *ValidationError) {
	obj, ok := raw.(map[string]any)
	if !ok {
		return Row{}, violation(path, "expected an object, got %s", kind(raw))
	}

	id, err := intField(obj, "rowId", path, matrix.Rows)
	if err != nil {
		return Row{}, err
	}

	rawCols, ok := obj["columns"]
	if !ok {
		return Row{}, violation(path+".columns", "missing")
	}
	cols, ok := rawCols.([]any)
	if !ok {
		return Row{}, violation(path+".columns", "expected an array, got %s", kind(rawCols))
	}
	if len(cols) != matrix.Cols {
		return Row{}, violation(path+".columns", "expected %d entries, got %d", matrix.Cols, len(cols))
	}

	row := Row{RowID: id, Columns: make([]Column, len(cols))}
	seen := make(map[int]bool, matrix.Cols)
	for c, rawCol := range cols {
		colPath := fmt.Sprintf("%s.columns[%d]", path, c)
		col, err := validateColumn(colPath, rawCol)
		if err != nil {
			return Row{}, err
		}
		if seen[col.ColumnID] {
			return Row{}, violation(colPath+".columnId", "duplicate id %d", col.ColumnID)
		}
		seen[col.ColumnID] = true
		row.Columns[c] = col
	}
	return row, nil
}

func validateColumn(path string, raw any) (Column, *ValidationError) {
	obj, ok := raw.(map[string]any)
	if !ok {
		return Column{}, violation(path, "expected an object, got %s", kind(raw))
	}

	id, err := intField(obj, "columnId", path, matrix.Cols)
	if err != nil {
		return Column{}, err
	}

	rawOn, ok := obj["isOn"]
	if !ok {
		return Column{}, violation(path+".isOn", "missing")
	}
	on, ok := rawOn.(bool)
	if !ok {
		return Column{}, violation(path+".isOn", "expected a boolean, got %s", kind(rawOn))
	}

	col := Column{ColumnID: id, IsOn: on}
	if rawColor, present := obj["color"]; present && rawColor != nil {
		color, ok := rawColor.(string)
		if !ok {
			return Column{}, violation(path+".color", "expected a string, got %s", kind(rawColor))
		}
		col.Color = color
	}
	return col, nil
}

func stringField(obj map[string]any, key, parent string) (string, *ValidationError) {
	path := join(parent, key)
	raw, ok := obj[key]
	if !ok {
		return "", violation(path, "missing")
	}
	s, ok := raw.(string)
	if !ok {
		return "", violation(path, "expected a string, got %s", kind(raw))
	}
	return s, nil
}

// intField reads a numeric id that must be an integer in [0, limit).
func intField(obj map[string]any, key, parent string, limit int) (int, *ValidationError) {
	path := join(parent, key)
	raw, ok := obj[key]
	if !ok {
		return 0, violation(path, "missing")
	}
	num, ok := raw.(json.Number)
	if !ok {
		return 0, violation(path, "expected a number, got %s", kind(raw))
	}
	f, err := num.Float64()
	if err != nil || f != math.Trunc(f) {
		return 0, violation(path, "expected an integer, got %s", num.String())
	}
	if f < 0 || f >= float64(limit) {
		return 0, violation(path, "out of range [0,%d): %s", limit, num.String())
	}
	return int(f), nil
}

func join(parent, key string) string {
	if parent == "" {
		return key
	}
	return parent + "." + key
}

func kind(v any) string {
	switch v.(type) {
	case nil:
		return "null"
	case bool:
		return "boolean"
	case json.Number:
		return "number"
	case string:
		return "string"
	case []any:
		return "array"
	case map[string]any:
		return "object"
	default:
		return fmt.Sprintf("%T", v)
	}
}
