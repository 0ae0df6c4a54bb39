package pattern

import (
	"bytes"
	"encoding/json"
	"errors"
	"math/rand"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dokzlo13/ledsync/internal/matrix"
)

var fixedTime = time.Date(2024, 3, 1, 12, 30, 0, 0, time.UTC)

func TestFromState_LogicalOrder(t *testing.T) {
	leds, err := matrix.NewSet(matrix.MustIndex(0, 0), matrix.MustIndex(1, 0))
	require.NoError(t, err)

	p := FromState("test", fixedTime, leds, map[matrix.Index]string{matrix.MustIndex(0, 0): "#ff0000"})

	require.Len(t, p.Rows, matrix.Rows)
	for r, row := range p.Rows {
		assert.Equal(t, r, row.RowID)
		require.Len(t, row.Columns, matrix.Cols)
		for c, col := range row.Columns {
			assert.Equal(t, c, col.ColumnID)
		}
	}

	// Index 19 is (0,0) on the wire, so the first cell of the document is on.
	assert.True(t, p.Rows[0].Columns[0].IsOn)
	assert.Equal(t, "#ff0000", p.Rows[0].Columns[0].Color)
	assert.False(t, p.Rows[0].Columns[19].IsOn)
	assert.Empty(t, p.Rows[0].Columns[19].Color)
	assert.True(t, p.Rows[1].Columns[0].IsOn)
	assert.Equal(t, "2024-03-01T12:30:00Z", p.Timestamp)

	created, err := p.CreatedAt()
	require.NoError(t, err)
	assert.True(t, created.Equal(fixedTime))
}

func TestRoundTrip_StateToPattern(t *testing.T) {
	rng := rand.New(rand.NewSource(42))

	subsets := []matrix.Set{{}}
	var all matrix.Set
	for i := matrix.Index(0); i < matrix.Size; i++ {
		all.Add(i)
	}
	subsets = append(subsets, all)
	for n := 0; n < 50; n++ {
		var s matrix.Set
		for i := matrix.Index(0); i < matrix.Size; i++ {
			if rng.Intn(3) == 0 {
				s.Add(i)
			}
		}
		subsets = append(subsets, s)
	}

	for _, s := range subsets {
		leds, colors, err := ToState(FromState("rt", fixedTime, s, nil))
		require.NoError(t, err)
		assert.Equal(t, s.Indices(), leds.Indices())
		assert.Empty(t, colors)
	}
}

func TestRoundTrip_PatternToState(t *testing.T) {
	raw := mustEncode(t, FromState("grid", fixedTime, matrix.Set{}, nil))
	p, err := Validate(raw)
	require.NoError(t, err)

	// Flip a diagonal and color one cell.
	for r := 0; r < matrix.Rows; r++ {
		p.Rows[r].Columns[r].IsOn = true
	}
	p.Rows[2].Columns[2].Color = "#00ff00"

	leds, colors, err := ToState(p)
	require.NoError(t, err)
	back := FromState(p.Name, fixedTime, leds, colors)

	backLeds, _, err := ToState(back)
	require.NoError(t, err)
	assert.Equal(t, leds, backLeds)
	assert.Equal(t, p.Rows, back.Rows)
	assert.Equal(t, "#00ff00", back.Rows[2].Columns[2].Color)
}

func TestToState_RejectsOutOfRangeIDs(t *testing.T) {
	p := FromState("bad", fixedTime, matrix.Set{}, nil)
	p.Rows[0].RowID = 8

	_, _, err := ToState(p)
	assert.True(t, errors.Is(err, matrix.ErrInvalidCoordinate))
}

func TestValidate(t *testing.T) {
	valid := func() map[string]any {
		var doc map[string]any
		require.NoError(t, json.Unmarshal(mustEncode(t, FromState("ok", fixedTime, matrix.Set{}, nil)), &doc))
		return doc
	}
	rowsOf := func(doc map[string]any) []any { return doc["rows"].([]any) }
	colsOf := func(doc map[string]any, r int) []any {
		return rowsOf(doc)[r].(map[string]any)["columns"].([]any)
	}

	tests := []struct {
		name   string
		mutate func(doc map[string]any)
		path   string
	}{
		{
			name:   "missing_name",
			mutate: func(doc map[string]any) { delete(doc, "name") },
			path:   "name",
		},
		{
			name:   "numeric_timestamp",
			mutate: func(doc map[string]any) { doc["timestamp"] = 12345 },
			path:   "timestamp",
		},
		{
			name:   "rows_not_array",
			mutate: func(doc map[string]any) { doc["rows"] = "nope" },
			path:   "rows",
		},
		{
			name:   "seven_rows",
			mutate: func(doc map[string]any) { doc["rows"] = rowsOf(doc)[:7] },
			path:   "rows",
		},
		{
			name: "row3_missing_column",
			mutate: func(doc map[string]any) {
				rowsOf(doc)[3].(map[string]any)["columns"] = colsOf(doc, 3)[:19]
			},
			path: "rows[3].columns",
		},
		{
			name:   "string_row_id",
			mutate: func(doc map[string]any) { rowsOf(doc)[1].(map[string]any)["rowId"] = "1" },
			path:   "rows[1].rowId",
		},
		{
			name:   "fractional_column_id",
			mutate: func(doc map[string]any) { colsOf(doc, 0)[4].(map[string]any)["columnId"] = 4.5 },
			path:   "rows[0].columns[4].columnId",
		},
		{
			name:   "column_id_out_of_range",
			mutate: func(doc map[string]any) { colsOf(doc, 0)[4].(map[string]any)["columnId"] = 20 },
			path:   "rows[0].columns[4].columnId",
		},
		{
			name:   "duplicate_row_id",
			mutate: func(doc map[string]any) { rowsOf(doc)[5].(map[string]any)["rowId"] = 4 },
			path:   "rows[5].rowId",
		},
		{
			name:   "duplicate_column_id",
			mutate: func(doc map[string]any) { colsOf(doc, 2)[1].(map[string]any)["columnId"] = 0 },
			path:   "rows[2].columns[1].columnId",
		},
		{
			name:   "is_on_string",
			mutate: func(doc map[string]any) { colsOf(doc, 7)[19].(map[string]any)["isOn"] = "true" },
			path:   "rows[7].columns[19].isOn",
		},
		{
			name:   "missing_is_on",
			mutate: func(doc map[string]any) { delete(colsOf(doc, 6)[0].(map[string]any), "isOn") },
			path:   "rows[6].columns[0].isOn",
		},
		{
			name:   "numeric_color",
			mutate: func(doc map[string]any) { colsOf(doc, 0)[0].(map[string]any)["color"] = 7 },
			path:   "rows[0].columns[0].color",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			doc := valid()
			tt.mutate(doc)
			raw, err := json.Marshal(doc)
			require.NoError(t, err)

			p, err := Validate(raw)
			assert.Nil(t, p)

			var verr *ValidationError
			require.True(t, errors.As(err, &verr), "expected ValidationError, got %v", err)
			assert.Equal(t, tt.path, verr.Path)
		})
	}
}

func TestValidate_Malformed(t *testing.T) {
	for _, raw := range []string{"", "{", "}", "[]", "null", `{"name":"x"} {}`} {
		_, err := Validate([]byte(raw))
		var verr *ValidationError
		assert.True(t, errors.As(err, &verr), "input %q", raw)
	}
}

func TestValidate_TrailingData(t *testing.T) {
	doc := mustEncode(t, FromState("tail", fixedTime, matrix.Set{}, nil))

	_, err := Validate(append(append([]byte{}, doc...), "\n\t "...))
	require.NoError(t, err, "trailing whitespace is allowed")

	for _, tail := range []string{"}", "]", "}]garbage", " {}", "x"} {
		raw := append(append([]byte{}, doc...), tail...)
		_, err := Validate(raw)
		var verr *ValidationError
		require.True(t, errors.As(err, &verr), "tail %q", tail)
		assert.Equal(t, "trailing data after document", verr.Reason, "tail %q", tail)
	}
}

func TestValidate_AcceptsOriginalExport(t *testing.T) {
	p := FromState("Pattern 1", fixedTime, matrix.Set{}, nil)
	p.Rows[4].Columns[10].IsOn = true

	got, err := Validate(mustEncode(t, p))
	require.NoError(t, err)
	assert.Equal(t, p, got)
}

func TestSaveLoad(t *testing.T) {
	leds, err := matrix.NewSet(0, 42, 159)
	require.NoError(t, err)
	p := FromState("disk", fixedTime, leds, nil)

	path := filepath.Join(t.TempDir(), "pattern.json")
	require.NoError(t, p.Save(path))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, p, loaded)

	_, err = Load(filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)
}

func mustEncode(t *testing.T, p *Pattern) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, p.Encode(&buf))
	return buf.Bytes()
}
