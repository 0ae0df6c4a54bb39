// Package matrix maps logical (row, column) coordinates of the 8x20 LED
// matrix to the linear indices used on the wire.
//
// The strip is wired serpentine: even rows run right-to-left, odd rows
// run left-to-right. Patterns and views always work in logical
// coordinates; only the wire sees indices.
package matrix

import (
	"errors"
	"fmt"
)

// Matrix geometry
const (
	Rows = 8
	Cols = 20
	Size = Rows * Cols
)

var (
	// ErrInvalidCoordinate is returned for a row or column outside the matrix.
	ErrInvalidCoordinate = errors.New("invalid coordinate")
	// ErrInvalidIndex is returned for an index outside [0, Size).
	ErrInvalidIndex = errors.New("invalid led index")
)

// Index is a linear LED position in wiring order.
type Index int

// Valid reports whether the index addresses an LED.
func (i Index) Valid() bool {
	return i >= 0 && i < Size
}

// Coord is a logical position, row 0 at the top and column 0 at the left.
type Coord struct {
	Row int `json:"row"`
	Col int `json:"col"`
}

func (c Coord) String() string {
	return fmt.Sprintf("(%d,%d)", c.Row, c.Col)
}

// ToIndex converts a logical coordinate into its wiring index.
func ToIndex(row, col int) (Index, error) {
	if row < 0 || row >= Rows || col < 0 || col >= Cols {
		return 0, fmt.Errorf("%w: row %d, col %d", ErrInvalidCoordinate, row, col)
	}
	if row%2 == 0 {
		return Index(row*Cols + (Cols - 1 - col)), nil
	}
	return Index(row*Cols + col), nil
}

// ToCoord converts a wiring index back into its logical coordinate.
func ToCoord(i Index) (Coord, error) {
	if !i.Valid() {
		return Coord{}, fmt.Errorf("%w: %d", ErrInvalidIndex, int(i))
	}
	row := int(i) / Cols
	offset := int(i) % Cols
	if row%2 == 0 {
		return Coord{Row: row, Col: Cols - 1 - offset}, nil
	}
	return Coord{Row: row, Col: offset}, nil
}

// MustIndex is ToIndex for coordinates known to be valid.
func MustIndex(row, col int) Index {
	i, err := ToIndex(row, col)
	if err != nil {
		panic(err)
	}
	return i
}
