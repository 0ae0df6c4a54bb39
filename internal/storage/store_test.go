package storage

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dokzlo13/ledsync/internal/db"
)

func newStore(t *testing.T) *Store {
	t.Helper()
	d, err := db.Open(filepath.Join(t.TempDir(), "state.db"))
	require.NoError(t, err)
	t.Cleanup(func() { d.Close() })
	return NewStore(d.DB)
}

func TestStore_SetGetVersion(t *testing.T) {
	s := newStore(t)

	rec, err := s.Get("matrix", "main")
	require.NoError(t, err)
	assert.Nil(t, rec)

	require.NoError(t, s.Set("matrix", "main", []byte(`{"a":1}`)))
	require.NoError(t, s.Set("matrix", "main", []byte(`{"a":2}`)))

	rec, err = s.Get("matrix", "main")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.JSONEq(t, `{"a":2}`, string(rec.Payload))
	assert.EqualValues(t, 2, rec.Version)
	assert.False(t, rec.UpdatedAt.IsZero())
}

func TestStore_DeleteOnlyTouchesOneRecord(t *testing.T) {
	s := newStore(t)
	require.NoError(t, s.Set("matrix", "a", []byte(`1`)))
	require.NoError(t, s.Set("matrix", "b", []byte(`1`)))
	require.NoError(t, s.Set("other", "a", []byte(`1`)))

	require.NoError(t, s.Delete("matrix", "a"))
	require.NoError(t, s.Delete("matrix", "missing"))

	rec, err := s.Get("matrix", "a")
	require.NoError(t, err)
	assert.Nil(t, rec)

	for _, key := range [][2]string{{"matrix", "b"}, {"other", "a"}} {
		rec, err := s.Get(key[0], key[1])
		require.NoError(t, err)
		assert.NotNil(t, rec, "%s/%s", key[0], key[1])
	}
}

type sample struct {
	Leds       []int `json:"leds"`
	Brightness int   `json:"brightness"`
}

func TestTypedStore(t *testing.T) {
	ts := NewTypedStore[sample](newStore(t), "sample")

	_, found, err := ts.Get("main")
	require.NoError(t, err)
	assert.False(t, found)

	require.NoError(t, ts.Set("main", sample{Leds: []int{1, 2}, Brightness: 10}))
	require.NoError(t, ts.Set("main", sample{Leds: []int{1, 2}, Brightness: 20}))

	got, found, err := ts.Get("main")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, sample{Leds: []int{1, 2}, Brightness: 20}, got)

	at, err := ts.UpdatedAt("main")
	require.NoError(t, err)
	assert.False(t, at.IsZero())

	require.NoError(t, ts.Delete("main"))
	_, found, err = ts.Get("main")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestTypedStore_CorruptPayload(t *testing.T) {
	s := newStore(t)
	require.NoError(t, s.Set("sample", "main", []byte(`not json`)))

	_, _, err := NewTypedStore[sample](s, "sample").Get("main")
	assert.Error(t, err)
}
