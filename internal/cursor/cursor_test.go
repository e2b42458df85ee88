package cursor

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadMissingFileIsBootstrap(t *testing.T) {
	s := NewStore(filepath.Join(t.TempDir(), "state.json"))

	c, err := s.Load()
	require.NoError(t, err)
	assert.True(t, c.IsBootstrap())
	assert.Equal(t, 0, c.RunCount)
	assert.False(t, c.Legacy)
}

func TestSaveLoadRoundTrip(t *testing.T) {
	s := NewStore(filepath.Join(t.TempDir(), "nested", "state.json"))

	var c Cursor
	c.Advance(1700000000123, []string{"b", "a"})
	c.RunCount = 4
	require.NoError(t, s.Save(c))

	got, err := s.Load()
	require.NoError(t, err)
	require.NotNil(t, got.LastProcessedTimestamp)
	assert.Equal(t, int64(1700000000123), *got.LastProcessedTimestamp)
	assert.Equal(t, []string{"a", "b"}, got.IDs())
	assert.Equal(t, 4, got.RunCount)

	raw, err := os.ReadFile(s.Path)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"version": 2`)
	assert.NotContains(t, string(raw), "last_internal_date_ms")

	entries, err := os.ReadDir(filepath.Dir(s.Path))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temp file must not be left behind")
}

func TestDecodeLegacyScalarShape(t *testing.T) {
	c, err := Decode([]byte(`{"last_history_TIME": null, "last_internal_date_ms": 1699999999000, "runs": 7}`))
	require.NoError(t, err)

	require.NotNil(t, c.LastProcessedTimestamp)
	assert.Equal(t, int64(1699999999000), *c.LastProcessedTimestamp)
	assert.Equal(t, 7, c.RunCount)
	assert.Empty(t, c.IDsAtLastProcessedTimestamp)
	assert.True(t, c.Legacy)
}

func TestDecodeLegacyShapeWithIDs(t *testing.T) {
	c, err := Decode([]byte(`{"last_internal_date_ms": 5000, "last_message_ids_at_latest_ts": ["m1", "m2"], "runs": 2}`))
	require.NoError(t, err)

	assert.Equal(t, []string{"m1", "m2"}, c.IDs())
	assert.False(t, c.Legacy)
	assert.True(t, c.Seen(5000, "m1"))
	assert.False(t, c.Seen(5000, "m3"))
}

func TestDecodeLegacyEmptyState(t *testing.T) {
	c, err := Decode([]byte(`{"last_history_TIME": null, "last_internal_date_ms": null, "runs": 0}`))
	require.NoError(t, err)
	assert.True(t, c.IsBootstrap())
	assert.False(t, c.Legacy)
}

func TestDecodeRejectsGarbageAndFutureVersions(t *testing.T) {
	_, err := Decode([]byte(`{not json`))
	assert.ErrorIs(t, err, ErrCorrupt)

	_, err = Decode([]byte(`{"version": 9}`))
	assert.ErrorIs(t, err, ErrCorrupt)
}

func TestSeen(t *testing.T) {
	var c Cursor
	assert.False(t, c.Seen(1, "x"), "bootstrap cursor has seen nothing")

	c.Advance(100, []string{"a"})
	assert.True(t, c.Seen(99, "z"))
	assert.True(t, c.Seen(100, "a"))
	assert.False(t, c.Seen(100, "b"))
	assert.False(t, c.Seen(101, "a"))
}

func TestAdvanceReplacesIDSet(t *testing.T) {
	var c Cursor
	c.Advance(100, []string{"a", "b"})
	c.Advance(200, []string{"c"})
	assert.Equal(t, []string{"c"}, c.IDs())
}
