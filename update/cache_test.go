package update_test

import (
	"io/fs"
	"os"
	"path/filepath"
	"testing"

	"github.com/otterbrowser/contentblock/update"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCache(t *testing.T) {
	t.Parallel()

	dir := filepath.Join(t.TempDir(), "cache")
	c := update.NewCache(dir)

	_, _, err := c.Load(testProfileID)
	require.ErrorIs(t, err, fs.ErrNotExist)

	require.NoError(t, c.Store(testProfileID, []byte(testList)))

	data, storedAt, err := c.Load(testProfileID)
	require.NoError(t, err)

	assert.Equal(t, testList, string(data))
	assert.False(t, storedAt.IsZero())

	require.NoError(t, c.Store(testProfileID, []byte(testListOther)))

	data, _, err = c.Load(testProfileID)
	require.NoError(t, err)
	assert.Equal(t, testListOther, string(data))

	// IDs with path separators stay inside the directory.
	const nestedID = "../lists/other"
	require.NoError(t, c.Store(nestedID, []byte(testList)))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 2)

	require.NoError(t, c.Remove(testProfileID))
	require.NoError(t, c.Remove(testProfileID))

	_, _, err = c.Load(testProfileID)
	assert.ErrorIs(t, err, fs.ErrNotExist)
}
