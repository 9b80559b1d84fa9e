package cache

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roboto-ai/topicdata/internal/shutdown"
	"github.com/roboto-ai/topicdata/pkg/models"
)

func rep(id, fileID string) models.Representation {
	return models.Representation{
		ID:            id,
		StorageFormat: models.StorageFormatMCAP,
		Association:   models.Association{Type: models.AssociationFile, ID: fileID},
	}
}

func writeString(s string) func(context.Context, io.Writer) error {
	return func(_ context.Context, w io.Writer) error {
		_, err := io.WriteString(w, s)
		return err
	}
}

func TestName(t *testing.T) {
	name, err := Name(rep("rp_1", "fl_2"))
	require.NoError(t, err)
	assert.Equal(t, "rp_1_fl_2.mcap", name)

	_, err = Name(models.Representation{ID: "rp_1", Association: models.Association{Type: models.AssociationTopic, ID: "tp"}})
	assert.ErrorIs(t, err, models.ErrUnsupported)

	_, err = Name(rep("rp_1", "../etc"))
	assert.ErrorIs(t, err, models.ErrMalformed)
}

func TestStoreAndLookup(t *testing.T) {
	c, err := New(t.TempDir(), WithLogger(zerolog.Nop()))
	require.NoError(t, err)
	r := rep("rp_1", "fl_1")

	_, ok := c.Lookup(r)
	assert.False(t, ok)

	path, err := c.Store(context.Background(), r, writeString("hello"))
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(c.Dir(), "rp_1_fl_1.mcap"), path)

	got, ok := c.Lookup(r)
	require.True(t, ok)
	assert.Equal(t, path, got)
	data, err := os.ReadFile(got)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(data))
}

func TestStoreFailureLeavesNothing(t *testing.T) {
	c, err := New(t.TempDir())
	require.NoError(t, err)
	r := rep("rp_1", "fl_1")

	boom := errors.New("connection reset")
	_, err = c.Store(context.Background(), r, func(_ context.Context, w io.Writer) error {
		_, _ = io.WriteString(w, "partial")
		return boom
	})
	assert.ErrorIs(t, err, boom)

	_, ok := c.Lookup(r)
	assert.False(t, ok)
	entries, err := os.ReadDir(c.Dir())
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestSweepRemovesStaleEntries(t *testing.T) {
	dir := t.TempDir()
	c, err := New(dir, WithRetention(time.Hour))
	require.NoError(t, err)

	stale, err := c.Store(context.Background(), rep("rp_old", "fl"), writeString("old"))
	require.NoError(t, err)
	fresh, err := c.Store(context.Background(), rep("rp_new", "fl"), writeString("new"))
	require.NoError(t, err)

	old := time.Now().Add(-2 * time.Hour)
	require.NoError(t, os.Chtimes(stale, old, old))

	removed, err := c.Sweep()
	require.NoError(t, err)
	assert.Equal(t, 1, removed)
	assert.NoFileExists(t, stale)
	assert.FileExists(t, fresh)
}

func TestSweepLeavesForeignFiles(t *testing.T) {
	dir := t.TempDir()
	c, err := New(dir, WithRetention(time.Hour))
	require.NoError(t, err)

	entry, err := c.Store(context.Background(), rep("rp_1", "fl_1"), writeString("x"))
	require.NoError(t, err)

	old := time.Now().Add(-2 * time.Hour)
	require.NoError(t, os.Chtimes(entry, old, old))
	for _, name := range []string{"notes.txt", "data.parquet", ".hidden_x.mcap", ".tmp-abandoned-1"} {
		path := filepath.Join(dir, name)
		require.NoError(t, os.WriteFile(path, []byte("keep"), 0o644))
		require.NoError(t, os.Chtimes(path, old, old))
	}

	removed, err := c.Sweep()
	require.NoError(t, err)
	assert.Equal(t, 2, removed)
	assert.NoFileExists(t, entry)
	assert.NoFileExists(t, filepath.Join(dir, ".tmp-abandoned-1"))
	assert.FileExists(t, filepath.Join(dir, "notes.txt"))
	assert.FileExists(t, filepath.Join(dir, "data.parquet"))
	assert.FileExists(t, filepath.Join(dir, ".hidden_x.mcap"))
}

func TestLookupRefreshesAccessTime(t *testing.T) {
	c, err := New(t.TempDir(), WithRetention(time.Hour))
	require.NoError(t, err)
	r := rep("rp_1", "fl_1")

	path, err := c.Store(context.Background(), r, writeString("x"))
	require.NoError(t, err)
	old := time.Now().Add(-2 * time.Hour)
	require.NoError(t, os.Chtimes(path, old, old))

	_, ok := c.Lookup(r)
	require.True(t, ok)

	removed, err := c.Sweep()
	require.NoError(t, err)
	assert.Zero(t, removed)
	assert.FileExists(t, path)
}

func TestRegisterExitSweepOnce(t *testing.T) {
	dir := t.TempDir()
	c1, err := New(dir, WithRetention(time.Hour))
	require.NoError(t, err)
	c2, err := New(dir, WithRetention(time.Hour))
	require.NoError(t, err)
	coord := shutdown.New(time.Second, zerolog.Nop())

	assert.True(t, c1.RegisterExitSweep(coord))
	assert.False(t, c1.RegisterExitSweep(coord))
	assert.False(t, c2.RegisterExitSweep(coord), "same directory registers once")

	path, err := c1.Store(context.Background(), rep("rp", "fl"), writeString("x"))
	require.NoError(t, err)
	old := time.Now().Add(-2 * time.Hour)
	require.NoError(t, os.Chtimes(path, old, old))

	require.NoError(t, coord.Shutdown())
	assert.NoFileExists(t, path)
}

func TestJanitor(t *testing.T) {
	c, err := New(t.TempDir())
	require.NoError(t, err)

	_, err = NewJanitor(c, "not a schedule", zerolog.Nop())
	assert.Error(t, err)

	j, err := NewJanitor(c, "", zerolog.Nop())
	require.NoError(t, err)
	require.NoError(t, j.Start())
	require.NoError(t, j.Start())
	require.NoError(t, j.Close())
	require.NoError(t, j.Close())
}
