package output

import (
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func newTestStore(ts time.Time) *Store {
	s := NewStore(nil)
	s.now = func() time.Time { return ts }
	return s
}

func TestPrepareRemovesExistingEntries(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	for i := 0; i < 4; i++ {
		name := filepath.Join(dir, "stale_"+strconv.Itoa(i)+".json")
		require.NoError(t, os.WriteFile(name, []byte("{}"), 0o644))
	}
	require.NoError(t, os.Mkdir(filepath.Join(dir, "nested"), 0o755))

	require.NoError(t, NewStore(nil).Prepare(dir))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Empty(t, entries)
}

func TestPrepareMissingDirectory(t *testing.T) {
	t.Parallel()

	dir := filepath.Join(t.TempDir(), "does", "not", "exist")
	require.NoError(t, NewStore(nil).Prepare(dir))

	_, err := os.Stat(dir)
	require.True(t, os.IsNotExist(err), "Prepare must not create the directory")
}

func TestPrepareEmptyDirectory(t *testing.T) {
	t.Parallel()

	require.NoError(t, NewStore(nil).Prepare(t.TempDir()))
}

func TestPrepareRejectsFile(t *testing.T) {
	t.Parallel()

	file := filepath.Join(t.TempDir(), "plain")
	require.NoError(t, os.WriteFile(file, nil, 0o644))

	require.Error(t, NewStore(nil).Prepare(file))
}

func TestSaveWritesOrderedFiles(t *testing.T) {
	t.Parallel()

	dir := filepath.Join(t.TempDir(), "responses")
	ts := time.UnixMilli(1717171717171)
	payloads := []string{`{"a":1}`, `[1,2,3]`, "not json at all", `{"z":true}`}

	paths, err := newTestStore(ts).Save(dir, payloads)
	require.NoError(t, err)
	require.Len(t, paths, len(payloads))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, len(payloads))

	type named struct {
		index int
		path  string
	}
	var files []named
	for _, entry := range entries {
		idx, gotTS, ok := ParseFileName(entry.Name())
		require.True(t, ok, "unexpected file %s", entry.Name())
		require.Equal(t, ts.UnixMilli(), gotTS)
		files = append(files, named{index: idx, path: filepath.Join(dir, entry.Name())})
	}

	sort.Slice(files, func(i, j int) bool { return files[i].index < files[j].index })
	for i, f := range files {
		data, err := os.ReadFile(f.path)
		require.NoError(t, err)
		require.Equal(t, payloads[i], string(data))
		require.Equal(t, paths[i], f.path)
	}
}

func TestSaveNothingStillCreatesDirectory(t *testing.T) {
	t.Parallel()

	dir := filepath.Join(t.TempDir(), "empty")
	paths, err := NewStore(nil).Save(dir, nil)
	require.NoError(t, err)
	require.Empty(t, paths)

	info, err := os.Stat(dir)
	require.NoError(t, err)
	require.True(t, info.IsDir())
}

func TestSaveFailsWhenDirectoryIsAFile(t *testing.T) {
	t.Parallel()

	file := filepath.Join(t.TempDir(), "occupied")
	require.NoError(t, os.WriteFile(file, nil, 0o644))

	paths, err := NewStore(nil).Save(file, []string{"x"})
	require.Error(t, err)
	require.Empty(t, paths)
}

func TestSaveStopsAtFirstFailedWrite(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	ts := time.UnixMilli(42)
	// a directory squatting on the second file name makes that write fail
	require.NoError(t, os.Mkdir(filepath.Join(dir, FileName(1, ts.UnixMilli())), 0o755))

	paths, err := newTestStore(ts).Save(dir, []string{"first", "second", "third"})
	require.Error(t, err)
	require.Equal(t, []string{filepath.Join(dir, FileName(0, 42))}, paths)

	_, statErr := os.Stat(filepath.Join(dir, FileName(2, 42)))
	require.True(t, os.IsNotExist(statErr))
}

func TestFileNameRoundTrip(t *testing.T) {
	t.Parallel()

	require.Equal(t, "response_7_1700000000000.json", FileName(7, 1700000000000))

	idx, ts, ok := ParseFileName("response_12_99.json")
	require.True(t, ok)
	require.Equal(t, 12, idx)
	require.EqualValues(t, 99, ts)

	for _, bad := range []string{"response_x_1.json", "response_1.json", "other_1_2.json", "response_1_2.txt"} {
		_, _, ok := ParseFileName(bad)
		require.False(t, ok, bad)
	}
}
