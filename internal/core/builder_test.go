package core

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBuilder_DirectoryOpensAreDropped(t *testing.T) {
	dir := t.TempDir()
	b := NewRecordBuilder(NewMtimeCache(), "true", 1, 2)

	b.AddOpen(dir, 3, true, false)
	require.Empty(t, b.Record().Paths)
}

func TestBuilder_RepeatedIdenticalOpenIsNoOp(t *testing.T) {
	path := filepath.Join(t.TempDir(), "f")
	b := NewRecordBuilder(NewMtimeCache(), "true", 1, 2)

	b.AddOpen(path, 3, true, false)
	b.AddOpen(path, 3, true, false)

	rec := b.Record()
	require.Len(t, rec.Paths, 1)
	require.Equal(t, PathInfo{Ret: 3, Read: true}, rec.Paths[path])
}

func TestBuilder_SuccessReplacesEarlierFailure(t *testing.T) {
	path := filepath.Join(t.TempDir(), "f")
	b := NewRecordBuilder(NewMtimeCache(), "true", 1, 2)

	b.AddOpen(path, -2, true, false)
	b.AddOpen(path, 4, false, true)

	require.Equal(t, PathInfo{Ret: 4, Write: true}, b.Record().Paths[path])
}

func TestBuilder_FailureDoesNotClobberSuccess(t *testing.T) {
	path := filepath.Join(t.TempDir(), "f")
	b := NewRecordBuilder(NewMtimeCache(), "true", 1, 2)

	b.AddOpen(path, 3, true, false)
	b.AddOpen(path, -2, false, true)

	require.Equal(t, PathInfo{Ret: 3, Read: true}, b.Record().Paths[path])
}

func TestBuilder_SuccessfulOpensMergeAccessModes(t *testing.T) {
	path := filepath.Join(t.TempDir(), "f")
	b := NewRecordBuilder(NewMtimeCache(), "true", 1, 2)

	// One child reads the file, another writes it.
	b.AddOpen(path, 3, true, false)
	b.AddOpen(path, 5, false, true)

	got := b.Record().Paths[path]
	require.True(t, got.Read)
	require.True(t, got.Write)
}

func TestBuilder_RenameTransfersWriteRecord(t *testing.T) {
	dir := t.TempDir()
	from := filepath.Join(dir, "tmp")
	to := filepath.Join(dir, "final")
	b := NewRecordBuilder(NewMtimeCache(), "true", 1, 2)

	b.AddOpen(from, 4, false, true)
	b.AddRename(from, to)

	rec := b.Record()
	require.NotContains(t, rec.Paths, from)
	require.Equal(t, PathInfo{Ret: 4, Write: true}, rec.Paths[to])
}

func TestBuilder_RenameWithoutWriteDropsBothSides(t *testing.T) {
	dir := t.TempDir()
	from := filepath.Join(dir, "a")
	to := filepath.Join(dir, "b")
	b := NewRecordBuilder(NewMtimeCache(), "true", 1, 2)

	b.AddOpen(from, 3, true, false)
	b.AddOpen(to, 4, true, false)
	b.AddRename(from, to)

	rec := b.Record()
	require.NotContains(t, rec.Paths, from)
	require.NotContains(t, rec.Paths, to)
}

func TestBuilder_DeleteRemovesPath(t *testing.T) {
	path := filepath.Join(t.TempDir(), "scratch")
	b := NewRecordBuilder(NewMtimeCache(), "true", 1, 2)

	b.AddOpen(path, 4, false, true)
	b.AddDelete(path)

	require.NotContains(t, b.Record().Paths, path)
}

// The write-to-temp-then-rename idiom: a command reads a, writes b and
// renames b to c. The record must show a read and c written, with the
// transient b absent entirely.
func TestBuilder_AtomicPublishIdiom(t *testing.T) {
	dir := t.TempDir()
	a := filepath.Join(dir, "a")
	bPath := filepath.Join(dir, "b")
	c := filepath.Join(dir, "c")
	b := NewRecordBuilder(NewMtimeCache(), "true", 1, 2)

	b.AddOpen(a, 3, true, false)
	b.AddOpen(bPath, 4, false, true)
	b.AddRename(bPath, c)

	rec := b.Record()
	require.Equal(t, PathInfo{Ret: 3, Read: true}, rec.Paths[a])
	require.Equal(t, PathInfo{Ret: 4, Write: true}, rec.Paths[c])
	require.NotContains(t, rec.Paths, bPath)
}

func TestBuilder_MutationsInvalidateMtimeCache(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "out")
	cache := NewMtimeCache()

	// Freeze an "absent" answer, then record a write of the path.
	_, ok := cache.Mtime(path)
	require.False(t, ok)

	b := NewRecordBuilder(cache, "true", 1, 2)
	b.AddOpen(path, 4, false, true)

	// The entry was dropped, so the next query stats afresh.
	writeTestFile(t, path)
	_, ok = cache.Mtime(path)
	require.True(t, ok)
}
