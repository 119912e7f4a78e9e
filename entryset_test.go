package zipkit

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func mustEntry(t *testing.T, name string) *Entry {
	t.Helper()
	e, err := NewEntry(name)
	require.NoError(t, err)
	return e
}

func TestEntrySetInsertPreservesOrder(t *testing.T) {
	es := NewEntrySet()
	es.Insert(mustEntry(t, "a.txt"))
	es.Insert(mustEntry(t, "b.txt"))
	es.Insert(mustEntry(t, "c.txt"))

	names := make([]string, 0, 3)
	for _, e := range es.Entries() {
		names = append(names, e.Name)
	}
	require.Equal(t, []string{"a.txt", "b.txt", "c.txt"}, names)
}

func TestEntrySetInsertReplacesInPlace(t *testing.T) {
	es := NewEntrySet()
	es.Insert(mustEntry(t, "a.txt"))
	second := mustEntry(t, "b.txt")
	es.Insert(second)
	es.Insert(mustEntry(t, "c.txt"))

	replacement := mustEntry(t, "b.txt")
	replacement.Comment = "replaced"
	old := es.Insert(replacement)
	require.Same(t, second, old)

	names := make([]string, 0, 3)
	for _, e := range es.Entries() {
		names = append(names, e.Name)
	}
	require.Equal(t, []string{"a.txt", "b.txt", "c.txt"}, names)
	require.Equal(t, "replaced", es.FindEntry("b.txt").Comment)
}

func TestEntrySetDeleteReindexes(t *testing.T) {
	es := NewEntrySet()
	es.Insert(mustEntry(t, "a.txt"))
	es.Insert(mustEntry(t, "b.txt"))
	es.Insert(mustEntry(t, "c.txt"))

	removed := es.Delete("b.txt")
	require.NotNil(t, removed)
	require.Equal(t, "b.txt", removed.Name)
	require.False(t, es.Include("b.txt"))
	require.Equal(t, 2, es.Len())

	// c.txt's index must have shifted down by one and still resolve.
	require.Same(t, es.FindEntry("c.txt"), es.Entries()[1])
}

func TestEntrySetDeleteMissing(t *testing.T) {
	es := NewEntrySet()
	es.Insert(mustEntry(t, "a.txt"))
	require.Nil(t, es.Delete("missing"))
}

func TestEntrySetRename(t *testing.T) {
	es := NewEntrySet()
	e := mustEntry(t, "old.txt")
	es.Insert(e)

	require.NoError(t, es.Rename("old.txt", "new.txt"))
	require.Equal(t, "new.txt", e.Name)
	require.False(t, es.Include("old.txt"))
	require.Same(t, e, es.FindEntry("new.txt"))
}

func TestEntrySetRenameErrors(t *testing.T) {
	es := NewEntrySet()
	es.Insert(mustEntry(t, "a.txt"))
	es.Insert(mustEntry(t, "b.txt"))

	err := es.Rename("missing.txt", "c.txt")
	require.True(t, Is(err, NotFound))

	err = es.Rename("a.txt", "b.txt")
	require.True(t, Is(err, EntryExists))
}

func TestEntrySetEachStopsEarly(t *testing.T) {
	es := NewEntrySet()
	es.Insert(mustEntry(t, "a.txt"))
	es.Insert(mustEntry(t, "b.txt"))
	es.Insert(mustEntry(t, "c.txt"))

	var visited []string
	es.Each(func(e *Entry) bool {
		visited = append(visited, e.Name)
		return e.Name != "b.txt"
	})
	require.Equal(t, []string{"a.txt", "b.txt"}, visited)
}

func TestEntrySetGlob(t *testing.T) {
	es := NewEntrySet()
	es.Insert(mustEntry(t, "src/main.go"))
	es.Insert(mustEntry(t, "src/pkg/util.go"))
	es.Insert(mustEntry(t, "README.md"))

	matches, err := es.Glob("src/**/*.go")
	require.NoError(t, err)
	require.Len(t, matches, 2)
}

func TestEntrySetGlobBadPattern(t *testing.T) {
	es := NewEntrySet()
	es.Insert(mustEntry(t, "a.txt"))
	_, err := es.Glob("[")
	require.Error(t, err)
	require.True(t, Is(err, Argument))
}

func TestEntrySetDupIsIndependent(t *testing.T) {
	es := NewEntrySet()
	es.Insert(mustEntry(t, "a.txt"))
	dup := es.Dup()
	dup.Delete("a.txt")

	require.Equal(t, 1, es.Len())
	require.Equal(t, 0, dup.Len())
}

func TestEntrySetEqualIgnoresOrder(t *testing.T) {
	a := NewEntrySet()
	a.Insert(mustEntry(t, "a.txt"))
	a.Insert(mustEntry(t, "b.txt"))

	b := NewEntrySet()
	b.Insert(mustEntry(t, "b.txt"))
	b.Insert(mustEntry(t, "a.txt"))

	require.True(t, a.Equal(b))

	b.FindEntry("a.txt").Size = 42
	require.False(t, a.Equal(b))
}
