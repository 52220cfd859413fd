package route

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/cifabric/cifabric/internal/fault"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := OpenStore(filepath.Join(t.TempDir(), "routes.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestStoreDefineGetRemove(t *testing.T) {
	s := openTestStore(t)
	def := &Definition{
		Name: "review",
		Dest: "numa",
		Hops: []Hop{{CI: "apollo", Purpose: "prep"}, {CI: "betty", Purpose: "check"}},
	}
	require.NoError(t, s.Define(def))

	got, err := s.Get("numa", "review")
	require.NoError(t, err)
	require.Equal(t, def.Hops, got.Hops)
	require.Equal(t, "numa:review", got.Key())

	require.NoError(t, s.Remove("numa", "review"))
	_, err = s.Get("numa", "review")
	require.True(t, errors.Is(err, fault.ErrNotFound))
}

func TestStoreEmptyNameIsDefault(t *testing.T) {
	s := openTestStore(t)
	require.NoError(t, s.Define(&Definition{Dest: "numa", Hops: []Hop{{CI: "apollo"}}}))

	got, err := s.Get("numa", "")
	require.NoError(t, err)
	require.Equal(t, DefaultName, got.Name)
	require.Equal(t, "numa", got.DisplayKey(), "default name is elided in display")
}

func TestStoreDefineReplacesExisting(t *testing.T) {
	s := openTestStore(t)
	require.NoError(t, s.Define(&Definition{Name: "review", Dest: "numa", Hops: []Hop{{CI: "apollo"}}}))
	require.NoError(t, s.Define(&Definition{Name: "review", Dest: "numa", Hops: []Hop{{CI: "betty"}}}))

	got, err := s.Get("numa", "review")
	require.NoError(t, err)
	require.Len(t, got.Hops, 1)
	require.Equal(t, "betty", got.Hops[0].CI)
}

func TestStoreListFiltersByDestination(t *testing.T) {
	s := openTestStore(t)
	require.NoError(t, s.Define(&Definition{Name: "review", Dest: "numa", Hops: []Hop{{CI: "apollo"}}}))
	require.NoError(t, s.Define(&Definition{Dest: "numa", Hops: []Hop{{CI: "betty"}}}))
	require.NoError(t, s.Define(&Definition{Dest: "rhea", Hops: []Hop{{CI: "cari"}}}))

	all, err := s.List("")
	require.NoError(t, err)
	require.Len(t, all, 3)

	numa, err := s.List("numa")
	require.NoError(t, err)
	require.Len(t, numa, 2)
	for _, def := range numa {
		require.Equal(t, "numa", def.Dest)
	}
}

func TestStoreRemoveMissingIsNotFound(t *testing.T) {
	s := openTestStore(t)
	err := s.Remove("numa", "ghost")
	require.True(t, errors.Is(err, fault.ErrNotFound))
}

func TestStoreSurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "routes.db")
	s, err := OpenStore(path)
	require.NoError(t, err)
	require.NoError(t, s.Define(&Definition{Name: "review", Dest: "numa", Hops: []Hop{{CI: "apollo"}}}))
	require.NoError(t, s.Close())

	s, err = OpenStore(path)
	require.NoError(t, err)
	defer s.Close()
	got, err := s.Get("numa", "review")
	require.NoError(t, err)
	require.Equal(t, "apollo", got.Hops[0].CI)
}
