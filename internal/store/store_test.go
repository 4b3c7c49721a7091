package store

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"entrytracker/internal/model"
)

var base = time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

func backends(t *testing.T) map[string]func(t *testing.T) Backend {
	return map[string]func(t *testing.T) Backend{
		"memory": func(t *testing.T) Backend { return NewMemory() },
		"sqlite": func(t *testing.T) Backend {
			s, err := NewSQLite(filepath.Join(t.TempDir(), "db", "test.db"))
			require.NoError(t, err)
			return s
		},
		"badger": func(t *testing.T) Backend {
			s, err := NewBadger(BadgerOptions{InMemory: true})
			require.NoError(t, err)
			return s
		},
		"sheet": func(t *testing.T) Backend {
			s, err := NewSheet(filepath.Join(t.TempDir(), "book.xlsx"))
			require.NoError(t, err)
			return s
		},
	}
}

func person(id, owner, name string, at time.Time) model.Person {
	return model.Person{ID: id, OwnerID: owner, Name: name, QRCodeData: `{"id":"` + id + `"}`, CreatedAt: at}
}

func entry(id, owner string, typ model.EntryType, at time.Time, p *model.PersonSnapshot) model.Entry {
	return model.Entry{ID: id, OwnerID: owner, Type: typ, Timestamp: at, Person: p}
}

func TestBackendPeople(t *testing.T) {
	for name, open := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			s := open(t)
			defer s.Close()

			require.NoError(t, s.AddPerson(ctx, person("p1", "o1", "Alice", base)))
			require.NoError(t, s.AddPerson(ctx, person("p2", "o1", "Bob", base.Add(time.Minute))))
			require.NoError(t, s.AddPerson(ctx, person("p3", "o2", "Carol", base)))
			// retried registration is a no-op
			require.NoError(t, s.AddPerson(ctx, person("p1", "o1", "Alice again", base)))

			people, err := s.ListPeople(ctx, "o1")
			require.NoError(t, err)
			require.Len(t, people, 2)
			assert.Equal(t, "p1", people[0].ID)
			assert.Equal(t, "Alice", people[0].Name)
			assert.True(t, people[1].CreatedAt.Equal(base.Add(time.Minute)))

			assert.ErrorIs(t, s.DeletePerson(ctx, "p3", "o1"), model.ErrNotFound)
			assert.ErrorIs(t, s.DeletePerson(ctx, "missing", "o1"), model.ErrNotFound)
			require.NoError(t, s.DeletePerson(ctx, "p1", "o1"))

			people, err = s.ListPeople(ctx, "o1")
			require.NoError(t, err)
			require.Len(t, people, 1)
			assert.Equal(t, "p2", people[0].ID)

			others, err := s.ListPeople(ctx, "o2")
			require.NoError(t, err)
			assert.Len(t, others, 1)
		})
	}
}

func TestBackendEntries(t *testing.T) {
	for name, open := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			s := open(t)
			defer s.Close()

			alice := &model.PersonSnapshot{ID: "p1", Name: "Alice", EnrollmentNo: "E-1"}
			walkIn := &model.PersonSnapshot{Name: "Visitor"}

			e1, err := s.AddEntry(ctx, entry("e1", "o1", model.EntryTypeEntry, base, alice))
			require.NoError(t, err)
			e2, err := s.AddEntry(ctx, entry("e2", "o1", model.EntryTypeEntry, base.Add(time.Second), nil))
			require.NoError(t, err)
			_, err = s.AddEntry(ctx, entry("e3", "o2", model.EntryTypeExit, base, nil))
			require.NoError(t, err)
			e4, err := s.AddEntry(ctx, entry("e4", "o1", model.EntryTypeExit, base.Add(2*time.Second), walkIn))
			require.NoError(t, err)

			assert.Positive(t, e1.Seq)
			assert.Greater(t, e2.Seq, e1.Seq)
			assert.Greater(t, e4.Seq, e2.Seq)

			again, err := s.AddEntry(ctx, entry("e1", "o1", model.EntryTypeExit, base.Add(time.Hour), nil))
			require.NoError(t, err)
			assert.Equal(t, e1.Seq, again.Seq)
			assert.Equal(t, model.EntryTypeEntry, again.Type)

			entries, err := s.ListEntries(ctx, "o1")
			require.NoError(t, err)
			require.Len(t, entries, 3)
			assert.Equal(t, []string{"e1", "e2", "e4"}, []string{entries[0].ID, entries[1].ID, entries[2].ID})
			assert.Equal(t, alice, entries[0].Person)
			assert.Nil(t, entries[1].Person)
			assert.Equal(t, walkIn, entries[2].Person)
			assert.Empty(t, entries[2].PersonID())
			assert.True(t, entries[1].Timestamp.Equal(base.Add(time.Second)))
			assert.Equal(t, model.EntryTypeExit, entries[2].Type)

			require.NoError(t, s.ClearEntries(ctx, "o1"))
			entries, err = s.ListEntries(ctx, "o1")
			require.NoError(t, err)
			assert.Empty(t, entries)

			others, err := s.ListEntries(ctx, "o2")
			require.NoError(t, err)
			assert.Len(t, others, 1)

			e5, err := s.AddEntry(ctx, entry("e5", "o1", model.EntryTypeEntry, base, nil))
			require.NoError(t, err)
			assert.Greater(t, e5.Seq, e4.Seq)
		})
	}
}

func TestBackendOwnerPrefixIsolation(t *testing.T) {
	for name, open := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			s := open(t)
			defer s.Close()

			_, err := s.AddEntry(ctx, entry("nested", "a/b@x.io", model.EntryTypeEntry, base, nil))
			require.NoError(t, err)
			require.NoError(t, s.AddPerson(ctx, model.Person{ID: "pn", OwnerID: "a/b@x.io", Name: "Nested", CreatedAt: base}))
			_, err = s.AddEntry(ctx, entry("short", "a", model.EntryTypeEntry, base, nil))
			require.NoError(t, err)

			entries, err := s.ListEntries(ctx, "a")
			require.NoError(t, err)
			require.Len(t, entries, 1)
			assert.Equal(t, "short", entries[0].ID)

			people, err := s.ListPeople(ctx, "a")
			require.NoError(t, err)
			assert.Empty(t, people)

			require.NoError(t, s.ClearEntries(ctx, "a"))
			nested, err := s.ListEntries(ctx, "a/b@x.io")
			require.NoError(t, err)
			require.Len(t, nested, 1)

			// the index entry must survive so a retry stays idempotent
			again, err := s.AddEntry(ctx, entry("nested", "a/b@x.io", model.EntryTypeExit, base, nil))
			require.NoError(t, err)
			assert.Equal(t, nested[0].Seq, again.Seq)
			nested, err = s.ListEntries(ctx, "a/b@x.io")
			require.NoError(t, err)
			assert.Len(t, nested, 1)
		})
	}
}

func TestBackendRequiresIDs(t *testing.T) {
	for name, open := range backends(t) {
		t.Run(name, func(t *testing.T) {
			s := open(t)
			defer s.Close()
			assert.Error(t, s.AddPerson(context.Background(), model.Person{Name: "x"}))
			_, err := s.AddEntry(context.Background(), model.Entry{Type: model.EntryTypeEntry})
			assert.Error(t, err)
		})
	}
}

func TestSheetReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "book.xlsx")

	s, err := NewSheet(path)
	require.NoError(t, err)
	require.NoError(t, s.AddPerson(ctx, person("p1", "o1", "Alice", base)))
	first, err := s.AddEntry(ctx, entry("e1", "o1", model.EntryTypeEntry, base, nil))
	require.NoError(t, err)
	require.NoError(t, s.Close())

	s, err = NewSheet(path)
	require.NoError(t, err)
	defer s.Close()

	people, err := s.ListPeople(ctx, "o1")
	require.NoError(t, err)
	require.Len(t, people, 1)

	next, err := s.AddEntry(ctx, entry("e2", "o1", model.EntryTypeExit, base, nil))
	require.NoError(t, err)
	assert.Greater(t, next.Seq, first.Seq)
}

func TestSheetFailedSaveLeavesNoRow(t *testing.T) {
	ctx := context.Background()
	dir := filepath.Join(t.TempDir(), "books")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	path := filepath.Join(dir, "book.xlsx")

	s, err := NewSheet(path)
	require.NoError(t, err)
	defer s.Close()
	first, err := s.AddEntry(ctx, entry("e1", "o1", model.EntryTypeEntry, base, nil))
	require.NoError(t, err)

	require.NoError(t, os.RemoveAll(dir))
	_, err = s.AddEntry(ctx, entry("e2", "o1", model.EntryTypeExit, base, nil))
	require.Error(t, err)
	assert.Error(t, s.AddPerson(ctx, person("p1", "o1", "Alice", base)))

	entries, err := s.ListEntries(ctx, "o1")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	people, err := s.ListPeople(ctx, "o1")
	require.NoError(t, err)
	assert.Empty(t, people)

	require.NoError(t, os.MkdirAll(dir, 0o755))
	retried, err := s.AddEntry(ctx, entry("e2", "o1", model.EntryTypeExit, base, nil))
	require.NoError(t, err)
	assert.Equal(t, first.Seq+1, retried.Seq)
	entries, err = s.ListEntries(ctx, "o1")
	require.NoError(t, err)
	assert.Len(t, entries, 2)
}

func TestSQLiteReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "test.db")

	s, err := NewSQLite(path)
	require.NoError(t, err)
	_, err = s.AddEntry(ctx, entry("e1", "o1", model.EntryTypeEntry, base, nil))
	require.NoError(t, err)
	require.NoError(t, s.Close())

	s, err = NewSQLite(path)
	require.NoError(t, err)
	defer s.Close()
	entries, err := s.ListEntries(ctx, "o1")
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}
