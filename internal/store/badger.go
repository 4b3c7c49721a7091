package store

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/dgraph-io/badger/v4"

	"entrytracker/internal/model"
)

// BadgerOptions configures the embedded key-value backend.
type BadgerOptions struct {
	// Path to the database directory. If empty, uses in-memory mode.
	Path string
	// InMemory forces in-memory mode even if Path is set.
	InMemory bool
	// Logger for BadgerDB. If nil, logging is disabled.
	Logger badger.Logger
}

// Badger stores people and entries as JSON values under owner-scoped keys
// ordered by an insertion sequence:
//
//	person/<owner>/<seq>   -> model.Person
//	entry/<owner>/<seq>    -> model.Entry
//	idx/person/<id>        -> primary key
//	idx/entry/<id>         -> primary key
type Badger struct {
	db  *badger.DB
	seq *badger.Sequence
}

// NewBadger opens the database described by opts.
func NewBadger(opts BadgerOptions) (*Badger, error) {
	badgerOpts := badger.DefaultOptions(opts.Path)
	if opts.Path == "" || opts.InMemory {
		badgerOpts = badgerOpts.WithInMemory(true)
	}
	if opts.Logger != nil {
		badgerOpts = badgerOpts.WithLogger(opts.Logger)
	} else {
		badgerOpts = badgerOpts.WithLogger(nil)
	}

	db, err := badger.Open(badgerOpts)
	if err != nil {
		return nil, fmt.Errorf("open badger db: %w", err)
	}
	seq, err := db.GetSequence([]byte("meta/seq"), 100)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("badger sequence: %w", err)
	}
	return &Badger{db: db, seq: seq}, nil
}

// Close releases the sequence lease and closes the database.
func (s *Badger) Close() error {
	if err := s.seq.Release(); err != nil {
		s.db.Close()
		return err
	}
	return s.db.Close()
}

// Owner ids are hex encoded in keys so that no owner's prefix can match
// another owner's keys (e.g. "a" and "a/b").
func ownerPrefix(kind, ownerID string) []byte {
	return []byte(kind + "/" + hex.EncodeToString([]byte(ownerID)) + "/")
}

func recordKey(kind, ownerID string, seq uint64) []byte {
	return []byte(fmt.Sprintf("%s%020d", ownerPrefix(kind, ownerID), seq))
}

func indexKey(kind, id string) []byte {
	return []byte("idx/" + kind + "/" + id)
}

func (s *Badger) nextSeq() (uint64, error) {
	n, err := s.seq.Next()
	if err != nil {
		return 0, err
	}
	// Next starts at zero; keep Seq strictly positive like the SQL backends.
	return n + 1, nil
}

// scanPrefix decodes every value under prefix in key order.
func scanPrefix[T any](db *badger.DB, prefix []byte) ([]T, error) {
	out := make([]T, 0)
	err := db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			var v T
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &v)
			}); err != nil {
				return err
			}
			out = append(out, v)
		}
		return nil
	})
	return out, err
}

func (s *Badger) ListPeople(ctx context.Context, ownerID string) ([]model.Person, error) {
	return scanPrefix[model.Person](s.db, ownerPrefix("person", ownerID))
}

func (s *Badger) AddPerson(ctx context.Context, p model.Person) error {
	if p.ID == "" {
		return errIDRequired
	}
	seq, err := s.nextSeq()
	if err != nil {
		return err
	}
	p.CreatedAt = utc(p.CreatedAt)
	val, err := json.Marshal(p)
	if err != nil {
		return err
	}
	return s.db.Update(func(txn *badger.Txn) error {
		idx := indexKey("person", p.ID)
		if _, err := txn.Get(idx); err == nil {
			return nil
		} else if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		key := recordKey("person", p.OwnerID, seq)
		if err := txn.Set(key, val); err != nil {
			return err
		}
		return txn.Set(idx, key)
	})
}

func (s *Badger) DeletePerson(ctx context.Context, id, ownerID string) error {
	return s.db.Update(func(txn *badger.Txn) error {
		idx := indexKey("person", id)
		item, err := txn.Get(idx)
		if errors.Is(err, badger.ErrKeyNotFound) {
			return model.ErrNotFound
		}
		if err != nil {
			return err
		}
		key, err := item.ValueCopy(nil)
		if err != nil {
			return err
		}
		var p model.Person
		rec, err := txn.Get(key)
		if err != nil {
			return err
		}
		if err := rec.Value(func(val []byte) error { return json.Unmarshal(val, &p) }); err != nil {
			return err
		}
		if p.OwnerID != ownerID {
			return model.ErrNotFound
		}
		if err := txn.Delete(key); err != nil {
			return err
		}
		return txn.Delete(idx)
	})
}

func (s *Badger) ListEntries(ctx context.Context, ownerID string) ([]model.Entry, error) {
	return scanPrefix[model.Entry](s.db, ownerPrefix("entry", ownerID))
}

func (s *Badger) AddEntry(ctx context.Context, e model.Entry) (model.Entry, error) {
	if e.ID == "" {
		return model.Entry{}, errIDRequired
	}
	seq, err := s.nextSeq()
	if err != nil {
		return model.Entry{}, err
	}
	e.Seq = int64(seq)
	e.Timestamp = utc(e.Timestamp)
	stored := e
	err = s.db.Update(func(txn *badger.Txn) error {
		idx := indexKey("entry", e.ID)
		item, err := txn.Get(idx)
		if err == nil {
			key, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			rec, err := txn.Get(key)
			if err != nil {
				return err
			}
			return rec.Value(func(val []byte) error { return json.Unmarshal(val, &stored) })
		}
		if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		val, err := json.Marshal(e)
		if err != nil {
			return err
		}
		key := recordKey("entry", e.OwnerID, seq)
		if err := txn.Set(key, val); err != nil {
			return err
		}
		return txn.Set(idx, key)
	})
	if err != nil {
		return model.Entry{}, err
	}
	return stored, nil
}

func (s *Badger) ClearEntries(ctx context.Context, ownerID string) error {
	entries, err := s.ListEntries(ctx, ownerID)
	if err != nil {
		return err
	}
	return s.db.Update(func(txn *badger.Txn) error {
		for _, e := range entries {
			if err := txn.Delete(recordKey("entry", ownerID, uint64(e.Seq))); err != nil {
				return err
			}
			if err := txn.Delete(indexKey("entry", e.ID)); err != nil {
				return err
			}
		}
		return nil
	})
}
