package storage

import (
	"bytes"
	"context"

	"github.com/dgraph-io/badger/v4"
	"github.com/pkg/errors"

	"github.com/tidelock/recordseal"
	"github.com/tidelock/recordseal/pkg/log"
)

// Verify BadgerStore implements the collaborator interfaces.
var (
	_ recordseal.RecordStore = (*BadgerStore)(nil)
	_ recordseal.SaltStore   = (*BadgerStore)(nil)
)

const (
	keySeparator = ":"
	saltKey      = "_salt"
)

// BadgerStore is a RecordStore and SaltStore backed by an embedded BadgerDB.
// Keys are laid out as namespace:kind:id; kind and id must not contain the
// separator. Bulk writes run in a single Badger transaction.
type BadgerStore struct {
	db        *badger.DB
	namespace string
}

// OpenBadger opens (or creates) a BadgerDB at path, scoped to namespace.
func OpenBadger(path, namespace string) (*BadgerStore, error) {
	opts := badger.DefaultOptions(path)
	opts.Logger = nil

	db, err := badger.Open(opts)
	if err != nil {
		return nil, errors.Wrapf(err, "opening badger store at %s", path)
	}

	log.Debugf("opened badger store at %s namespace %s", path, namespace)

	return NewBadgerStore(db, namespace), nil
}

// NewBadgerStore wraps an already opened BadgerDB.
func NewBadgerStore(db *badger.DB, namespace string) *BadgerStore {
	return &BadgerStore{
		db:        db,
		namespace: namespace,
	}
}

// Close closes the underlying database.
func (b *BadgerStore) Close() error {
	return b.db.Close()
}

func (b *BadgerStore) key(kind, id string) []byte {
	return []byte(b.namespace + keySeparator + kind + keySeparator + id)
}

func (b *BadgerStore) kindPrefix(kind string) []byte {
	return []byte(b.namespace + keySeparator + kind + keySeparator)
}

// Get implements recordseal.RecordStore.
func (b *BadgerStore) Get(_ context.Context, kind, id string) ([]byte, error) {
	var value []byte

	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(b.key(kind, id))
		if err != nil {
			return err
		}

		value, err = item.ValueCopy(nil)

		return err
	})

	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, nil
	}

	if err != nil {
		return nil, errors.Wrapf(err, "reading %s/%s", kind, id)
	}

	return value, nil
}

// Put implements recordseal.RecordStore.
func (b *BadgerStore) Put(_ context.Context, kind, id string, value []byte) error {
	err := b.db.Update(func(txn *badger.Txn) error {
		return txn.Set(b.key(kind, id), value)
	})

	return errors.Wrapf(err, "writing %s/%s", kind, id)
}

// Delete implements recordseal.RecordStore.
func (b *BadgerStore) Delete(_ context.Context, kind, id string) error {
	err := b.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(b.key(kind, id))
	})

	return errors.Wrapf(err, "deleting %s/%s", kind, id)
}

// ForEach implements recordseal.RecordStore.
func (b *BadgerStore) ForEach(ctx context.Context, kind string, fn func(id string, value []byte) error) error {
	prefix := b.kindPrefix(kind)

	return b.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix

		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}

			item := it.Item()
			id := string(item.Key()[len(prefix):])

			value, err := item.ValueCopy(nil)
			if err != nil {
				return errors.Wrapf(err, "reading %s/%s", kind, id)
			}

			if err := fn(id, value); err != nil {
				return err
			}
		}

		return nil
	})
}

// BulkPut implements recordseal.RecordStore. All values land in one
// transaction or none do.
func (b *BadgerStore) BulkPut(_ context.Context, kind string, values map[string][]byte) error {
	err := b.db.Update(func(txn *badger.Txn) error {
		for id, value := range values {
			if err := txn.Set(b.key(kind, id), value); err != nil {
				return err
			}
		}

		return nil
	})

	return errors.Wrapf(err, "bulk writing %d records of kind %s", len(values), kind)
}

// Kinds implements recordseal.RecordStore by scanning the namespace's keys.
func (b *BadgerStore) Kinds(ctx context.Context) ([]string, error) {
	nsPrefix := []byte(b.namespace + keySeparator)

	var kinds []string

	seen := make(map[string]bool)

	err := b.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = nsPrefix
		opts.PrefetchValues = false

		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}

			rest := it.Item().Key()[len(nsPrefix):]

			sep := bytes.Index(rest, []byte(keySeparator))
			if sep < 0 {
				// Namespace-level keys such as the salt.
				continue
			}

			kind := string(rest[:sep])
			if !seen[kind] {
				seen[kind] = true

				kinds = append(kinds, kind)
			}
		}

		return nil
	})
	if err != nil {
		return nil, errors.Wrap(err, "scanning kinds")
	}

	return kinds, nil
}

// LoadSalt implements recordseal.SaltStore.
func (b *BadgerStore) LoadSalt(_ context.Context) ([]byte, error) {
	var salt []byte

	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(b.namespace + keySeparator + saltKey))
		if err != nil {
			return err
		}

		salt, err = item.ValueCopy(nil)

		return err
	})

	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, nil
	}

	if err != nil {
		return nil, errors.Wrap(err, "reading salt")
	}

	return salt, nil
}

// StoreSalt implements recordseal.SaltStore.
func (b *BadgerStore) StoreSalt(_ context.Context, salt []byte) error {
	err := b.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(b.namespace+keySeparator+saltKey), salt)
	})

	return errors.Wrap(err, "persisting salt")
}
