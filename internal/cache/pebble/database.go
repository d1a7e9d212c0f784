// Package pebble backs the cache with an embedded pebble store. Keys are
// "<kind>/<key>".
package pebble

import (
	"context"

	pebbledb "github.com/cockroachdb/pebble"
	"github.com/cockroachdb/pebble/vfs"
	"github.com/yanun0323/errors"

	"tradecore/internal/cache"
)

type Database struct {
	db *pebbledb.DB
}

var _ cache.Database = (*Database)(nil)

// Open opens or creates a store under dir.
func Open(dir string) (*Database, error) {
	db, err := pebbledb.Open(dir, &pebbledb.Options{
		Cache:        pebbledb.NewCache(64 << 20),
		MemTableSize: 32 << 20,
		BytesPerSync: 512 << 10,
	})
	if err != nil {
		return nil, errors.Wrapf(err, "open pebble at %s", dir)
	}
	return &Database{db: db}, nil
}

// OpenInMemory opens a store on an in-memory filesystem.
func OpenInMemory() (*Database, error) {
	db, err := pebbledb.Open("", &pebbledb.Options{FS: vfs.NewMem()})
	if err != nil {
		return nil, errors.Wrap(err, "open in-memory pebble")
	}
	return &Database{db: db}, nil
}

func prefix(kind cache.RecordKind) []byte {
	return append([]byte(kind.String()), '/')
}

// upperBound is the first key after every key with the prefix.
func upperBound(prefix []byte) []byte {
	end := append([]byte(nil), prefix...)
	end[len(end)-1]++
	return end
}

func key(kind cache.RecordKind, k string) []byte {
	return append(prefix(kind), k...)
}

func (d *Database) Load(ctx context.Context, kind cache.RecordKind) ([]cache.Record, error) {
	p := prefix(kind)
	iter, err := d.db.NewIter(&pebbledb.IterOptions{LowerBound: p, UpperBound: upperBound(p)})
	if err != nil {
		return nil, errors.Wrapf(err, "iterate %s", kind)
	}
	defer iter.Close()

	var out []cache.Record
	for iter.First(); iter.Valid(); iter.Next() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		out = append(out, cache.Record{
			Kind:  kind,
			Key:   string(iter.Key()[len(p):]),
			Value: append([]byte(nil), iter.Value()...),
		})
	}
	return out, iter.Error()
}

func (d *Database) Write(ctx context.Context, records []cache.Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b := d.db.NewBatch()
	defer b.Close()
	for _, rec := range records {
		if !rec.Kind.IsAvailable() {
			return errors.Errorf("record kind %d", rec.Kind)
		}
		var err error
		if rec.Delete {
			err = b.Delete(key(rec.Kind, rec.Key), nil)
		} else {
			err = b.Set(key(rec.Kind, rec.Key), rec.Value, nil)
		}
		if err != nil {
			return errors.Wrapf(err, "batch %s %s", rec.Kind, rec.Key)
		}
	}
	return b.Commit(pebbledb.Sync)
}

func (d *Database) Close() error {
	return d.db.Close()
}
