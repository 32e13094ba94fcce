package kv

import (
	"bytes"

	"github.com/erigontech/mdbx-go/mdbx"
)

// Reader is the read-only view a Store hands to callbacks passed to View.
// It exists so state-package code can be unit-tested against a fake
// without dragging in mdbx.
type Reader interface {
	Get(cf CF, key []byte) ([]byte, error)
	// IteratePrefix calls fn for every key in cf with the given prefix, in
	// ascending lexicographic order, stopping early if fn returns false or
	// an error. A nil/empty prefix scans the whole column family.
	IteratePrefix(cf CF, prefix []byte, fn func(key, value []byte) (bool, error)) error
}

type txnReader struct {
	s   *Store
	txn *mdbx.Txn
}

func (r *txnReader) Get(cf CF, key []byte) ([]byte, error) {
	dbi, err := r.s.dbi(cf)
	if err != nil {
		return nil, err
	}
	v, err := r.txn.Get(dbi, key)
	if err != nil {
		if mdbx.IsNotFound(err) {
			return nil, nil
		}
		return nil, Wrap(DBError, err, "get")
	}
	return append([]byte(nil), v...), nil
}

func (r *txnReader) IteratePrefix(cf CF, prefix []byte, fn func(key, value []byte) (bool, error)) error {
	dbi, err := r.s.dbi(cf)
	if err != nil {
		return err
	}
	cur, err := r.txn.OpenCursor(dbi)
	if err != nil {
		return Wrap(DBError, err, "open cursor")
	}
	defer cur.Close()

	upper := UpperBound(prefix)

	var k, v []byte
	if len(prefix) == 0 {
		k, v, err = cur.Get(nil, nil, mdbx.First)
	} else {
		k, v, err = cur.Get(prefix, nil, mdbx.SetRange)
	}
	for ; err == nil; k, v, err = cur.Get(nil, nil, mdbx.Next) {
		if len(prefix) > 0 && !bytes.HasPrefix(k, prefix) {
			break
		}
		if upper != nil && bytes.Compare(k, upper) >= 0 {
			break
		}
		cont, cbErr := fn(append([]byte(nil), k...), append([]byte(nil), v...))
		if cbErr != nil {
			return cbErr
		}
		if !cont {
			return nil
		}
	}
	if err != nil && !mdbx.IsNotFound(err) {
		return Wrap(DBError, err, "cursor iterate")
	}
	return nil
}

// IteratePrefix opens a fresh read transaction and scans cf for prefix,
// calling fn for every matching key in ascending order. This is the
// engine-level building block behind both state.Dump's prefix mode and
// every component that needs "all keys under X".
func (s *Store) IteratePrefix(cf CF, prefix []byte, fn func(key, value []byte) (bool, error)) error {
	return s.View(func(r Reader) error {
		return r.IteratePrefix(cf, prefix, fn)
	})
}
