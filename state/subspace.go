package state

import (
	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"

	"github.com/erigontech/ledgerstore/kv"
)

// subspaceCacheSize bounds the read cache's entry count. Values are whole
// subspace values, not fixed-size, so this is a coarse knob; the reference
// pack's own account-trie cache (core/state/db_state_writer.go) sizes
// similarly by entry count rather than bytes.
const subspaceCacheSize = 4096

// Subspace is the account key-space store: the current value of every
// live key, plus the bookkeeping (diff recording, cache invalidation)
// every write needs (§4.3).
type Subspace struct {
	db      *kv.Store
	diffs   *DiffLog
	cache   *lru.Cache[string, []byte]
	log     *zap.Logger
	metrics *metrics
}

// NewSubspace wires a Subspace over db, recording diffs through diffs.
func NewSubspace(db *kv.Store, diffs *DiffLog, log *zap.Logger) (*Subspace, error) {
	cache, err := lru.New[string, []byte](subspaceCacheSize)
	if err != nil {
		return nil, kv.Wrap(kv.DBError, err, "create subspace cache")
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Subspace{db: db, diffs: diffs, cache: cache, log: log}, nil
}

// setMetrics attaches the shared metrics set built by state.Open; left nil
// (the zero value) for tests that construct a Subspace directly.
func (s *Subspace) setMetrics(m *metrics) { s.metrics = m }

// Read returns key's current value, or (nil, nil) if key is absent.
func (s *Subspace) Read(key string) ([]byte, error) {
	if v, ok := s.cache.Get(key); ok {
		return v, nil
	}
	v, err := s.db.GetCF(kv.SUBSPACE, kv.ToDBKey(key))
	if err != nil {
		return nil, err
	}
	s.cache.Add(key, v)
	return v, nil
}

// Write stages key=value into b at height h, recording the prior value in
// the diff log (unless persistDiffs is false, in which case the diff log
// compacts it away once it's no longer needed for rollback). Returns the
// byte-length delta the write represents, for size-accounting callers.
func (s *Subspace) Write(b *kv.WriteBatch, h kv.BlockHeight, key string, value []byte, persistDiffs bool) (int64, error) {
	prior, err := s.Read(key)
	if err != nil {
		return 0, err
	}
	if err := s.diffs.RecordWrite(b, h, key, prior, value, persistDiffs); err != nil {
		return 0, err
	}
	b.Put(kv.SUBSPACE, kv.ToDBKey(key), value)
	s.cache.Remove(key)
	if s.metrics != nil {
		s.metrics.subspaceWriteSz.Observe(float64(len(value)))
	}

	if prior == nil {
		return int64(len(value)), nil
	}
	return int64(len(value) - len(prior)), nil
}

// Delete stages a removal of key into b at height h, recording the prior
// value so history and rollback can still answer for heights before h.
// Returns the byte length of the value removed, or 0 if key was absent.
func (s *Subspace) Delete(b *kv.WriteBatch, h kv.BlockHeight, key string, persistDiffs bool) (int64, error) {
	prior, err := s.Read(key)
	if err != nil {
		return 0, err
	}
	if prior == nil {
		return 0, nil
	}
	if err := s.diffs.RecordDelete(b, h, key, prior, persistDiffs); err != nil {
		return 0, err
	}
	b.Delete(kv.SUBSPACE, kv.ToDBKey(key))
	s.cache.Remove(key)
	if s.metrics != nil {
		s.metrics.subspaceWriteSz.Observe(0)
	}
	return int64(len(prior)), nil
}

// InvalidateAfterCommit must be called once a staged batch actually lands,
// since Write/Delete only remove stale cache entries, they don't seed the
// new ones (the next Read repopulates lazily).
func (s *Subspace) InvalidateAfterCommit(keys []string) {
	for _, k := range keys {
		s.cache.Remove(k)
	}
}
