package state

import (
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/erigontech/ledgerstore/kv"
)

// openTestDB opens a real on-disk store under t.TempDir(), the same way
// the reference pack tests its database layer against a real, disposable
// engine rather than a mock.
func openTestDB(t *testing.T) *kv.Store {
	t.Helper()
	store, err := kv.Open(kv.Config{Path: t.TempDir()}, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func newTestStack(t *testing.T) (*kv.Store, *Subspace, *DiffLog, *HistoryReader) {
	t.Helper()
	db := openTestDB(t)
	diffs := NewDiffLog(db, zap.NewNop())
	subspace, err := NewSubspace(db, diffs, zap.NewNop())
	require.NoError(t, err)
	history := NewHistoryReader(db, subspace, zap.NewNop())
	return db, subspace, diffs, history
}
