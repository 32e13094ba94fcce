//go:build bench

package bench

import (
	"testing"

	"go.uber.org/zap"

	"github.com/erigontech/ledgerstore/kv"
)

// openBenchStore opens a fresh on-disk store under b.TempDir(), mirroring
// BenchShell's role in the original benchmarks: a disposable, fully real
// backing store rather than an in-memory stand-in, so the numbers reflect
// actual MDBX I/O.
func openBenchStore(b *testing.B) *kv.Store {
	b.Helper()
	store, err := kv.Open(kv.Config{Path: b.TempDir()}, zap.NewNop())
	if err != nil {
		b.Fatal(err)
	}
	b.Cleanup(func() { _ = store.Close() })
	return store
}
