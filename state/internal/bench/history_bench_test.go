//go:build bench

package bench

import (
	"testing"

	"go.uber.org/zap"

	"github.com/erigontech/ledgerstore/kv"
	"github.com/erigontech/ledgerstore/state"
)

// BenchmarkHistoryReaderWalk exercises ReadAt's forward-walk fallback path
// by asking for a key's value partway through a long run of overwrites,
// the Go analog of vps.rs benchmarking a VP that reads prior storage
// versions repeatedly.
func BenchmarkHistoryReaderWalk(b *testing.B) {
	db := openBenchStore(b)
	diffs := state.NewDiffLog(db, zap.NewNop())
	subspace, err := state.NewSubspace(db, diffs, zap.NewNop())
	if err != nil {
		b.Fatal(err)
	}
	history := state.NewHistoryReader(db, subspace, zap.NewNop())

	const heights = 200
	for h := kv.BlockHeight(10); h <= heights; h += 10 {
		batch := kv.NewWriteBatch()
		if _, err := subspace.Write(batch, h, "k", []byte{byte(h)}, true); err != nil {
			b.Fatal(err)
		}
		if err := db.Write(batch); err != nil {
			b.Fatal(err)
		}
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := history.ReadAt("k", heights/2+1, heights); err != nil {
			b.Fatal(err)
		}
	}
}
