package kv

import (
	"os"
	"runtime"

	"github.com/c2h5oh/datasize"

	emath "github.com/erigontech/ledgerstore/erigon-lib/common/math"
)

// EnvCompactionThreads is the environment variable used to override the
// default compaction/background-thread count, mirroring the reference
// pack's convention of one env var per tunable knob.
const EnvCompactionThreads = "LEDGERSTORE_COMPACTION_THREADS"

// Config bundles the KV Engine Adapter's tunable knobs (§4.1, §6).
type Config struct {
	// Path is the on-disk data directory. Required.
	Path string

	// CompactionThreads is informational only: MDBX has no RocksDB-style
	// background compaction thread pool to size, so this knob is surfaced
	// in Open's startup log for operators and otherwise unused. Zero means
	// "use EnvCompactionThreads if set, else logical_cpus/4 rounded up".
	CompactionThreads int

	// CacheSize bounds the shared page/block cache. Zero means "use
	// MDBX's own default".
	CacheSize datasize.ByteSize

	// MaxOpenFDs is the target the adapter tries to raise the process's
	// soft RLIMIT_NOFILE to on Open. Zero means "use 16384".
	MaxOpenFDs uint64

	// ReadPastHeightLimit optionally bounds how far back of the latest
	// height a historical read may reach; zero means unbounded.
	ReadPastHeightLimit uint64
}

const defaultMaxOpenFDs = 16384

// WithDefaults returns a copy of cfg with zero-valued knobs replaced by
// their defaults.
func (cfg Config) WithDefaults() Config {
	out := cfg
	if out.CompactionThreads == 0 {
		out.CompactionThreads = compactionThreadsFromEnv()
	}
	if out.MaxOpenFDs == 0 {
		out.MaxOpenFDs = defaultMaxOpenFDs
	}
	return out
}

func compactionThreadsFromEnv() int {
	if v := os.Getenv(EnvCompactionThreads); v != "" {
		if n, ok := emath.ParseUint64(v); ok && n > 0 {
			return int(n)
		}
	}
	return emath.CeilDiv(runtime.NumCPU(), 4)
}
