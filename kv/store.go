package kv

import (
	"os"
	"path/filepath"
	"sync"

	"github.com/cenkalti/backoff/v4"
	"github.com/erigontech/mdbx-go/mdbx"
	"github.com/gofrs/flock"
	"go.uber.org/zap"
	"golang.org/x/sys/unix"
)

// Store is the KV Engine Adapter: it owns a single mdbx.Env, the five
// column-family DBI handles, the process-wide writer lock, and the
// logger/metrics every other component borrows. The handle is exclusively
// owned by the engine for the life of the process (§3 Ownership).
type Store struct {
	cfg Config
	log *zap.Logger

	env  *mdbx.Env
	dbis map[CF]mdbx.DBI

	lock    *flock.Flock
	closeMu sync.Mutex
	closed  bool
}

// Open opens (creating if absent) the on-disk store at cfg.Path with the
// five column families, tuned per §4.1: a shared page-cache budget and a
// raised process file-descriptor limit. The compaction-thread count is
// only logged. It takes an exclusive flock on a LOCK file inside the data
// directory so a second writer process fails fast instead of corrupting
// the store.
func Open(cfg Config, log *zap.Logger) (*Store, error) {
	cfg = cfg.WithDefaults()
	if cfg.Path == "" {
		return nil, Newf(KeyErr, "kv.Open: empty path")
	}
	if log == nil {
		log = zap.NewNop()
	}

	if err := os.MkdirAll(cfg.Path, 0o755); err != nil {
		return nil, Wrap(DBError, err, "create data dir")
	}

	raiseFDLimit(cfg.MaxOpenFDs, log)

	lock := flock.New(filepath.Join(cfg.Path, "LOCK"))
	locked, err := lockWithBackoff(lock)
	if err != nil {
		return nil, Wrap(DBError, err, "acquire writer lock")
	}
	if !locked {
		return nil, Newf(DBError, "store at %s is already held by another writer", cfg.Path)
	}

	env, err := mdbx.NewEnv()
	if err != nil {
		_ = lock.Unlock()
		return nil, Wrap(DBError, err, "create mdbx env")
	}
	if err := env.SetOption(mdbx.OptMaxDB, uint64(len(AllCF))); err != nil {
		_ = lock.Unlock()
		return nil, Wrap(DBError, err, "set max tables")
	}
	if cfg.CacheSize > 0 {
		if err := env.SetOption(mdbx.OptRpAugmentLimit, uint64(cfg.CacheSize)); err != nil {
			_ = lock.Unlock()
			return nil, Wrap(DBError, err, "set cache budget")
		}
	}

	flags := mdbx.Coalesce | mdbx.LifoReclaim
	if err := env.Open(cfg.Path, flags, 0o644); err != nil {
		_ = lock.Unlock()
		return nil, Wrap(DBError, err, "open mdbx env")
	}

	s := &Store{cfg: cfg, log: log, env: env, dbis: make(map[CF]mdbx.DBI, len(AllCF)), lock: lock}
	if err := s.createTables(); err != nil {
		_ = env.Close()
		_ = lock.Unlock()
		return nil, err
	}

	log.Info("storage engine opened",
		zap.String("path", cfg.Path),
		zap.Int("compaction_threads", cfg.CompactionThreads),
		zap.Uint64("max_open_fds", cfg.MaxOpenFDs),
	)
	return s, nil
}

func (s *Store) createTables() error {
	return s.env.Update(func(txn *mdbx.Txn) error {
		for _, cf := range AllCF {
			dbi, err := txn.OpenDBI(string(cf), mdbx.Create, nil, nil)
			if err != nil {
				return Wrap(DBError, err, "create table "+string(cf))
			}
			s.dbis[cf] = dbi
		}
		return nil
	})
}

func lockWithBackoff(lock *flock.Flock) (bool, error) {
	var locked bool
	op := func() error {
		ok, err := lock.TryLock()
		if err != nil {
			return err
		}
		locked = ok
		if !ok {
			return Newf(DBError, "lock held")
		}
		return nil
	}
	policy := backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 5)
	if err := backoff.Retry(op, policy); err != nil {
		return false, nil //nolint:nilerr // a still-held lock after retries is reported as "not locked", not a hard error
	}
	return locked, nil
}

// raiseFDLimit best-effort raises the process's soft RLIMIT_NOFILE toward
// target; failure is logged, not fatal, since the caller may lack
// permission to do so (§4.1: "when permitted").
func raiseFDLimit(target uint64, log *zap.Logger) {
	var rl unix.Rlimit
	if err := unix.Getrlimit(unix.RLIMIT_NOFILE, &rl); err != nil {
		log.Warn("could not read RLIMIT_NOFILE", zap.Error(err))
		return
	}
	want := target
	if rl.Max < want {
		want = rl.Max
	}
	if rl.Cur >= want {
		return
	}
	rl.Cur = want
	if err := unix.Setrlimit(unix.RLIMIT_NOFILE, &rl); err != nil {
		log.Warn("could not raise RLIMIT_NOFILE", zap.Uint64("target", target), zap.Error(err))
	}
}

// Flush flushes pending MDBX data to disk. Per §4.1, a failed flush on
// drop is fatal; Flush itself only reports the error, the caller (Close)
// decides how to escalate.
func (s *Store) Flush(wait bool) error {
	force := 1
	if !wait {
		force = 0
	}
	if _, err := s.env.Sync(true, force == 0); err != nil {
		return Wrap(DBError, err, "flush")
	}
	return nil
}

// Close flushes with wait=true and releases the env and writer lock. A
// failed flush is logged and the process is expected to crash per §7.
func (s *Store) Close() error {
	s.closeMu.Lock()
	defer s.closeMu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true

	if err := s.Flush(true); err != nil {
		s.log.Error("fatal: flush on close failed", zap.Error(err))
		s.env.Close()
		_ = s.lock.Unlock()
		return err
	}
	s.env.Close()
	return s.lock.Unlock()
}

func (s *Store) dbi(cf CF) (mdbx.DBI, error) {
	d, ok := s.dbis[cf]
	if !ok {
		return 0, Newf(KeyErr, "unknown column family %q", cf)
	}
	return d, nil
}

// GetCF reads key from cf under a fresh read transaction. Returns
// (nil, nil) when the key is absent.
func (s *Store) GetCF(cf CF, key []byte) ([]byte, error) {
	dbi, err := s.dbi(cf)
	if err != nil {
		return nil, err
	}
	var out []byte
	err = s.env.View(func(txn *mdbx.Txn) error {
		v, err := txn.Get(dbi, key)
		if err != nil {
			if mdbx.IsNotFound(err) {
				return nil
			}
			return err
		}
		out = append([]byte(nil), v...)
		return nil
	})
	if err != nil {
		return nil, Wrap(DBError, err, "get")
	}
	return out, nil
}

// PutCF writes key=value to cf in its own transaction. Prefer WriteBatch
// for multi-key atomic writes; PutCF is for single-key callers such as the
// migration visitor.
func (s *Store) PutCF(cf CF, key, value []byte) error {
	dbi, err := s.dbi(cf)
	if err != nil {
		return err
	}
	err = s.env.Update(func(txn *mdbx.Txn) error {
		return txn.Put(dbi, key, value, 0)
	})
	if err != nil {
		return Wrap(DBError, err, "put")
	}
	return nil
}

// DeleteCF deletes key from cf in its own transaction. Deleting an absent
// key is not an error.
func (s *Store) DeleteCF(cf CF, key []byte) error {
	dbi, err := s.dbi(cf)
	if err != nil {
		return err
	}
	err = s.env.Update(func(txn *mdbx.Txn) error {
		err := txn.Del(dbi, key, nil)
		if err != nil && mdbx.IsNotFound(err) {
			return nil
		}
		return err
	})
	if err != nil {
		return Wrap(DBError, err, "delete")
	}
	return nil
}

// Write executes batch atomically: all of its staged puts/deletes apply,
// or none do, matching §4/§7's "atomic batch" durability contract.
func (s *Store) Write(batch *WriteBatch) error {
	if batch == nil || len(batch.ops) == 0 {
		return nil
	}
	err := s.env.Update(func(txn *mdbx.Txn) error {
		for _, op := range batch.ops {
			dbi, err := s.dbi(op.cf)
			if err != nil {
				return err
			}
			if op.delete {
				if err := txn.Del(dbi, op.key, nil); err != nil && !mdbx.IsNotFound(err) {
					return err
				}
				continue
			}
			if err := txn.Put(dbi, op.key, op.value, 0); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return Wrap(DBError, err, "exec_batch")
	}
	return nil
}

// View runs fn against a read-only snapshot. Concurrent View calls and a
// concurrent Write never observe a partial batch (§5 Ordering).
func (s *Store) View(fn func(r Reader) error) error {
	return s.env.View(func(txn *mdbx.Txn) error {
		return fn(&txnReader{s: s, txn: txn})
	})
}
