package state

import (
	"github.com/dlclark/regexp2"
	"go.uber.org/zap"

	"github.com/erigontech/ledgerstore/kv"
)

// Migrate is the offline overwrite/migration visitor (§4.10): a narrow
// surface meant for maintenance tooling run against a store that isn't
// currently serving a live chain, not for block-processing logic.
type Migrate struct {
	db  *kv.Store
	log *zap.Logger
}

// NewMigrate wires a Migrate over db.
func NewMigrate(db *kv.Store, log *zap.Logger) *Migrate {
	if log == nil {
		log = zap.NewNop()
	}
	return &Migrate{db: db, log: log}
}

// Read returns key's raw value from cf.
func (m *Migrate) Read(cf kv.CF, key string) ([]byte, error) {
	return m.db.GetCF(cf, kv.ToDBKey(key))
}

// Write overwrites key in cf with value. Writes to SUBSPACE also emit a
// "new" diff entry at the store's current height, so the migration is
// visible to history (§4.10); no "old" entry is recorded for the value it
// replaces. Write takes no height argument and always applies at the
// store's current height: the visitor edits the present, it does not
// rewrite history (open question in §9, resolved this way).
func (m *Migrate) Write(cf kv.CF, key string, value []byte) error {
	heightBytes, err := m.db.GetCF(kv.STATE, keyBytes(kv.StateHeight))
	if err != nil {
		return err
	}
	if heightBytes == nil {
		return kv.Newf(kv.UnknownKeyErr, "migrate: no height recorded")
	}
	h := decodeUint(heightBytes)

	batch := kv.NewWriteBatch()
	batch.Put(cf, kv.ToDBKey(key), value)
	if cf == kv.SUBSPACE {
		_, newKey := kv.OldAndNewDiffKey(key, h)
		batch.Put(kv.DIFFS, kv.ToDBKey(newKey), value)
	}
	return m.db.Write(batch)
}

// Delete removes key from cf.
func (m *Migrate) Delete(cf kv.CF, key string) error {
	return m.db.DeleteCF(cf, kv.ToDBKey(key))
}

// GetPattern returns every (key, value) pair in cf whose key matches the
// given regular expression. Pattern matching uses regexp2 rather than the
// standard library's RE2 engine because the migration tooling's patterns
// are written against Namada's original backtracking-regex semantics
// (lookaheads in particular), which RE2 cannot express.
func (m *Migrate) GetPattern(cf kv.CF, pattern string) (map[string][]byte, error) {
	re, err := regexp2.Compile(pattern, regexp2.None)
	if err != nil {
		return nil, kv.Wrap(kv.KeyErr, err, "compile pattern")
	}
	out := make(map[string][]byte)
	err = m.db.IteratePrefix(cf, nil, func(key, value []byte) (bool, error) {
		matched, err := re.MatchString(string(key))
		if err != nil {
			return false, kv.Wrap(kv.KeyErr, err, "match pattern")
		}
		if matched {
			out[string(key)] = append([]byte(nil), value...)
		}
		return true, nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
