package kv

import (
	"strconv"
	"strings"
)

// Segsep is the fixed separator joining key segments into their canonical
// on-disk string form.
const Segsep = "/"

// BlockHeight is the block counter used in height-prefixed keys.
type BlockHeight = uint64

// Epoch is the counter partitioning heights into epochs.
type Epoch = uint64

// Key is an ordered list of string segments. Its canonical form joins
// segments with Segsep; the engine relies on this ordering for prefix
// iteration (§3: keys are totally ordered lexicographically in canonical
// form). Key is immutable: Push and Join return a new Key rather than
// mutating the receiver, mirroring the reference pack's preference for
// explicit builders over ad-hoc string concatenation.
type Key struct {
	segments []string
}

// NewKey builds a Key from one or more raw segments, validating each.
func NewKey(segments ...string) (Key, error) {
	k := Key{}
	for _, s := range segments {
		if err := validateSegment(s); err != nil {
			return Key{}, err
		}
		k.segments = append(k.segments, s)
	}
	return k, nil
}

// MustNewKey is NewKey but panics on an invalid segment; used for
// compile-time-known constant keys (e.g. STATE key names).
func MustNewKey(segments ...string) Key {
	k, err := NewKey(segments...)
	if err != nil {
		panic(err)
	}
	return k
}

func validateSegment(s string) error {
	if s == "" {
		return Newf(KeyErr, "empty key segment")
	}
	if strings.Contains(s, Segsep) {
		return Newf(KeyErr, "segment %q contains reserved separator %q", s, Segsep)
	}
	return nil
}

// Push appends segment to k, returning the extended key. It fails with a
// KeyError if segment contains the reserved separator or is empty.
func (k Key) Push(segment string) (Key, error) {
	if err := validateSegment(segment); err != nil {
		return Key{}, err
	}
	next := make([]string, len(k.segments), len(k.segments)+1)
	copy(next, k.segments)
	next = append(next, segment)
	return Key{segments: next}, nil
}

// Join concatenates two keys' segments into one.
func Join(a, b Key) Key {
	next := make([]string, 0, len(a.segments)+len(b.segments))
	next = append(next, a.segments...)
	next = append(next, b.segments...)
	return Key{segments: next}
}

// String returns the canonical segment-joined form.
func (k Key) String() string {
	return strings.Join(k.segments, Segsep)
}

// ToDBKey returns the canonical on-disk byte representation of segment
// alone, without building a full Key — used by callers that already hold
// a raw subspace key string and just need the bytes to put/get.
func ToDBKey(segment string) []byte {
	return []byte(segment)
}

// Bytes is ToDBKey applied to k's canonical string form.
func (k Key) Bytes() []byte {
	return []byte(k.String())
}

// OldAndNewDiffKey returns the "{h}/old/{key}" and "{h}/new/{key}" diff
// keys for subspace key and height h.
func OldAndNewDiffKey(key string, h uint64) (oldKey, newKey string) {
	h64 := strconv.FormatUint(h, 10)
	return h64 + Segsep + "old" + Segsep + key, h64 + Segsep + "new" + Segsep + key
}

// HeightPrefix returns the "{h}/" prefix under which all of a height's
// DIFFS or BLOCK entries live.
func HeightPrefix(h uint64) string {
	return strconv.FormatUint(h, 10) + Segsep
}

// BaseTreePrefix returns the prefix under which the per-height base Merkle
// tree's root/store pair is written: "base_tree/{h}/".
func BaseTreePrefix(h uint64) string {
	return "base_tree" + Segsep + strconv.FormatUint(h, 10) + Segsep
}

// SubtreePrefix returns the prefix under which a named store type's
// per-epoch subtree root/store pair is written: "subtree/{storeType}/{epoch}/".
func SubtreePrefix(storeType string, epoch uint64) string {
	return "subtree" + Segsep + storeType + Segsep + strconv.FormatUint(epoch, 10) + Segsep
}

// ReplayKey returns the full REPLAY key for hash under the given bucket
// ("last", "buffer", or "all"), rendering the hash in lowercase hex per §6.
func ReplayKey(bucket string, hexHash string) string {
	return bucket + Segsep + strings.ToLower(hexHash)
}

// UpperBound computes the exclusive upper bound for a ranged prefix scan by
// incrementing the last byte of prefix that isn't already 0xff, truncating
// any trailing 0xff bytes first. An all-0xff prefix (or empty prefix) has
// no finite upper bound and returns nil, meaning "scan to the end of the
// column family". Callers must supply a non-empty prefix to get a bounded
// scan, per §4.2.
func UpperBound(prefix []byte) []byte {
	if len(prefix) == 0 {
		return nil
	}
	ub := make([]byte, len(prefix))
	copy(ub, prefix)
	for i := len(ub) - 1; i >= 0; i-- {
		if ub[i] < 0xff {
			ub[i]++
			return ub[:i+1]
		}
	}
	return nil
}
