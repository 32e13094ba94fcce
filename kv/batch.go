package kv

// WriteBatch accumulates puts and deletes across one or more column
// families for a single atomic commit via Store.Write. It is owned
// exclusively by whichever goroutine is assembling it (§3 Ownership);
// concurrent assembly requires external synchronization (§5, see
// state.Rollback's mutex-guarded batch).
type WriteBatch struct {
	ops []batchOp
}

type batchOp struct {
	cf     CF
	key    []byte
	value  []byte
	delete bool
}

// NewWriteBatch returns an empty batch.
func NewWriteBatch() *WriteBatch {
	return &WriteBatch{}
}

// Put stages a put of key=value in cf. The last Put/Delete staged for a
// given (cf, key) pair within one batch wins (§8 scenario 5).
func (b *WriteBatch) Put(cf CF, key, value []byte) {
	b.ops = append(b.ops, batchOp{cf: cf, key: append([]byte(nil), key...), value: append([]byte(nil), value...)})
}

// Delete stages a delete of key in cf.
func (b *WriteBatch) Delete(cf CF, key []byte) {
	b.ops = append(b.ops, batchOp{cf: cf, key: append([]byte(nil), key...), delete: true})
}

// Len reports the number of staged operations.
func (b *WriteBatch) Len() int { return len(b.ops) }
