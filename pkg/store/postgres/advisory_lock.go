package postgres

import (
	"context"
	"hash/fnv"

	"github.com/jmoiron/sqlx"
)

// AdvisoryLock wraps a Postgres session-level advisory lock keyed by a
// (job_kind, scope) pair, used to prevent two instances of the same
// recompute job from running concurrently. The key space is hashed into a
// single bigint since pg_try_advisory_lock takes one 64-bit key.
type AdvisoryLock struct {
	db  *sqlx.DB
	key int64
}

// NewAdvisoryLock derives the lock key from jobKind and scope so different
// recompute jobs, or the same job against different scopes, never contend.
func NewAdvisoryLock(db *sqlx.DB, jobKind, scope string) *AdvisoryLock {
	h := fnv.New64a()
	_, _ = h.Write([]byte(jobKind + ":" + scope))
	return &AdvisoryLock{db: db, key: int64(h.Sum64())}
}

// TryAcquire attempts a non-blocking session-level advisory lock, returning
// acquired=false without error if another session already holds it.
func (l *AdvisoryLock) TryAcquire(ctx context.Context) (bool, error) {
	var acquired bool
	if err := l.db.GetContext(ctx, &acquired, `SELECT pg_try_advisory_lock($1)`, l.key); err != nil {
		return false, dbErr("acquire advisory lock", err)
	}
	return acquired, nil
}

// Release drops a previously acquired lock. Safe to call even if TryAcquire
// returned false; Postgres reports that case as a no-op boolean, not an error.
func (l *AdvisoryLock) Release(ctx context.Context) error {
	var released bool
	if err := l.db.GetContext(ctx, &released, `SELECT pg_advisory_unlock($1)`, l.key); err != nil {
		return dbErr("release advisory lock", err)
	}
	return nil
}
