package jobstore

import (
	"context"

	"gorm.io/gorm"
	"k8s.io/klog/v2"
)

// schedulerLockKey is the stable advisory-lock key shared by all scheduler
// replicas. Changing it across a rolling deploy would briefly allow two
// leaders.
const schedulerLockKey = 912345678

// AdvisoryMutex is a named cross-process mutex on the shared postgres
// instance, used by the scheduler for leader gating. The lock is
// session-scoped, so the holder pins one connection until unlock.
type AdvisoryMutex struct {
	db *gorm.DB
}

func NewAdvisoryMutex(db *gorm.DB) *AdvisoryMutex {
	return &AdvisoryMutex{db: db}
}

// TryLock attempts a non-blocking acquire. On success it returns an unlock
// func that releases the lock and the pinned connection; callers must always
// invoke it. ok=false means another replica holds the lock.
func (m *AdvisoryMutex) TryLock(ctx context.Context) (unlock func(), ok bool, err error) {
	sqlDB, err := m.db.DB()
	if err != nil {
		return nil, false, err
	}
	conn, err := sqlDB.Conn(ctx)
	if err != nil {
		return nil, false, err
	}

	var locked bool
	if err := conn.QueryRowContext(ctx, "SELECT pg_try_advisory_lock($1)", schedulerLockKey).Scan(&locked); err != nil {
		_ = conn.Close()
		return nil, false, err
	}
	if !locked {
		_ = conn.Close()
		return nil, false, nil
	}

	unlock = func() {
		// Unlock must run on the session that acquired the lock, even if
		// the tick's context is already done.
		if _, err := conn.ExecContext(context.Background(), "SELECT pg_advisory_unlock($1)", schedulerLockKey); err != nil {
			klog.Errorf("release scheduler advisory lock: %v", err)
		}
		_ = conn.Close()
	}
	return unlock, true, nil
}
