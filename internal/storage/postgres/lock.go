package postgres

import (
	"context"
	"fmt"

	"github.com/steveyegge/convmerge/internal/types"
)

// mergeLockKey is the advisory lock key shared by every live merge run
const mergeLockKey int64 = 0x636f6e766d657267 // "convmerg"

// AcquireMergeLock takes a session-level advisory lock on a dedicated
// connection. The connection is held until release is called.
func (s *PostgresStorage) AcquireMergeLock(ctx context.Context, holder string) (func() error, error) {
	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to acquire connection: %w", err)
	}

	var locked bool
	if err := conn.QueryRow(ctx, `SELECT pg_try_advisory_lock($1)`, mergeLockKey).Scan(&locked); err != nil {
		conn.Release()
		return nil, fmt.Errorf("failed to take merge lock: %w", err)
	}
	if !locked {
		conn.Release()
		return nil, fmt.Errorf("%w: another merge run holds the advisory lock (requested by %s)", types.ErrLocked, holder)
	}

	release := func() error {
		defer conn.Release()
		if _, err := conn.Exec(context.Background(), `SELECT pg_advisory_unlock($1)`, mergeLockKey); err != nil {
			return fmt.Errorf("failed to release merge lock: %w", err)
		}
		return nil
	}
	return release, nil
}
