package tx

import (
	"context"
	"database/sql"
	"time"

	dErrors "covenant/pkg/domain-errors"
	"covenant/pkg/platform/sentinel"
)

const defaultTxTimeout = 5 * time.Second

// Manager opens SERIALIZABLE transactions on a *sql.DB. Version and chain
// checks read the predecessor row and insert the successor in one unit; at
// weaker isolation two writers can both observe the same predecessor.
type Manager struct {
	db      *sql.DB
	timeout time.Duration
}

type ManagerOption func(*Manager)

// WithTimeout bounds transactions whose context carries no deadline.
func WithTimeout(d time.Duration) ManagerOption {
	return func(m *Manager) {
		m.timeout = d
	}
}

func NewManager(db *sql.DB, opts ...ManagerOption) *Manager {
	m := &Manager{db: db, timeout: defaultTxTimeout}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// RunInTx runs fn in a serializable transaction. When ctx already carries a
// transaction, fn joins it and the outer caller owns commit.
func (m *Manager) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := ctx.Err(); err != nil {
		return dErrors.Wrap(err, dErrors.CodeTimeout, "transaction aborted: context cancelled")
	}
	if _, ok := From(ctx); ok {
		return fn(ctx)
	}

	if _, hasDeadline := ctx.Deadline(); !hasDeadline && m.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.timeout)
		defer cancel()
	}

	tx, err := m.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return sentinel.FromPostgres(err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if err := fn(WithTx(ctx, tx)); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return sentinel.FromPostgres(err)
	}
	return nil
}
