package storeutil

import (
	"context"
	"database/sql"
)

// TxOption tweaks the options of a transaction opened by WithTx.
type TxOption func(o *sql.TxOptions)

// TxWithIsolation sets the isolation level. WithTx defaults to serializable.
func TxWithIsolation(level sql.IsolationLevel) TxOption {
	return func(o *sql.TxOptions) {
		o.Isolation = level
	}
}

// WithTx runs f in a transaction, committing when f returns nil and rolling
// back otherwise. A panic in f rolls back and is re-raised.
func WithTx(ctx context.Context, db *sql.DB, f func(*sql.Tx) error, opts ...TxOption) (err error) {
	o := &sql.TxOptions{Isolation: sql.LevelSerializable}
	for _, opt := range opts {
		opt(o)
	}
	tx, err := db.BeginTx(ctx, o)
	if err != nil {
		return err
	}
	defer func() {
		if r := recover(); r != nil {
			_ = tx.Rollback()
			panic(r)
		}
		if err != nil {
			// the rollback error would hide the original one.
			_ = tx.Rollback()
			return
		}
		err = tx.Commit()
	}()
	return f(tx)
}
