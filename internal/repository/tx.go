package repository

import (
	"context"

	"gorm.io/gorm"
)

type txKey struct{}

// WithinTx runs fn in one transaction. Repository calls made with the ctx
// passed to fn join it; fn returning an error rolls everything back. Nested
// calls become savepoints of the outer transaction.
func (r *Repositories) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return conn(ctx, r.db).Transaction(func(tx *gorm.DB) error {
		return fn(context.WithValue(ctx, txKey{}, tx))
	})
}

// conn returns the transaction carried by ctx, or db.
func conn(ctx context.Context, db *gorm.DB) *gorm.DB {
	if tx, ok := ctx.Value(txKey{}).(*gorm.DB); ok {
		return tx.WithContext(ctx)
	}
	return db.WithContext(ctx)
}
