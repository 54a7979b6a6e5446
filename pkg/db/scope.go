package db

import (
	"context"

	"gorm.io/gorm"
)

type txKey struct{}

// Scope runs units of work inside one database transaction. A Run nested in
// another Run on the same context joins the outer transaction.
type Scope struct {
	db *gorm.DB
}

func NewScope(db *gorm.DB) *Scope {
	return &Scope{db: db}
}

// Run executes fn in a transaction carried by ctx. fn must use the tx it
// receives; any error rolls the whole scope back.
func (s *Scope) Run(ctx context.Context, fn func(ctx context.Context, tx *gorm.DB) error) error {
	if tx, ok := ctx.Value(txKey{}).(*gorm.DB); ok && tx != nil {
		return fn(ctx, tx)
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(context.WithValue(ctx, txKey{}, tx), tx)
	})
}

// Conn returns the active transaction for ctx, or the pool handle.
func (s *Scope) Conn(ctx context.Context) *gorm.DB {
	if tx, ok := ctx.Value(txKey{}).(*gorm.DB); ok && tx != nil {
		return tx
	}
	return s.db.WithContext(ctx)
}

// InScope reports whether ctx carries an open transaction.
func InScope(ctx context.Context) bool {
	tx, ok := ctx.Value(txKey{}).(*gorm.DB)
	return ok && tx != nil
}
