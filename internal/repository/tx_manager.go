package repository

import (
	"context"

	"einvoice/internal/logger"

	"gorm.io/gorm"
)

type txCtxKey struct{}

// TransactionManager runs invoice state changes and their audit rows atomically.
type TransactionManager interface {
	RunInTx(ctx context.Context, fn func(txCtx context.Context) error) error
}

type transactionManager struct {
	db *gorm.DB
}

func NewTransactionManager(db *gorm.DB) TransactionManager {
	return &transactionManager{db: db}
}

// RunInTx runs fn in a transaction carried by txCtx. Nested calls join the outer
// transaction; any error rolls back everything.
func (t *transactionManager) RunInTx(ctx context.Context, fn func(txCtx context.Context) error) error {
	if inTx(ctx) {
		return fn(ctx)
	}
	err := t.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(context.WithValue(ctx, txCtxKey{}, tx))
	})
	if err != nil {
		log := logger.WithComponent("repository")
		log.Debug().Err(err).Msg("transaction rolled back")
	}
	return err
}

func inTx(ctx context.Context) bool {
	_, ok := ctx.Value(txCtxKey{}).(*gorm.DB)
	return ok
}

// GetDB returns the transaction bound to ctx, or root when there is none.
func GetDB(ctx context.Context, root *gorm.DB) *gorm.DB {
	if tx, ok := ctx.Value(txCtxKey{}).(*gorm.DB); ok {
		return tx.WithContext(ctx)
	}
	return root.WithContext(ctx)
}
