// Package repository はデータアクセス層の実装を提供する。
package repository

import (
	"context"

	"gorm.io/gorm"
)

type txKey struct{}

// withTx はトランザクションをコンテキストに格納する。
func withTx(ctx context.Context, tx *gorm.DB) context.Context {
	return context.WithValue(ctx, txKey{}, tx)
}

// conn はコンテキストにトランザクションがあればそれを、なければ db を返す。
func conn(ctx context.Context, db *gorm.DB) *gorm.DB {
	if tx, ok := ctx.Value(txKey{}).(*gorm.DB); ok {
		return tx.WithContext(ctx)
	}
	return db.WithContext(ctx)
}

// TxManager はリポジトリ横断のトランザクション境界を提供する。
type TxManager struct {
	db *gorm.DB
}

// NewTxManager は新しいTxManagerを生成する。
func NewTxManager(db *gorm.DB) *TxManager {
	return &TxManager{db: db}
}

// RunInTx は fn をトランザクション内で実行する。fn がエラーを返すと全体がロールバックされる。
// 既にトランザクション内であればそのまま参加する。
func (m *TxManager) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if _, ok := ctx.Value(txKey{}).(*gorm.DB); ok {
		return fn(ctx)
	}
	return m.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(withTx(ctx, tx))
	})
}
