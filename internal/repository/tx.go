package repository

import (
	"context"
	"database/sql"
	"fmt"
)

type txKey struct{}

// dbtx *sql.DB 与 *sql.Tx 的公共方法
type dbtx interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// conn 优先使用上下文中的事务
func conn(ctx context.Context, db *sql.DB) dbtx {
	if tx, ok := ctx.Value(txKey{}).(*sql.Tx); ok {
		return tx
	}
	return db
}

// TxManager 基于 database/sql 的事务管理
type TxManager struct {
	db *sql.DB
}

// NewTxManager 创建事务管理器
func NewTxManager(db *sql.DB) *TxManager {
	return &TxManager{db: db}
}

var _ Transactor = (*TxManager)(nil)

// WithinTx 在事务中执行 fn；fn 返回错误时回滚
func (m *TxManager) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if _, ok := ctx.Value(txKey{}).(*sql.Tx); ok {
		return fn(ctx)
	}

	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if err := fn(context.WithValue(ctx, txKey{}, tx)); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// NoopTransactor 内存仓库使用的事务（不提供回滚）
type NoopTransactor struct{}

var _ Transactor = NoopTransactor{}

func (NoopTransactor) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}
