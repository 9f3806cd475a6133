package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"casedata-engine/common/config"

	_ "github.com/lib/pq"
)

const defaultConnectTimeout = 5 * time.Second

// NewPostgresDB 打开连接池并在超时时间内确认数据库可达；不可达时返回错误，由调用方决定是否终止启动
func NewPostgresDB(ctx context.Context, cfg *config.DatabaseConfig) (*sql.DB, error) {
	db, err := sql.Open("postgres", cfg.GetDSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	configurePool(db, cfg)

	timeout := cfg.ConnectTimeout
	if timeout <= 0 {
		timeout = defaultConnectTimeout
	}
	pingCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to reach database %s:%d: %w", cfg.Host, cfg.Port, err)
	}
	return db, nil
}

func configurePool(db *sql.DB, cfg *config.DatabaseConfig) {
	if cfg.MaxConns > 0 {
		db.SetMaxOpenConns(cfg.MaxConns)
	}
	if cfg.MaxIdle > 0 {
		db.SetMaxIdleConns(cfg.MaxIdle)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}
}

// Close 关闭数据库连接（允许 nil）
func Close(db *sql.DB) error {
	if db == nil {
		return nil
	}
	return db.Close()
}
