package worker

import (
	"context"
	"fmt"

	"casedata-engine/internal/config"

	"go.uber.org/zap"
)

// NotificationCleanupWorker 删除已过期的通知
type NotificationCleanupWorker struct {
	Deps
}

// NewNotificationCleanupWorker 创建通知清理任务
func NewNotificationCleanupWorker(deps Deps) *NotificationCleanupWorker {
	return &NotificationCleanupWorker{Deps: deps}
}

// Name 任务名
func (w *NotificationCleanupWorker) Name() string { return config.JobNotificationCleanup }

// Run 单条语句删除，无需逐条隔离
func (w *NotificationCleanupWorker) Run(ctx context.Context) error {
	deleted, err := w.Repos.Notifications.DeleteExpired(ctx, w.now())
	if err != nil {
		return fmt.Errorf("failed to delete expired notifications: %w", err)
	}
	if deleted > 0 {
		w.Logger.Info("Expired notifications deleted", zap.Int64("count", deleted))
	}
	return nil
}
