package worker

import (
	"context"
	"fmt"

	"casedata-engine/internal/config"
	"casedata-engine/internal/domain"

	"go.uber.org/zap"
)

// SuspensionWorker 清除已到期的案件暂停并通知管理员
type SuspensionWorker struct {
	Deps
}

// NewSuspensionWorker 创建暂停到期任务
func NewSuspensionWorker(deps Deps) *SuspensionWorker {
	return &SuspensionWorker{Deps: deps}
}

// Name 任务名
func (w *SuspensionWorker) Name() string { return config.JobSuspensionExpiry }

// Run 处理 suspended_to 早于当前时间的案件，每个案件一个事务，单个失败不影响其他
func (w *SuspensionWorker) Run(ctx context.Context) error {
	errands, err := w.Repos.Errands.FindSuspendedBefore(ctx, w.now())
	if err != nil {
		return fmt.Errorf("failed to find expired suspensions: %w", err)
	}

	var cleared, failed int
	for _, errand := range errands {
		if err := w.expire(ctx, errand); err != nil {
			failed++
			w.Logger.Error("Failed to clear expired suspension",
				zap.String("job", w.Name()),
				zap.Int64("errand_id", errand.ID),
				zap.String("errand_number", errand.ErrandNumber),
				zap.Error(err),
			)
			continue
		}
		cleared++
	}

	if len(errands) > 0 {
		w.Logger.Info("Expired suspensions processed",
			zap.Int("cleared", cleared),
			zap.Int("failed", failed),
		)
	}
	return nil
}

func (w *SuspensionWorker) expire(ctx context.Context, errand *domain.Errand) error {
	return w.Repos.Transactor.WithinTx(ctx, func(ctx context.Context) error {
		// 1. 通知管理员（无管理员时创建无接收人通知）
		if _, err := w.notifyAdministrator(ctx, errand, domain.NotificationSubTypeSuspension, DescriptionSuspensionEnded); err != nil {
			return fmt.Errorf("failed to create notification: %w", err)
		}

		// 2. 清除暂停窗口（重新加载最新版本，冲突时重试）
		if _, err := w.Hook.Update(ctx, w.Identity, errand.ID, func(e *domain.Errand) error {
			e.ClearSuspension()
			return nil
		}); err != nil {
			return fmt.Errorf("failed to clear suspension: %w", err)
		}
		return nil
	})
}
