package audit

import (
	"context"
	"fmt"
	"time"

	"casedata-engine/internal/domain"
	"casedata-engine/internal/repository"
	"casedata-engine/internal/retry"

	"go.uber.org/zap"
)

// ChildKind 案件子实体类型
type ChildKind string

const (
	ChildNote           ChildKind = "note"
	ChildDecision       ChildKind = "decision"
	ChildStakeholder    ChildKind = "stakeholder"
	ChildFacility       ChildKind = "facility"
	ChildAppeal         ChildKind = "appeal"
	ChildExtraParameter ChildKind = "extra-parameter"
	ChildNotification   ChildKind = "notification"
	ChildMessage        ChildKind = "message"
	ChildConversation   ChildKind = "conversation"
)

// Hook 子实体变更时刷新所属案件的审计字段并推进版本号
type Hook struct {
	errands     repository.ErrandRepository
	tx          repository.Transactor
	maxAttempts int
	nowFunc     func() time.Time
	logger      *zap.Logger
}

// NewHook 创建审计传播钩子
func NewHook(errands repository.ErrandRepository, tx repository.Transactor, maxAttempts int, logger *zap.Logger) *Hook {
	return &Hook{
		errands:     errands,
		tx:          tx,
		maxAttempts: maxAttempts,
		nowFunc:     time.Now,
		logger:      logger,
	}
}

// WithClock 替换时钟（测试用）
func (h *Hook) WithClock(now func() time.Time) *Hook {
	h.nowFunc = now
	return h
}

// Now 当前时间
func (h *Hook) Now() time.Time {
	return h.nowFunc()
}

// PrepareNew 首次持久化前调用：先写入编号，再设置创建者（仅一次）和审计字段
func (h *Hook) PrepareNew(errand *domain.Errand, identity domain.Identity, errandNumber string) {
	now := h.nowFunc()
	if errand.ErrandNumber == "" {
		errand.ErrandNumber = errandNumber
	}
	if errand.CreatedBy == "" {
		errand.Created = now
		errand.CreatedBy = identity.Actor()
		errand.CreatedByClient = identity.ClientID
	}
	errand.Touch(identity, now)
}

// MutateChild 在同一事务内执行子实体写入并刷新父案件（子实体保存 -> 父案件 touch -> 父案件保存）
func (h *Hook) MutateChild(ctx context.Context, identity domain.Identity, errandID int64, kind ChildKind, write func(ctx context.Context) error) error {
	return h.tx.WithinTx(ctx, func(ctx context.Context) error {
		if err := write(ctx); err != nil {
			return fmt.Errorf("failed to write %s: %w", kind, err)
		}
		if _, err := h.TouchParent(ctx, identity, errandID); err != nil {
			return fmt.Errorf("failed to touch errand after %s change: %w", kind, err)
		}
		return nil
	})
}

// TouchParent 重新加载案件，刷新审计字段并保存；版本冲突时重试
func (h *Hook) TouchParent(ctx context.Context, identity domain.Identity, errandID int64) (*domain.Errand, error) {
	return h.Update(ctx, identity, errandID, func(*domain.Errand) error { return nil })
}

// Update 直接修改案件：load -> mutate -> touch -> save，冲突时重试
func (h *Hook) Update(ctx context.Context, identity domain.Identity, errandID int64, mutate func(*domain.Errand) error) (*domain.Errand, error) {
	attempts := 0
	errand, err := retry.SaveWithRetry(ctx,
		func(ctx context.Context) (*domain.Errand, error) {
			attempts++
			return h.errands.FindByID(ctx, errandID)
		},
		func(e *domain.Errand) error {
			if err := mutate(e); err != nil {
				return err
			}
			e.Touch(identity, h.nowFunc())
			return nil
		},
		h.errands.Save,
		h.maxAttempts,
	)
	if err != nil {
		return nil, err
	}

	if attempts > 1 {
		h.logger.Debug("Errand saved after conflict retries",
			zap.Int64("errand_id", errandID),
			zap.Int("attempts", attempts),
		)
	}
	return errand, nil
}
