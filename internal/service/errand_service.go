package service

import (
	"context"
	"fmt"
	"strings"

	"casedata-engine/internal/audit"
	"casedata-engine/internal/domain"
	"casedata-engine/internal/numbering"
	"casedata-engine/internal/repository"
	"casedata-engine/internal/retry"

	"go.uber.org/zap"
)

// ErrandService 案件创建与修改（编号分配、审计字段、乐观锁重试）
type ErrandService struct {
	errands       repository.ErrandRepository
	allocator     *numbering.Allocator
	hook          *audit.Hook
	abbreviations map[string]string
	maxAttempts   int
	logger        *zap.Logger
}

// NewErrandService 创建案件服务
func NewErrandService(
	errands repository.ErrandRepository,
	allocator *numbering.Allocator,
	hook *audit.Hook,
	abbreviations map[string]string,
	maxAttempts int,
	logger *zap.Logger,
) *ErrandService {
	return &ErrandService{
		errands:       errands,
		allocator:     allocator,
		hook:          hook,
		abbreviations: abbreviations,
		maxAttempts:   maxAttempts,
		logger:        logger,
	}
}

// CreateErrand 分配编号并首次保存。
// 并发创建可能算出相同编号，存储层唯一约束返回冲突后重新分配。
func (s *ErrandService) CreateErrand(ctx context.Context, identity domain.Identity, errand *domain.Errand) (*domain.Errand, error) {
	if errand == nil {
		return nil, fmt.Errorf("%w: errand is nil", domain.ErrInvalidInput)
	}
	abbreviation, ok := s.abbreviations[errand.CaseType]
	if !ok || strings.TrimSpace(abbreviation) == "" {
		return nil, fmt.Errorf("%w: no abbreviation for case type %q", domain.ErrInvalidInput, errand.CaseType)
	}

	created, err := retry.SaveWithRetry(ctx,
		func(ctx context.Context) (*domain.Errand, error) {
			number, err := s.allocator.Next(ctx, abbreviation)
			if err != nil {
				return nil, err
			}
			candidate := errand.Clone()
			candidate.ID = 0
			candidate.ErrandNumber = ""
			s.hook.PrepareNew(candidate, identity, number)
			return candidate, nil
		},
		func(*domain.Errand) error { return nil },
		s.errands.Create,
		s.maxAttempts,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create errand: %w", err)
	}

	s.logger.Info("Errand created",
		zap.Int64("errand_id", created.ID),
		zap.String("errand_number", created.ErrandNumber),
		zap.String("case_type", created.CaseType),
		zap.String("created_by", created.CreatedBy),
	)
	return created, nil
}

// UpdateErrand 直接修改案件（load -> mutate -> touch -> save，冲突时重试）。编号不可修改
func (s *ErrandService) UpdateErrand(ctx context.Context, identity domain.Identity, errandID int64, mutate func(*domain.Errand) error) (*domain.Errand, error) {
	return s.hook.Update(ctx, identity, errandID, func(e *domain.Errand) error {
		number := e.ErrandNumber
		if err := mutate(e); err != nil {
			return err
		}
		if e.ErrandNumber != number {
			return fmt.Errorf("%w: errand number is immutable", domain.ErrInvalidInput)
		}
		return nil
	})
}

// MutateChild 写入子实体并在同一事务中刷新所属案件
func (s *ErrandService) MutateChild(ctx context.Context, identity domain.Identity, errandID int64, kind audit.ChildKind, write func(ctx context.Context) error) error {
	return s.hook.MutateChild(ctx, identity, errandID, kind, write)
}
