package notification

import (
	"context"

	"casedata-engine/internal/domain"
)

// OwnerStrategy 按草稿中的接收人创建通知（接收人可为空）
type OwnerStrategy struct {
	creator *creator
}

var _ Strategy = (*OwnerStrategy)(nil)

func (s *OwnerStrategy) Name() string { return StrategyOwner }

func (s *OwnerStrategy) Process(ctx context.Context, identity domain.Identity, municipalityID, namespace string, draft domain.NotificationDraft, errand *domain.Errand) (string, error) {
	return s.creator.create(ctx, identity, municipalityID, namespace, draft, errand)
}

// ReporterStrategy 通知案件的 REPORTER；没有带外部账号的 REPORTER 时不创建
type ReporterStrategy struct {
	owner *OwnerStrategy
}

var _ Strategy = (*ReporterStrategy)(nil)

func (s *ReporterStrategy) Name() string { return StrategyReporter }

func (s *ReporterStrategy) Process(ctx context.Context, identity domain.Identity, municipalityID, namespace string, draft domain.NotificationDraft, errand *domain.Errand) (string, error) {
	reporter := errand.FindStakeholderByRole(domain.RoleReporter)
	if reporter == nil {
		return "", nil
	}

	draft.OwnerID = reporter.AdAccount
	return s.owner.Process(ctx, identity, municipalityID, namespace, draft, errand)
}
