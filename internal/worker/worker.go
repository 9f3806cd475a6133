package worker

import (
	"context"
	"time"

	"casedata-engine/internal/audit"
	"casedata-engine/internal/domain"
	"casedata-engine/internal/notification"
	"casedata-engine/internal/repository"

	"go.uber.org/zap"
)

// 通知文案
const (
	DescriptionMessageReceived = "Meddelande mottaget"
	DescriptionSuspensionEnded = "Parkering av ärendet har upphört"
)

// 外部会话中的引用 key
const (
	relationReferenceKey        = "RELATION_ID"
	conversationTypeMetadataKey = "type"
)

// Notifier 通知引擎（notification.Engine 实现）
type Notifier interface {
	Process(ctx context.Context, identity domain.Identity, strategy, municipalityID, namespace string, draft domain.NotificationDraft, errand *domain.Errand) (string, error)
}

// Deps 所有任务共享的依赖
type Deps struct {
	Repos    *repository.Repositories
	Hook     *audit.Hook
	Notifier Notifier
	Identity domain.Identity // 后台任务的执行身份
	Logger   *zap.Logger
}

func (d Deps) now() time.Time {
	if d.Hook != nil {
		return d.Hook.Now()
	}
	return time.Now()
}

// notifyAdministrator 通知案件管理员（无管理员时创建无接收人通知）
func (d Deps) notifyAdministrator(ctx context.Context, errand *domain.Errand, subType, description string) (string, error) {
	return d.Notifier.Process(ctx, d.Identity, notification.StrategyOwner, errand.MunicipalityID, errand.Namespace, domain.NotificationDraft{
		OwnerID:     errand.AdministratorAccount(),
		Type:        domain.NotificationTypeUpdate,
		SubType:     subType,
		Description: description,
	}, errand)
}
