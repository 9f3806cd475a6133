package worker

import (
	"context"
	"fmt"

	"casedata-engine/internal/audit"
	"casedata-engine/internal/domain"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// inbound 一条待导入的外部消息（与来源无关）
type inbound struct {
	message     *domain.Message
	attachments []inboundAttachment
}

// inboundAttachment 附件内容可能需要单独下载
type inboundAttachment struct {
	name     string
	mimeType string
	fetch    func(ctx context.Context) ([]byte, error)
}

// batchStats 一批消息的处理结果
type batchStats struct {
	imported   int
	duplicates int
	unmatched  int
	failed     int
}

func (s batchStats) fields() []zap.Field {
	return []zap.Field{
		zap.Int("imported", s.imported),
		zap.Int("duplicates", s.duplicates),
		zap.Int("unmatched", s.unmatched),
		zap.Int("failed", s.failed),
	}
}

// importMessage 单条消息的本地工作单元（同一事务）：
// 去重 -> 保存消息 -> 下载并保存附件 -> 通知管理员 -> 刷新案件审计字段。
// 返回 false 表示该消息已导入过。
func (d Deps) importMessage(ctx context.Context, job string, errand *domain.Errand, in inbound) (bool, error) {
	msg := in.message

	exists, err := d.Repos.Messages.ExistsByID(ctx, msg.ID)
	if err != nil {
		return false, fmt.Errorf("failed to check message %s: %w", msg.ID, err)
	}
	if exists {
		return false, nil
	}

	msg.ErrandID = errand.ID
	msg.ErrandNumber = errand.ErrandNumber
	msg.MunicipalityID = errand.MunicipalityID
	msg.Namespace = errand.Namespace
	msg.Created = d.now()

	err = d.Hook.MutateChild(ctx, d.Identity, errand.ID, audit.ChildMessage, func(ctx context.Context) error {
		// 1. 先保存消息，附件引用它
		if err := d.Repos.Messages.Save(ctx, msg); err != nil {
			return fmt.Errorf("failed to save message: %w", err)
		}

		// 2. 附件下载失败只记录，消息保留（不带该附件）
		for _, a := range in.attachments {
			content, err := a.fetch(ctx)
			if err != nil {
				d.Logger.Warn("Failed to fetch attachment, message kept without it",
					zap.String("job", job),
					zap.String("message_id", msg.ID),
					zap.String("attachment", a.name),
					zap.Error(err),
				)
				continue
			}
			if err := d.Repos.Attachments.Save(ctx, &domain.Attachment{
				ID:             uuid.New().String(),
				MessageID:      msg.ID,
				ErrandNumber:   errand.ErrandNumber,
				MunicipalityID: errand.MunicipalityID,
				Namespace:      errand.Namespace,
				Name:           a.name,
				MimeType:       a.mimeType,
				Content:        content,
				Created:        d.now(),
			}); err != nil {
				return fmt.Errorf("failed to save attachment %s: %w", a.name, err)
			}
		}

		// 3. 通知管理员
		if _, err := d.notifyAdministrator(ctx, errand, domain.NotificationSubTypeMessage, DescriptionMessageReceived); err != nil {
			return fmt.Errorf("failed to create notification: %w", err)
		}
		return nil
	})
	if err != nil {
		return false, err
	}
	return true, nil
}
