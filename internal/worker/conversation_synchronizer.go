package worker

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"casedata-engine/internal/audit"
	"casedata-engine/internal/domain"
	"casedata-engine/internal/integration"

	"go.uber.org/zap"
)

// createdByInternalType 由内部账号发送的消息视为 OUTBOUND
const createdByInternalType = "adAccount"

// ConversationSynchronizer 把外部会话内的消息同步到本地会话所属案件
type ConversationSynchronizer struct {
	Deps
	source   ConversationSource
	pageSize int
}

// NewConversationSynchronizer 创建会话消息同步器
func NewConversationSynchronizer(deps Deps, source ConversationSource, pageSize int) *ConversationSynchronizer {
	return &ConversationSynchronizer{
		Deps:     deps,
		source:   source,
		pageSize: pageSize,
	}
}

// Sync 刷新会话属性并导入游标之后的新消息；有新消息时通知案件管理员
func (s *ConversationSynchronizer) Sync(ctx context.Context, local *domain.Conversation, external integration.ExchangeConversation) error {
	errand, err := s.Repos.Errands.FindByID(ctx, local.ErrandID)
	if err != nil {
		return fmt.Errorf("failed to load errand %d: %w", local.ErrandID, err)
	}

	pending, err := s.pendingMessages(ctx, local, external.ID)
	if err != nil {
		return err
	}

	return s.Hook.MutateChild(ctx, s.Identity, errand.ID, audit.ChildConversation, func(ctx context.Context) error {
		local.Topic = external.Topic
		if t := external.MetadataValue(conversationTypeMetadataKey); t != "" {
			local.Type = t
		}

		imported := 0
		for _, m := range pending {
			ok, err := s.importExchangeMessage(ctx, local, errand, external.ID, m)
			if err != nil {
				return err
			}
			if ok {
				imported++
			}
			if m.SequenceNumber > local.LatestSyncedSequenceNumber {
				local.LatestSyncedSequenceNumber = m.SequenceNumber
			}
		}

		local.Updated = s.now()
		if err := s.Repos.Conversations.Save(ctx, local); err != nil {
			return fmt.Errorf("failed to save conversation: %w", err)
		}

		if imported == 0 {
			return nil
		}
		if _, err := s.notifyAdministrator(ctx, errand, domain.NotificationSubTypeMessage, DescriptionMessageReceived); err != nil {
			return fmt.Errorf("failed to create notification: %w", err)
		}
		s.Logger.Info("Conversation messages imported",
			zap.String("conversation_id", external.ID),
			zap.String("errand_number", errand.ErrandNumber),
			zap.Int("imported", imported),
		)
		return nil
	})
}

// pendingMessages 拉取序号大于本地游标的全部消息
func (s *ConversationSynchronizer) pendingMessages(ctx context.Context, local *domain.Conversation, conversationID string) ([]integration.ExchangeMessage, error) {
	var pending []integration.ExchangeMessage
	for page := 0; ; page++ {
		result, err := s.source.GetMessages(ctx, local.MunicipalityID, local.Namespace, conversationID, page, s.pageSize)
		if err != nil {
			return nil, fmt.Errorf("failed to get conversation messages (page %d): %w", page, err)
		}
		for _, m := range result.Content {
			if m.SequenceNumber > local.LatestSyncedSequenceNumber {
				pending = append(pending, m)
			}
		}
		if result.Last || len(result.Content) == 0 || page+1 >= result.TotalPages {
			return pending, nil
		}
	}
}

// importExchangeMessage 返回 false 表示消息已存在
func (s *ConversationSynchronizer) importExchangeMessage(ctx context.Context, local *domain.Conversation, errand *domain.Errand, conversationID string, m integration.ExchangeMessage) (bool, error) {
	// 同一外部会话可能关联多个案件，本地消息 ID 按案件区分
	id := m.ID + "@" + strconv.FormatInt(errand.ID, 10)

	exists, err := s.Repos.Messages.ExistsByID(ctx, id)
	if err != nil {
		return false, fmt.Errorf("failed to check message %s: %w", id, err)
	}
	if exists {
		return false, nil
	}

	direction := domain.DirectionInbound
	if m.CreatedBy.Type == createdByInternalType {
		direction = domain.DirectionOutbound
	}

	msg := &domain.Message{
		ID:             id,
		ErrandID:       errand.ID,
		ErrandNumber:   errand.ErrandNumber,
		MunicipalityID: errand.MunicipalityID,
		Namespace:      errand.Namespace,
		Direction:      direction,
		MessageType:    domain.MessageTypeExchange,
		Subject:        local.Topic,
		Body:           m.Content,
		Sent:           m.Created.Format(time.RFC3339),
		UserID:         m.CreatedBy.Value,
		Username:       m.CreatedBy.Value,
		Created:        s.now(),
	}
	if err := s.Repos.Messages.Save(ctx, msg); err != nil {
		return false, fmt.Errorf("failed to save message %s: %w", id, err)
	}

	for _, a := range m.Attachments {
		content, err := s.source.GetAttachment(ctx, local.MunicipalityID, local.Namespace, conversationID, m.ID, a.ID)
		if err != nil {
			s.Logger.Warn("Failed to fetch conversation attachment, message kept without it",
				zap.String("conversation_id", conversationID),
				zap.String("message_id", m.ID),
				zap.String("attachment_id", a.ID),
				zap.Error(err),
			)
			continue
		}
		if err := s.Repos.Attachments.Save(ctx, &domain.Attachment{
			ID:             a.ID + "@" + strconv.FormatInt(errand.ID, 10),
			MessageID:      id,
			ErrandNumber:   errand.ErrandNumber,
			MunicipalityID: errand.MunicipalityID,
			Namespace:      errand.Namespace,
			Name:           a.FileName,
			MimeType:       a.MimeType,
			Content:        content,
			Created:        s.now(),
		}); err != nil {
			return false, fmt.Errorf("failed to save attachment %s: %w", a.ID, err)
		}
	}
	return true, nil
}
