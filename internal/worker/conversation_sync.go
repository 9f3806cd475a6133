package worker

import (
	"context"
	"errors"
	"fmt"

	"casedata-engine/internal/config"
	"casedata-engine/internal/domain"
	"casedata-engine/internal/integration"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ConversationSource 消息交换服务（integration.MessageExchangeClient 实现）
type ConversationSource interface {
	ListConversations(ctx context.Context, municipalityID, namespace string, afterSequence int64, page, size int) (*integration.ConversationPage, error)
	GetMessages(ctx context.Context, municipalityID, namespace, conversationID string, page, size int) (*integration.MessagePage, error)
	GetAttachment(ctx context.Context, municipalityID, namespace, conversationID, messageID, attachmentID string) ([]byte, error)
}

// RelationLookup 关系服务（integration.RelationClient 实现）
type RelationLookup interface {
	GetRelation(ctx context.Context, municipalityID, relationID string) (*integration.Relation, error)
}

// ConversationSyncWorker 按游标分页拉取外部会话，建立与案件的关联并同步会话消息
type ConversationSyncWorker struct {
	Deps
	source       ConversationSource
	relations    RelationLookup
	synchronizer *ConversationSynchronizer
	pageSize     int
}

// NewConversationSyncWorker 创建会话同步任务
func NewConversationSyncWorker(deps Deps, source ConversationSource, relations RelationLookup, pageSize int) *ConversationSyncWorker {
	if pageSize <= 0 {
		pageSize = 100
	}
	return &ConversationSyncWorker{
		Deps:         deps,
		source:       source,
		relations:    relations,
		synchronizer: NewConversationSynchronizer(deps, source, pageSize),
		pageSize:     pageSize,
	}
}

// Name 任务名
func (w *ConversationSyncWorker) Name() string { return config.JobConversationSync }

// Run 处理全部 active 的同步游标
func (w *ConversationSyncWorker) Run(ctx context.Context) error {
	states, err := w.Repos.SyncStates.FindActive(ctx)
	if err != nil {
		return fmt.Errorf("failed to load conversation sync states: %w", err)
	}

	for i := range states {
		state := states[i]
		if err := w.syncState(ctx, &state); err != nil {
			w.Logger.Error("Failed to sync conversations",
				zap.String("job", w.Name()),
				zap.String("municipality_id", state.MunicipalityID),
				zap.String("namespace", state.Namespace),
				zap.Int64("cursor", state.LatestSyncedSequenceNumber),
				zap.Error(err),
			)
		}
	}
	return nil
}

// syncState 分页处理一个 municipality + namespace。
// 每页处理完后在独立事务中推进游标（无论该页会话是否全部成功），游标只前进不后退。
func (w *ConversationSyncWorker) syncState(ctx context.Context, state *domain.ConversationSyncState) error {
	after := state.LatestSyncedSequenceNumber

	for page := 0; ; page++ {
		result, err := w.source.ListConversations(ctx, state.MunicipalityID, state.Namespace, after, page, w.pageSize)
		if err != nil {
			return fmt.Errorf("failed to list conversations (page %d): %w", page, err)
		}

		highest := state.LatestSyncedSequenceNumber
		for _, conv := range result.Content {
			if err := w.processConversation(ctx, state, conv); err != nil {
				w.Logger.Error("Failed to process conversation",
					zap.String("job", w.Name()),
					zap.String("municipality_id", state.MunicipalityID),
					zap.String("namespace", state.Namespace),
					zap.String("conversation_id", conv.ID),
					zap.Error(err),
				)
			}
			if conv.LatestSequenceNumber > highest {
				highest = conv.LatestSequenceNumber
			}
		}

		if highest > state.LatestSyncedSequenceNumber {
			if err := w.advanceCursor(ctx, state, highest); err != nil {
				return err
			}
		}

		if result.Last || len(result.Content) == 0 || page+1 >= result.TotalPages {
			return nil
		}
	}
}

func (w *ConversationSyncWorker) advanceCursor(ctx context.Context, state *domain.ConversationSyncState, sequence int64) error {
	next := *state
	next.LatestSyncedSequenceNumber = sequence
	next.Updated = w.now()

	err := w.Repos.Transactor.WithinTx(ctx, func(ctx context.Context) error {
		return w.Repos.SyncStates.Save(ctx, &next)
	})
	if err != nil {
		return fmt.Errorf("failed to save sync cursor %d: %w", sequence, err)
	}

	w.Logger.Debug("Conversation sync cursor advanced",
		zap.String("municipality_id", state.MunicipalityID),
		zap.String("namespace", state.Namespace),
		zap.Int64("from", state.LatestSyncedSequenceNumber),
		zap.Int64("to", sequence),
	)
	*state = next
	return nil
}

// processConversation 解析未处理过的 relation，为匹配到的案件建立本地会话，再同步所有关联会话
func (w *ConversationSyncWorker) processConversation(ctx context.Context, state *domain.ConversationSyncState, conv integration.ExchangeConversation) error {
	existing, err := w.Repos.Conversations.FindByMessageExchangeID(ctx, state.MunicipalityID, state.Namespace, conv.ID)
	if err != nil {
		return fmt.Errorf("failed to load local conversations: %w", err)
	}

	// 1. 新 relation -> 案件 -> 本地会话
	for _, relationID := range conv.ReferenceValues(relationReferenceKey) {
		if consumed(existing, relationID) {
			continue
		}

		errand, err := w.resolveRelation(ctx, state.MunicipalityID, relationID)
		if err != nil {
			w.Logger.Warn("Failed to resolve conversation relation",
				zap.String("conversation_id", conv.ID),
				zap.String("relation_id", relationID),
				zap.Error(err),
			)
			continue
		}
		if errand == nil {
			continue
		}

		local := findForErrand(existing, errand.ID)
		if local == nil {
			local = &domain.Conversation{
				ID:                uuid.New().String(),
				MessageExchangeID: conv.ID,
				ErrandID:          errand.ID,
				ErrandNumber:      errand.ErrandNumber,
				MunicipalityID:    state.MunicipalityID,
				Namespace:         state.Namespace,
				Created:           w.now(),
			}
			existing = append(existing, local)
		}
		local.RelationIDs = append(local.RelationIDs, relationID)
		local.Updated = w.now()

		if err := w.Repos.Conversations.Save(ctx, local); err != nil {
			return fmt.Errorf("failed to save conversation for relation %s: %w", relationID, err)
		}
	}

	// 2. 同步每个本地会话（单个失败不影响其他）
	for _, local := range existing {
		if err := w.synchronizer.Sync(ctx, local, conv); err != nil {
			w.Logger.Error("Failed to synchronize conversation",
				zap.String("conversation_id", conv.ID),
				zap.String("local_conversation_id", local.ID),
				zap.String("errand_number", local.ErrandNumber),
				zap.Error(err),
			)
		}
	}
	return nil
}

// resolveRelation 返回 relation 任一端对应的本地案件；都不匹配时返回 nil, nil
func (w *ConversationSyncWorker) resolveRelation(ctx context.Context, municipalityID, relationID string) (*domain.Errand, error) {
	relation, err := w.relations.GetRelation(ctx, municipalityID, relationID)
	if err != nil {
		return nil, err
	}
	if relation == nil {
		return nil, nil
	}

	for _, candidate := range []string{relation.Source.ResourceID, relation.Target.ResourceID} {
		if candidate == "" {
			continue
		}
		errand, err := w.Repos.Errands.FindByErrandNumber(ctx, candidate)
		if err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				continue
			}
			return nil, err
		}
		if errand.MunicipalityID == municipalityID {
			return errand, nil
		}
	}
	return nil, nil
}

func consumed(conversations []*domain.Conversation, relationID string) bool {
	for _, c := range conversations {
		if c.HasRelation(relationID) {
			return true
		}
	}
	return false
}

func findForErrand(conversations []*domain.Conversation, errandID int64) *domain.Conversation {
	for _, c := range conversations {
		if c.ErrandID == errandID {
			return c
		}
	}
	return nil
}
