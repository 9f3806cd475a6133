package worker

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"casedata-engine/internal/config"
	"casedata-engine/internal/domain"
	"casedata-engine/internal/integration"

	"go.uber.org/zap"
)

// WebMessageSource Web 消息数据源（integration.WebMessageCollectorClient 实现）
type WebMessageSource interface {
	ListMessages(ctx context.Context, municipalityID, familyID, instance string) ([]integration.WebMessage, error)
	GetAttachment(ctx context.Context, municipalityID string, attachmentID int) ([]byte, error)
	DeleteMessages(ctx context.Context, municipalityID string, ids []int) error
}

// WebMessageWorker 从 Web 消息收集服务导入消息到案件
type WebMessageWorker struct {
	Deps
	source          WebMessageSource
	partitions      []config.WebMessagePartition
	deleteUnmatched bool
}

// NewWebMessageWorker 创建 Web 消息导入任务
func NewWebMessageWorker(deps Deps, source WebMessageSource, partitions []config.WebMessagePartition, deleteUnmatched bool) *WebMessageWorker {
	return &WebMessageWorker{
		Deps:            deps,
		source:          source,
		partitions:      partitions,
		deleteUnmatched: deleteUnmatched,
	}
}

// Name 任务名
func (w *WebMessageWorker) Name() string { return config.JobWebMessageIngestion }

// Run 按分区和 family 依次处理
func (w *WebMessageWorker) Run(ctx context.Context) error {
	var total, failed int
	for _, p := range w.partitions {
		for _, familyID := range p.FamilyIDs {
			total++
			if err := w.runFamily(ctx, p, familyID); err != nil {
				failed++
				w.Logger.Error("Failed to process web message family",
					zap.String("job", w.Name()),
					zap.String("municipality_id", p.MunicipalityID),
					zap.String("family_id", familyID),
					zap.String("instance", p.Instance),
					zap.Error(err),
				)
			}
		}
	}
	if failed > 0 && failed == total {
		return fmt.Errorf("all %d web message families failed", failed)
	}
	return nil
}

func (w *WebMessageWorker) runFamily(ctx context.Context, p config.WebMessagePartition, familyID string) error {
	messages, err := w.source.ListMessages(ctx, p.MunicipalityID, familyID, p.Instance)
	if err != nil {
		return fmt.Errorf("failed to list web messages: %w", err)
	}

	var stats batchStats
	var processed []int
	for _, m := range messages {
		remove, err := w.processMessage(ctx, p.MunicipalityID, m, &stats)
		if err != nil {
			// 失败的消息不删除，下次重试
			stats.failed++
			w.Logger.Error("Failed to import web message",
				zap.String("job", w.Name()),
				zap.String("municipality_id", p.MunicipalityID),
				zap.String("family_id", familyID),
				zap.String("message_id", webMessageID(m)),
				zap.String("external_case_id", m.ExternalCaseID),
				zap.Error(err),
			)
			continue
		}
		if remove {
			processed = append(processed, m.ID)
		}
	}

	// 本地事务均已提交，批量删除（尽力而为）
	if err := w.source.DeleteMessages(ctx, p.MunicipalityID, processed); err != nil {
		w.Logger.Warn("Failed to delete web messages from collector",
			zap.String("municipality_id", p.MunicipalityID),
			zap.String("family_id", familyID),
			zap.Ints("ids", processed),
			zap.Error(err),
		)
	}

	if len(messages) > 0 {
		w.Logger.Info("Web message batch processed",
			append([]zap.Field{
				zap.String("municipality_id", p.MunicipalityID),
				zap.String("family_id", familyID),
				zap.Int("fetched", len(messages)),
			}, stats.fields()...)...,
		)
	}
	return nil
}

// processMessage 返回是否应从收集服务删除该消息
func (w *WebMessageWorker) processMessage(ctx context.Context, municipalityID string, m integration.WebMessage, stats *batchStats) (bool, error) {
	errand, err := w.Repos.Errands.FindByExternalCaseID(ctx, municipalityID, m.ExternalCaseID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			stats.unmatched++
			w.Logger.Debug("No errand matches web message",
				zap.String("message_id", webMessageID(m)),
				zap.String("external_case_id", m.ExternalCaseID),
				zap.Bool("delete", w.deleteUnmatched),
			)
			return w.deleteUnmatched, nil
		}
		return false, err
	}

	imported, err := w.importMessage(ctx, w.Name(), errand, w.toInbound(municipalityID, m))
	if err != nil {
		return false, err
	}
	if imported {
		stats.imported++
	} else {
		stats.duplicates++
	}
	return true, nil
}

func (w *WebMessageWorker) toInbound(municipalityID string, m integration.WebMessage) inbound {
	direction := strings.ToUpper(strings.TrimSpace(m.Direction))
	if direction == "" {
		direction = domain.DirectionInbound
	}

	msg := &domain.Message{
		ID:             webMessageID(m),
		Direction:      direction,
		MessageType:    domain.MessageTypeWebMessage,
		FamilyID:       m.FamilyID,
		ExternalCaseID: m.ExternalCaseID,
		Body:           m.Message,
		Sent:           m.Sent,
		FirstName:      m.FirstName,
		LastName:       m.LastName,
		Email:          m.Email,
		UserID:         m.UserID,
		Username:       m.Username,
	}

	attachments := make([]inboundAttachment, 0, len(m.Attachments))
	for _, a := range m.Attachments {
		a := a
		attachments = append(attachments, inboundAttachment{
			name:     attachmentName(a),
			mimeType: a.MimeType,
			fetch: func(ctx context.Context) ([]byte, error) {
				return w.source.GetAttachment(ctx, municipalityID, a.AttachmentID)
			},
		})
	}
	return inbound{message: msg, attachments: attachments}
}

// webMessageID 去重键：优先使用来源的 messageId
func webMessageID(m integration.WebMessage) string {
	if id := strings.TrimSpace(m.MessageID); id != "" {
		return id
	}
	return "webmessage-" + strconv.Itoa(m.ID)
}

func attachmentName(a integration.WebMessageAttachment) string {
	if a.Extension == "" || strings.HasSuffix(a.Name, "."+a.Extension) {
		return a.Name
	}
	return a.Name + "." + a.Extension
}
