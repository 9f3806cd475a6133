package worker

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"time"

	"casedata-engine/internal/config"
	"casedata-engine/internal/domain"
	"casedata-engine/internal/integration"

	"go.uber.org/zap"
)

// errandNumberPattern 邮件主题中的案件编号
var errandNumberPattern = regexp.MustCompile(`[A-Z]+-\d{4}-\d{6}`)

// EmailSource 邮箱数据源（integration.EmailReaderClient 实现）
type EmailSource interface {
	ListMessages(ctx context.Context, municipalityID, namespace string) ([]integration.Email, error)
	DeleteMessage(ctx context.Context, municipalityID, id string) error
}

// MailboxWorker 从邮箱导入邮件到案件
type MailboxWorker struct {
	Deps
	source          EmailSource
	partitions      []config.MailboxPartition
	deleteUnmatched bool
}

// NewMailboxWorker 创建邮箱导入任务
func NewMailboxWorker(deps Deps, source EmailSource, partitions []config.MailboxPartition, deleteUnmatched bool) *MailboxWorker {
	return &MailboxWorker{
		Deps:            deps,
		source:          source,
		partitions:      partitions,
		deleteUnmatched: deleteUnmatched,
	}
}

// Name 任务名
func (w *MailboxWorker) Name() string { return config.JobMailboxIngestion }

// Run 处理所有分区；单个分区拉取失败不影响其他分区
func (w *MailboxWorker) Run(ctx context.Context) error {
	var failed int
	for _, p := range w.partitions {
		if err := w.runPartition(ctx, p); err != nil {
			failed++
			w.Logger.Error("Failed to process mailbox partition",
				zap.String("job", w.Name()),
				zap.String("municipality_id", p.MunicipalityID),
				zap.String("namespace", p.Namespace),
				zap.Error(err),
			)
		}
	}
	if failed > 0 && failed == len(w.partitions) {
		return fmt.Errorf("all %d mailbox partitions failed", failed)
	}
	return nil
}

func (w *MailboxWorker) runPartition(ctx context.Context, p config.MailboxPartition) error {
	emails, err := w.source.ListMessages(ctx, p.MunicipalityID, p.Namespace)
	if err != nil {
		return fmt.Errorf("failed to list emails: %w", err)
	}

	var stats batchStats
	for _, email := range emails {
		log := w.Logger.With(
			zap.String("job", w.Name()),
			zap.String("municipality_id", p.MunicipalityID),
			zap.String("namespace", p.Namespace),
			zap.String("message_id", email.ID),
		)

		remove, err := w.processEmail(ctx, p, email, &stats)
		if err != nil {
			// 继续处理下一封邮件，不中断，也不删除
			stats.failed++
			log.Error("Failed to import email", zap.Error(err))
			continue
		}
		if !remove {
			continue
		}

		// 本地事务提交后才删除远端邮件（尽力而为）
		if err := w.source.DeleteMessage(ctx, p.MunicipalityID, email.ID); err != nil {
			log.Warn("Failed to delete email from mailbox", zap.Error(err))
		}
	}

	if len(emails) > 0 {
		w.Logger.Info("Mailbox batch processed",
			append([]zap.Field{
				zap.String("municipality_id", p.MunicipalityID),
				zap.String("namespace", p.Namespace),
				zap.Int("fetched", len(emails)),
			}, stats.fields()...)...,
		)
	}
	return nil
}

// processEmail 返回是否应从邮箱删除该邮件
func (w *MailboxWorker) processEmail(ctx context.Context, p config.MailboxPartition, email integration.Email, stats *batchStats) (bool, error) {
	errand, err := w.findErrand(ctx, p, email.Subject)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			stats.unmatched++
			w.Logger.Debug("No errand matches email subject",
				zap.String("message_id", email.ID),
				zap.String("subject", email.Subject),
				zap.Bool("delete", w.deleteUnmatched),
			)
			return w.deleteUnmatched, nil
		}
		return false, err
	}

	imported, err := w.importMessage(ctx, w.Name(), errand, w.toInbound(email))
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

// findErrand 按主题中的案件编号查找案件，只接受与分区同一 municipality 和 namespace 的案件
func (w *MailboxWorker) findErrand(ctx context.Context, p config.MailboxPartition, subject string) (*domain.Errand, error) {
	number := errandNumberPattern.FindString(subject)
	if number == "" {
		return nil, &domain.NotFoundError{Entity: "errand", Key: subject}
	}
	errand, err := w.Repos.Errands.FindByErrandNumber(ctx, number)
	if err != nil {
		return nil, err
	}
	if errand.MunicipalityID != p.MunicipalityID || errand.Namespace != p.Namespace {
		return nil, &domain.NotFoundError{Entity: "errand", Key: number}
	}
	return errand, nil
}

func (w *MailboxWorker) toInbound(email integration.Email) inbound {
	msg := &domain.Message{
		ID:          email.ID,
		Direction:   domain.DirectionInbound,
		MessageType: domain.MessageTypeEmail,
		Subject:     email.Subject,
		Body:        email.Message,
		Sent:        email.ReceivedAt.Format(time.RFC3339),
		Email:       email.Sender,
		Recipients:  email.Recipients,
		Headers:     toHeaders(email.Headers),
	}

	attachments := make([]inboundAttachment, 0, len(email.Attachments))
	for _, a := range email.Attachments {
		a := a
		attachments = append(attachments, inboundAttachment{
			name:     a.Name,
			mimeType: a.ContentType,
			fetch: func(context.Context) ([]byte, error) {
				return base64.StdEncoding.DecodeString(a.Content)
			},
		})
	}
	return inbound{message: msg, attachments: attachments}
}

// toHeaders 按名称排序，保证存储顺序稳定
func toHeaders(headers map[string][]string) []domain.MessageHeader {
	if len(headers) == 0 {
		return nil
	}
	names := make([]string, 0, len(headers))
	for name := range headers {
		names = append(names, name)
	}
	sort.Strings(names)

	out := make([]domain.MessageHeader, 0, len(names))
	for _, name := range names {
		out = append(out, domain.MessageHeader{Name: name, Values: append([]string(nil), headers[name]...)})
	}
	return out
}
