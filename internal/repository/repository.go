package repository

import (
	"context"
	"database/sql"
	"time"

	"casedata-engine/internal/domain"

	"go.uber.org/zap"
)

// 每个聚合一个窄接口，Postgres 与内存实现可互换（内存实现用于测试和 DB_ENABLED=false）

// ErrandRepository 案件仓库
type ErrandRepository interface {
	FindByID(ctx context.Context, id int64) (*domain.Errand, error)
	FindByErrandNumber(ctx context.Context, errandNumber string) (*domain.Errand, error)
	FindByExternalCaseID(ctx context.Context, municipalityID, externalCaseID string) (*domain.Errand, error)
	// ListErrandNumbersByPrefix 返回以 prefix 开头的全部案件编号
	ListErrandNumbersByPrefix(ctx context.Context, prefix string) ([]string, error)
	// FindSuspendedBefore 返回 suspended_to 早于 t 的案件
	FindSuspendedBefore(ctx context.Context, t time.Time) ([]*domain.Errand, error)
	// Create 首次保存；案件编号冲突返回 *domain.ConflictError
	Create(ctx context.Context, errand *domain.Errand) error
	// Save 带版本检查的更新；版本不匹配返回 *domain.ConflictError，成功后 errand.Version 递增
	Save(ctx context.Context, errand *domain.Errand) error
}

// NotificationRepository 通知仓库
type NotificationRepository interface {
	// FindUnacknowledged 查找同一接收人、案件、类型且未确认的通知，不存在返回 ErrNotFound
	FindUnacknowledged(ctx context.Context, municipalityID, namespace, ownerID string, errandID int64, notificationType string) (*domain.Notification, error)
	Save(ctx context.Context, notification *domain.Notification) error
	DeleteExpired(ctx context.Context, before time.Time) (int64, error)
}

// MessageRepository 消息仓库
type MessageRepository interface {
	ExistsByID(ctx context.Context, id string) (bool, error)
	Save(ctx context.Context, message *domain.Message) error
}

// AttachmentRepository 附件仓库
type AttachmentRepository interface {
	Save(ctx context.Context, attachment *domain.Attachment) error
}

// ConversationSyncStateRepository 会话同步游标仓库
type ConversationSyncStateRepository interface {
	FindActive(ctx context.Context) ([]domain.ConversationSyncState, error)
	Save(ctx context.Context, state *domain.ConversationSyncState) error
}

// ConversationRepository 会话仓库
type ConversationRepository interface {
	FindByMessageExchangeID(ctx context.Context, municipalityID, namespace, messageExchangeID string) ([]*domain.Conversation, error)
	Save(ctx context.Context, conversation *domain.Conversation) error
}

// Transactor 事务边界。fn 内的仓库调用共享同一事务；已在事务中时直接复用
type Transactor interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// Repositories 仓库集合（由 service 层组装）
type Repositories struct {
	Errands       ErrandRepository
	Notifications NotificationRepository
	Messages      MessageRepository
	Attachments   AttachmentRepository
	SyncStates    ConversationSyncStateRepository
	Conversations ConversationRepository
	Transactor    Transactor
}

// NewPostgresRepositories 组装全部 Postgres 仓库
func NewPostgresRepositories(db *sql.DB, logger *zap.Logger) *Repositories {
	return &Repositories{
		Errands:       NewPostgresErrandRepository(db, logger),
		Notifications: NewPostgresNotificationRepository(db, logger),
		Messages:      NewPostgresMessageRepository(db, logger),
		Attachments:   NewPostgresAttachmentRepository(db, logger),
		SyncStates:    NewPostgresConversationSyncStateRepository(db, logger),
		Conversations: NewPostgresConversationRepository(db, logger),
		Transactor:    NewTxManager(db),
	}
}
