package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"casedata-engine/internal/domain"

	"github.com/lib/pq"
	"go.uber.org/zap"
)

// PostgresMessageRepository 消息仓库（PostgreSQL）
type PostgresMessageRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewPostgresMessageRepository 创建消息仓库
func NewPostgresMessageRepository(db *sql.DB, logger *zap.Logger) *PostgresMessageRepository {
	return &PostgresMessageRepository{db: db, logger: logger}
}

var _ MessageRepository = (*PostgresMessageRepository)(nil)

// ExistsByID 判断外部消息 ID 是否已导入
func (r *PostgresMessageRepository) ExistsByID(ctx context.Context, id string) (bool, error) {
	var exists bool
	err := conn(ctx, r.db).QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM message WHERE id = $1)`, id).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check message existence: %w", err)
	}
	return exists, nil
}

// Save 插入消息（ID 已存在时不覆盖）
func (r *PostgresMessageRepository) Save(ctx context.Context, m *domain.Message) error {
	headers, err := json.Marshal(m.Headers)
	if err != nil {
		return fmt.Errorf("failed to marshal headers: %w", err)
	}

	_, err = conn(ctx, r.db).ExecContext(ctx, `
		INSERT INTO message (
			id, errand_id, errand_number, municipality_id, namespace, direction, message_type,
			family_id, external_case_id, subject, body, sent,
			first_name, last_name, email, user_id, username,
			recipients, headers, viewed, created
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21)
		ON CONFLICT (id) DO NOTHING`,
		m.ID,
		m.ErrandID,
		m.ErrandNumber,
		m.MunicipalityID,
		m.Namespace,
		m.Direction,
		m.MessageType,
		nullString(m.FamilyID),
		nullString(m.ExternalCaseID),
		nullString(m.Subject),
		nullString(m.Body),
		m.Sent,
		nullString(m.FirstName),
		nullString(m.LastName),
		nullString(m.Email),
		nullString(m.UserID),
		nullString(m.Username),
		pq.Array(m.Recipients),
		headers,
		m.Viewed,
		m.Created,
	)
	if err != nil {
		return fmt.Errorf("failed to save message: %w", err)
	}
	return nil
}

// PostgresAttachmentRepository 附件仓库（PostgreSQL）
type PostgresAttachmentRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewPostgresAttachmentRepository 创建附件仓库
func NewPostgresAttachmentRepository(db *sql.DB, logger *zap.Logger) *PostgresAttachmentRepository {
	return &PostgresAttachmentRepository{db: db, logger: logger}
}

var _ AttachmentRepository = (*PostgresAttachmentRepository)(nil)

// Save 插入附件（消息须已存在，外键保证）
func (r *PostgresAttachmentRepository) Save(ctx context.Context, a *domain.Attachment) error {
	_, err := conn(ctx, r.db).ExecContext(ctx, `
		INSERT INTO message_attachment (
			id, message_id, errand_number, municipality_id, namespace, name, mime_type, content, created
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		a.ID,
		a.MessageID,
		a.ErrandNumber,
		a.MunicipalityID,
		a.Namespace,
		a.Name,
		a.MimeType,
		a.Content,
		a.Created,
	)
	if err != nil {
		return fmt.Errorf("failed to save attachment: %w", err)
	}
	return nil
}
