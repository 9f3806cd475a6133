package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"casedata-engine/internal/domain"

	"go.uber.org/zap"
)

// PostgresNotificationRepository 通知仓库（PostgreSQL）
type PostgresNotificationRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewPostgresNotificationRepository 创建通知仓库
func NewPostgresNotificationRepository(db *sql.DB, logger *zap.Logger) *PostgresNotificationRepository {
	return &PostgresNotificationRepository{db: db, logger: logger}
}

var _ NotificationRepository = (*PostgresNotificationRepository)(nil)

// FindUnacknowledged 查找未确认的同类通知（用于去重）
func (r *PostgresNotificationRepository) FindUnacknowledged(
	ctx context.Context,
	municipalityID, namespace, ownerID string,
	errandID int64,
	notificationType string,
) (*domain.Notification, error) {
	var n domain.Notification
	var ownerFullName, subType, content, errandNumber sql.NullString

	err := conn(ctx, r.db).QueryRowContext(ctx, `
		SELECT
			id, municipality_id, namespace, owner_id, owner_full_name,
			created_by, created_by_full_name, type, sub_type, description, content,
			acknowledged, expires, created, modified, errand_id, errand_number
		FROM notification
		WHERE municipality_id = $1
		  AND namespace = $2
		  AND owner_id = $3
		  AND errand_id = $4
		  AND type = $5
		  AND acknowledged = FALSE
		ORDER BY created DESC
		LIMIT 1`,
		municipalityID, namespace, ownerID, errandID, notificationType,
	).Scan(
		&n.ID,
		&n.MunicipalityID,
		&n.Namespace,
		&n.OwnerID,
		&ownerFullName,
		&n.CreatedBy,
		&n.CreatedByFullName,
		&n.Type,
		&subType,
		&n.Description,
		&content,
		&n.Acknowledged,
		&n.Expires,
		&n.Created,
		&n.Modified,
		&n.ErrandID,
		&errandNumber,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, &domain.NotFoundError{Entity: "notification", Key: ownerID}
		}
		return nil, fmt.Errorf("failed to get notification: %w", err)
	}

	n.OwnerFullName = ownerFullName.String
	n.SubType = subType.String
	n.Content = content.String
	n.ErrandNumber = errandNumber.String
	return &n, nil
}

// Save 插入或更新通知
func (r *PostgresNotificationRepository) Save(ctx context.Context, n *domain.Notification) error {
	_, err := conn(ctx, r.db).ExecContext(ctx, `
		INSERT INTO notification (
			id, municipality_id, namespace, owner_id, owner_full_name,
			created_by, created_by_full_name, type, sub_type, description, content,
			acknowledged, expires, created, modified, errand_id, errand_number
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
		ON CONFLICT (id) DO UPDATE SET
			owner_full_name = EXCLUDED.owner_full_name,
			created_by = EXCLUDED.created_by,
			created_by_full_name = EXCLUDED.created_by_full_name,
			sub_type = EXCLUDED.sub_type,
			description = EXCLUDED.description,
			content = EXCLUDED.content,
			acknowledged = EXCLUDED.acknowledged,
			expires = EXCLUDED.expires,
			modified = EXCLUDED.modified`,
		n.ID,
		n.MunicipalityID,
		n.Namespace,
		nullString(n.OwnerID),
		nullString(n.OwnerFullName),
		n.CreatedBy,
		n.CreatedByFullName,
		n.Type,
		nullString(n.SubType),
		n.Description,
		nullString(n.Content),
		n.Acknowledged,
		n.Expires,
		n.Created,
		n.Modified,
		n.ErrandID,
		nullString(n.ErrandNumber),
	)
	if err != nil {
		return fmt.Errorf("failed to save notification: %w", err)
	}
	return nil
}

// DeleteExpired 删除已过期的通知
func (r *PostgresNotificationRepository) DeleteExpired(ctx context.Context, before time.Time) (int64, error) {
	result, err := conn(ctx, r.db).ExecContext(ctx, `DELETE FROM notification WHERE expires < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired notifications: %w", err)
	}
	return result.RowsAffected()
}
