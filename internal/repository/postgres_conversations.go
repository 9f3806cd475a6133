package repository

import (
	"context"
	"database/sql"
	"fmt"

	"casedata-engine/internal/domain"

	"github.com/lib/pq"
	"go.uber.org/zap"
)

// PostgresConversationSyncStateRepository 会话同步游标仓库（PostgreSQL）
type PostgresConversationSyncStateRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewPostgresConversationSyncStateRepository 创建游标仓库
func NewPostgresConversationSyncStateRepository(db *sql.DB, logger *zap.Logger) *PostgresConversationSyncStateRepository {
	return &PostgresConversationSyncStateRepository{db: db, logger: logger}
}

var _ ConversationSyncStateRepository = (*PostgresConversationSyncStateRepository)(nil)

// FindActive 查询启用的同步游标
func (r *PostgresConversationSyncStateRepository) FindActive(ctx context.Context) ([]domain.ConversationSyncState, error) {
	rows, err := conn(ctx, r.db).QueryContext(ctx, `
		SELECT municipality_id, namespace, active, latest_synced_sequence_number, updated
		FROM conversation_sync_state
		WHERE active = TRUE
		ORDER BY municipality_id, namespace`)
	if err != nil {
		return nil, fmt.Errorf("failed to query sync states: %w", err)
	}
	defer rows.Close()

	var states []domain.ConversationSyncState
	for rows.Next() {
		var s domain.ConversationSyncState
		var updated sql.NullTime
		if err := rows.Scan(&s.MunicipalityID, &s.Namespace, &s.Active, &s.LatestSyncedSequenceNumber, &updated); err != nil {
			return nil, fmt.Errorf("failed to scan sync state: %w", err)
		}
		s.Updated = updated.Time
		states = append(states, s)
	}
	return states, rows.Err()
}

// Save 保存游标；游标只前进（GREATEST）
func (r *PostgresConversationSyncStateRepository) Save(ctx context.Context, s *domain.ConversationSyncState) error {
	_, err := conn(ctx, r.db).ExecContext(ctx, `
		INSERT INTO conversation_sync_state (municipality_id, namespace, active, latest_synced_sequence_number, updated)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (municipality_id, namespace) DO UPDATE SET
			active = EXCLUDED.active,
			latest_synced_sequence_number = GREATEST(
				conversation_sync_state.latest_synced_sequence_number,
				EXCLUDED.latest_synced_sequence_number
			),
			updated = EXCLUDED.updated`,
		s.MunicipalityID, s.Namespace, s.Active, s.LatestSyncedSequenceNumber, s.Updated,
	)
	if err != nil {
		return fmt.Errorf("failed to save sync state: %w", err)
	}
	return nil
}

// PostgresConversationRepository 会话仓库（PostgreSQL）
type PostgresConversationRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewPostgresConversationRepository 创建会话仓库
func NewPostgresConversationRepository(db *sql.DB, logger *zap.Logger) *PostgresConversationRepository {
	return &PostgresConversationRepository{db: db, logger: logger}
}

var _ ConversationRepository = (*PostgresConversationRepository)(nil)

// FindByMessageExchangeID 查询同一外部会话的本地会话（每个关联案件一条）
func (r *PostgresConversationRepository) FindByMessageExchangeID(ctx context.Context, municipalityID, namespace, messageExchangeID string) ([]*domain.Conversation, error) {
	rows, err := conn(ctx, r.db).QueryContext(ctx, `
		SELECT id, message_exchange_id, errand_id, errand_number, municipality_id, namespace,
		       topic, type, relation_ids, latest_synced_sequence_number, created, updated
		FROM conversation
		WHERE municipality_id = $1 AND namespace = $2 AND message_exchange_id = $3
		ORDER BY created`,
		municipalityID, namespace, messageExchangeID)
	if err != nil {
		return nil, fmt.Errorf("failed to query conversations: %w", err)
	}
	defer rows.Close()

	var out []*domain.Conversation
	for rows.Next() {
		var c domain.Conversation
		var topic, convType sql.NullString
		if err := rows.Scan(
			&c.ID,
			&c.MessageExchangeID,
			&c.ErrandID,
			&c.ErrandNumber,
			&c.MunicipalityID,
			&c.Namespace,
			&topic,
			&convType,
			pq.Array(&c.RelationIDs),
			&c.LatestSyncedSequenceNumber,
			&c.Created,
			&c.Updated,
		); err != nil {
			return nil, fmt.Errorf("failed to scan conversation: %w", err)
		}
		c.Topic = topic.String
		c.Type = convType.String
		out = append(out, &c)
	}
	return out, rows.Err()
}

// Save 插入或更新会话
func (r *PostgresConversationRepository) Save(ctx context.Context, c *domain.Conversation) error {
	_, err := conn(ctx, r.db).ExecContext(ctx, `
		INSERT INTO conversation (
			id, message_exchange_id, errand_id, errand_number, municipality_id, namespace,
			topic, type, relation_ids, latest_synced_sequence_number, created, updated
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (id) DO UPDATE SET
			topic = EXCLUDED.topic,
			type = EXCLUDED.type,
			relation_ids = EXCLUDED.relation_ids,
			latest_synced_sequence_number = EXCLUDED.latest_synced_sequence_number,
			updated = EXCLUDED.updated`,
		c.ID,
		c.MessageExchangeID,
		c.ErrandID,
		c.ErrandNumber,
		c.MunicipalityID,
		c.Namespace,
		nullString(c.Topic),
		nullString(c.Type),
		pq.Array(c.RelationIDs),
		c.LatestSyncedSequenceNumber,
		c.Created,
		c.Updated,
	)
	if err != nil {
		return fmt.Errorf("failed to save conversation: %w", err)
	}
	return nil
}
