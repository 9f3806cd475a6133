package notification

import (
	"context"

	commonredis "casedata-engine/common/redis"
	"casedata-engine/internal/domain"

	"github.com/go-redis/redis/v8"
)

// EventNotificationCreated 通知写入后发布的事件类型
const EventNotificationCreated = "notification.created"

// Publisher 通知事件发布
type Publisher interface {
	Publish(ctx context.Context, n *domain.Notification) error
}

// NoopPublisher 不发布
type NoopPublisher struct{}

func (NoopPublisher) Publish(context.Context, *domain.Notification) error { return nil }

// StreamPublisher 发布到 Redis Stream
type StreamPublisher struct {
	client *redis.Client
	stream string
	maxLen int64
}

// NewStreamPublisher 创建 Redis Stream 发布者
func NewStreamPublisher(client *redis.Client, stream string, maxLen int64) *StreamPublisher {
	return &StreamPublisher{
		client: client,
		stream: stream,
		maxLen: maxLen,
	}
}

type notificationEvent struct {
	NotificationID string `json:"notification_id"`
	MunicipalityID string `json:"municipality_id"`
	Namespace      string `json:"namespace"`
	OwnerID        string `json:"owner_id,omitempty"`
	Type           string `json:"type"`
	SubType        string `json:"sub_type,omitempty"`
	Description    string `json:"description"`
	Acknowledged   bool   `json:"acknowledged"`
	ErrandID       int64  `json:"errand_id"`
	ErrandNumber   string `json:"errand_number,omitempty"`
}

func (p *StreamPublisher) Publish(ctx context.Context, n *domain.Notification) error {
	_, err := commonredis.PublishJSONToStream(ctx, p.client, p.stream, p.maxLen, EventNotificationCreated, notificationEvent{
		NotificationID: n.ID,
		MunicipalityID: n.MunicipalityID,
		Namespace:      n.Namespace,
		OwnerID:        n.OwnerID,
		Type:           n.Type,
		SubType:        n.SubType,
		Description:    n.Description,
		Acknowledged:   n.Acknowledged,
		ErrandID:       n.ErrandID,
		ErrandNumber:   n.ErrandNumber,
	})
	return err
}
