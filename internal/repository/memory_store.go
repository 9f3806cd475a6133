package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"casedata-engine/internal/domain"
)

// NewMemoryRepositories 组装全部内存仓库
func NewMemoryRepositories() *Repositories {
	return &Repositories{
		Errands:       NewMemoryErrandRepository(),
		Notifications: NewMemoryNotificationRepository(),
		Messages:      NewMemoryMessageRepository(),
		Attachments:   NewMemoryAttachmentRepository(),
		SyncStates:    NewMemoryConversationSyncStateRepository(),
		Conversations: NewMemoryConversationRepository(),
		Transactor:    NoopTransactor{},
	}
}

// --- Notifications ---

type MemoryNotificationRepository struct {
	mu            sync.RWMutex
	notifications map[string]domain.Notification
}

func NewMemoryNotificationRepository() *MemoryNotificationRepository {
	return &MemoryNotificationRepository{notifications: map[string]domain.Notification{}}
}

var _ NotificationRepository = (*MemoryNotificationRepository)(nil)

func (r *MemoryNotificationRepository) FindUnacknowledged(_ context.Context, municipalityID, namespace, ownerID string, errandID int64, notificationType string) (*domain.Notification, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	sorted := r.sortedLocked()
	for i := len(sorted) - 1; i >= 0; i-- {
		n := sorted[i]
		if n.MunicipalityID == municipalityID && n.Namespace == namespace && n.OwnerID == ownerID &&
			n.ErrandID == errandID && n.Type == notificationType && !n.Acknowledged {
			found := n
			return &found, nil
		}
	}
	return nil, &domain.NotFoundError{Entity: "notification", Key: ownerID}
}

func (r *MemoryNotificationRepository) Save(_ context.Context, n *domain.Notification) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notifications[n.ID] = *n
	return nil
}

func (r *MemoryNotificationRepository) DeleteExpired(_ context.Context, before time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var deleted int64
	for id, n := range r.notifications {
		if n.Expires.Before(before) {
			delete(r.notifications, id)
			deleted++
		}
	}
	return deleted, nil
}

// All 返回全部通知（按创建时间排序）
func (r *MemoryNotificationRepository) All() []domain.Notification {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sortedLocked()
}

func (r *MemoryNotificationRepository) sortedLocked() []domain.Notification {
	out := make([]domain.Notification, 0, len(r.notifications))
	for _, n := range r.notifications {
		out = append(out, n)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Created.Equal(out[j].Created) {
			return out[i].ID < out[j].ID
		}
		return out[i].Created.Before(out[j].Created)
	})
	return out
}

// --- Messages ---

type MemoryMessageRepository struct {
	mu       sync.RWMutex
	messages map[string]domain.Message
	order    []string
}

func NewMemoryMessageRepository() *MemoryMessageRepository {
	return &MemoryMessageRepository{messages: map[string]domain.Message{}}
}

var _ MessageRepository = (*MemoryMessageRepository)(nil)

func (r *MemoryMessageRepository) ExistsByID(_ context.Context, id string) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.messages[id]
	return ok, nil
}

func (r *MemoryMessageRepository) Save(_ context.Context, m *domain.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.messages[m.ID]; ok {
		return nil
	}
	r.messages[m.ID] = *m
	r.order = append(r.order, m.ID)
	return nil
}

// All 按写入顺序返回全部消息
func (r *MemoryMessageRepository) All() []domain.Message {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domain.Message, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.messages[id])
	}
	return out
}

// --- Attachments ---

type MemoryAttachmentRepository struct {
	mu          sync.RWMutex
	attachments []domain.Attachment
}

func NewMemoryAttachmentRepository() *MemoryAttachmentRepository {
	return &MemoryAttachmentRepository{}
}

var _ AttachmentRepository = (*MemoryAttachmentRepository)(nil)

func (r *MemoryAttachmentRepository) Save(_ context.Context, a *domain.Attachment) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.attachments = append(r.attachments, *a)
	return nil
}

// All 返回全部附件
func (r *MemoryAttachmentRepository) All() []domain.Attachment {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]domain.Attachment(nil), r.attachments...)
}

// --- Conversation sync state ---

type MemoryConversationSyncStateRepository struct {
	mu     sync.RWMutex
	states map[string]domain.ConversationSyncState
}

func NewMemoryConversationSyncStateRepository() *MemoryConversationSyncStateRepository {
	return &MemoryConversationSyncStateRepository{states: map[string]domain.ConversationSyncState{}}
}

var _ ConversationSyncStateRepository = (*MemoryConversationSyncStateRepository)(nil)

func syncStateKey(municipalityID, namespace string) string {
	return municipalityID + "/" + namespace
}

func (r *MemoryConversationSyncStateRepository) FindActive(_ context.Context) ([]domain.ConversationSyncState, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []domain.ConversationSyncState
	for _, s := range r.states {
		if s.Active {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return syncStateKey(out[i].MunicipalityID, out[i].Namespace) < syncStateKey(out[j].MunicipalityID, out[j].Namespace)
	})
	return out, nil
}

func (r *MemoryConversationSyncStateRepository) Save(_ context.Context, s *domain.ConversationSyncState) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := syncStateKey(s.MunicipalityID, s.Namespace)
	stored := *s
	if current, ok := r.states[key]; ok && current.LatestSyncedSequenceNumber > stored.LatestSyncedSequenceNumber {
		stored.LatestSyncedSequenceNumber = current.LatestSyncedSequenceNumber
	}
	r.states[key] = stored
	return nil
}

// Get 读取游标（测试用）
func (r *MemoryConversationSyncStateRepository) Get(municipalityID, namespace string) (domain.ConversationSyncState, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.states[syncStateKey(municipalityID, namespace)]
	return s, ok
}

// --- Conversations ---

type MemoryConversationRepository struct {
	mu            sync.RWMutex
	conversations map[string]domain.Conversation
}

func NewMemoryConversationRepository() *MemoryConversationRepository {
	return &MemoryConversationRepository{conversations: map[string]domain.Conversation{}}
}

var _ ConversationRepository = (*MemoryConversationRepository)(nil)

func (r *MemoryConversationRepository) FindByMessageExchangeID(_ context.Context, municipalityID, namespace, messageExchangeID string) ([]*domain.Conversation, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*domain.Conversation
	for _, c := range r.sortedLocked() {
		if c.MunicipalityID == municipalityID && c.Namespace == namespace && c.MessageExchangeID == messageExchangeID {
			cp := c
			cp.RelationIDs = append([]string(nil), c.RelationIDs...)
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (r *MemoryConversationRepository) Save(_ context.Context, c *domain.Conversation) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored := *c
	stored.RelationIDs = append([]string(nil), c.RelationIDs...)
	r.conversations[c.ID] = stored
	return nil
}

// All 返回全部会话
func (r *MemoryConversationRepository) All() []domain.Conversation {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sortedLocked()
}

func (r *MemoryConversationRepository) sortedLocked() []domain.Conversation {
	out := make([]domain.Conversation, 0, len(r.conversations))
	for _, c := range r.conversations {
		out = append(out, c)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Created.Equal(out[j].Created) {
			return out[i].ID < out[j].ID
		}
		return out[i].Created.Before(out[j].Created)
	})
	return out
}
