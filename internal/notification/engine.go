package notification

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"casedata-engine/internal/audit"
	"casedata-engine/internal/domain"
	"casedata-engine/internal/repository"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// 策略名称
const (
	StrategyOwner    = "owner"
	StrategyReporter = "reporter"
)

// ErrUnknownStrategy 未注册的通知策略
var ErrUnknownStrategy = errors.New("unknown notification strategy")

// EmployeeDirectory 员工通讯录（用于解析显示名称）
type EmployeeDirectory interface {
	GetEmployeeByLoginName(ctx context.Context, municipalityID, loginName string) (*domain.Employee, error)
}

// Strategy 通知创建策略。返回空字符串表示未创建通知
type Strategy interface {
	Name() string
	Process(ctx context.Context, identity domain.Identity, municipalityID, namespace string, draft domain.NotificationDraft, errand *domain.Errand) (string, error)
}

// Deps 通知引擎依赖
type Deps struct {
	Notifications repository.NotificationRepository
	Hook          *audit.Hook
	Directory     EmployeeDirectory
	Publisher     Publisher
	Expiry        time.Duration // 0 表示默认 30 天
}

// Engine 按策略分发通知创建
type Engine struct {
	strategies map[string]Strategy
	logger     *zap.Logger
}

// NewEngine 创建通知引擎，注册 owner 和 reporter 策略
func NewEngine(deps Deps, logger *zap.Logger) *Engine {
	c := newCreator(deps, logger)
	owner := &OwnerStrategy{creator: c}

	e := &Engine{
		strategies: map[string]Strategy{},
		logger:     logger,
	}
	e.Register(owner)
	e.Register(&ReporterStrategy{owner: owner})
	return e
}

// Register 注册策略（同名覆盖）
func (e *Engine) Register(s Strategy) {
	e.strategies[s.Name()] = s
}

// Process 使用指定策略处理通知草稿
func (e *Engine) Process(
	ctx context.Context,
	identity domain.Identity,
	strategy string,
	municipalityID, namespace string,
	draft domain.NotificationDraft,
	errand *domain.Errand,
) (string, error) {
	s, ok := e.strategies[strategy]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownStrategy, strategy)
	}
	return s.Process(ctx, identity, municipalityID, namespace, draft, errand)
}

// creator 两种策略共享的创建逻辑：身份解析、去重、过期时间、父案件 touch、事件发布
type creator struct {
	notifications repository.NotificationRepository
	hook          *audit.Hook
	directory     EmployeeDirectory
	publisher     Publisher
	expiry        time.Duration
	logger        *zap.Logger
}

func newCreator(deps Deps, logger *zap.Logger) *creator {
	expiry := deps.Expiry
	if expiry <= 0 {
		expiry = domain.DefaultNotificationExpiry
	}
	publisher := deps.Publisher
	if publisher == nil {
		publisher = NoopPublisher{}
	}
	return &creator{
		notifications: deps.Notifications,
		hook:          deps.Hook,
		directory:     deps.Directory,
		publisher:     publisher,
		expiry:        expiry,
		logger:        logger,
	}
}

func (c *creator) create(
	ctx context.Context,
	identity domain.Identity,
	municipalityID, namespace string,
	draft domain.NotificationDraft,
	errand *domain.Errand,
) (string, error) {
	if errand == nil {
		return "", fmt.Errorf("%w: notification requires an errand", domain.ErrInvalidInput)
	}

	ownerID := strings.TrimSpace(draft.OwnerID)
	now := c.hook.Now()

	// 1. 解析显示名称（失败时降级为占位名称，不中断）
	ownerFullName := ""
	if ownerID != "" {
		ownerFullName = c.resolveFullName(ctx, municipalityID, ownerID)
	}
	createdByFullName := identity.Actor()
	if strings.TrimSpace(identity.UserID) != "" {
		createdByFullName = c.resolveFullName(ctx, municipalityID, identity.UserID)
	}

	expires := now.Add(c.expiry)
	if draft.Expires != nil {
		expires = *draft.Expires
	}

	var saved *domain.Notification
	err := c.hook.MutateChild(ctx, identity, errand.ID, audit.ChildNotification, func(ctx context.Context) error {
		// 2. 同一接收人、案件、类型存在未确认通知时刷新它（subType 与描述取最新事件），不重复创建
		n, err := c.findExisting(ctx, municipalityID, namespace, ownerID, errand.ID, draft.Type)
		if err != nil {
			return err
		}
		if n == nil {
			n = &domain.Notification{
				ID:             uuid.New().String(),
				MunicipalityID: municipalityID,
				Namespace:      namespace,
				OwnerID:        ownerID,
				Type:           draft.Type,
				Created:        now,
				ErrandID:       errand.ID,
				ErrandNumber:   errand.ErrandNumber,
			}
		}

		// 3. 接收人即当前执行者时直接标记为已确认
		n.OwnerFullName = ownerFullName
		n.CreatedBy = identity.Actor()
		n.CreatedByFullName = createdByFullName
		n.SubType = draft.SubType
		n.Description = draft.Description
		n.Content = draft.Content
		n.Acknowledged = ownerID != "" && identity.IsUser(ownerID)
		n.Expires = expires
		n.Modified = now

		if err := c.notifications.Save(ctx, n); err != nil {
			return fmt.Errorf("failed to save notification: %w", err)
		}
		saved = n
		return nil
	})
	if err != nil {
		return "", err
	}

	// 4. 发布事件（尽力而为）
	if err := c.publisher.Publish(ctx, saved); err != nil {
		c.logger.Warn("Failed to publish notification event",
			zap.String("notification_id", saved.ID),
			zap.Int64("errand_id", saved.ErrandID),
			zap.Error(err),
		)
	}

	return saved.ID, nil
}

func (c *creator) findExisting(ctx context.Context, municipalityID, namespace, ownerID string, errandID int64, notificationType string) (*domain.Notification, error) {
	if ownerID == "" {
		return nil, nil
	}
	n, err := c.notifications.FindUnacknowledged(ctx, municipalityID, namespace, ownerID, errandID, notificationType)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to look up existing notification: %w", err)
	}
	return n, nil
}

func (c *creator) resolveFullName(ctx context.Context, municipalityID, loginName string) string {
	if c.directory == nil {
		return domain.UnknownFullName
	}

	employee, err := c.directory.GetEmployeeByLoginName(ctx, municipalityID, loginName)
	if err != nil {
		c.logger.Warn("Employee lookup failed, using placeholder name",
			zap.String("municipality_id", municipalityID),
			zap.String("login_name", loginName),
			zap.Error(err),
		)
		return domain.UnknownFullName
	}
	if employee == nil || strings.TrimSpace(employee.FullName) == "" {
		return domain.UnknownFullName
	}
	return employee.FullName
}
