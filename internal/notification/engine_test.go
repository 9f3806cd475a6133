package notification

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"casedata-engine/internal/audit"
	"casedata-engine/internal/domain"
	"casedata-engine/internal/repository"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var fixedNow = time.Date(2024, time.June, 10, 12, 0, 0, 0, time.UTC)

// MockEmployeeDirectory is a mock implementation of EmployeeDirectory
type MockEmployeeDirectory struct {
	mock.Mock
}

func (m *MockEmployeeDirectory) GetEmployeeByLoginName(ctx context.Context, municipalityID, loginName string) (*domain.Employee, error) {
	args := m.Called(municipalityID, loginName)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Employee), args.Error(1)
}

type recordingPublisher struct {
	published []domain.Notification
	err       error
}

func (p *recordingPublisher) Publish(_ context.Context, n *domain.Notification) error {
	p.published = append(p.published, *n)
	return p.err
}

type fixture struct {
	errands       *repository.MemoryErrandRepository
	notifications *repository.MemoryNotificationRepository
	directory     *MockEmployeeDirectory
	publisher     *recordingPublisher
	engine        *Engine
	errand        *domain.Errand
}

func setupEngine(t *testing.T) *fixture {
	errands := repository.NewMemoryErrandRepository()
	notifications := repository.NewMemoryNotificationRepository()
	hook := audit.NewHook(errands, repository.NoopTransactor{}, 3, zap.NewNop()).
		WithClock(func() time.Time { return fixedNow })
	directory := &MockEmployeeDirectory{}
	publisher := &recordingPublisher{}

	errand := &domain.Errand{
		ID:             1,
		ErrandNumber:   "PRH-2024-000001",
		MunicipalityID: "2281",
		Namespace:      "SBK_PARKING_PERMIT",
		Stakeholders: []domain.Stakeholder{
			{ID: 1, FirstName: "Anna", AdAccount: "adm01", Roles: []string{domain.RoleAdministrator}},
			{ID: 2, FirstName: "Rolf", AdAccount: "rep01", Roles: []string{domain.RoleApplicant, domain.RoleReporter}},
		},
	}
	errands.Put(errand)

	engine := NewEngine(Deps{
		Notifications: notifications,
		Hook:          hook,
		Directory:     directory,
		Publisher:     publisher,
	}, zap.NewNop())

	return &fixture{
		errands:       errands,
		notifications: notifications,
		directory:     directory,
		publisher:     publisher,
		engine:        engine,
		errand:        errand,
	}
}

func draft(owner string) domain.NotificationDraft {
	return domain.NotificationDraft{
		OwnerID:     owner,
		Type:        domain.NotificationTypeUpdate,
		SubType:     domain.NotificationSubTypeErrand,
		Description: "Ärendet har uppdaterats",
	}
}

func TestOwnerStrategy_OwnerIsExecutingIdentity_Acknowledged(t *testing.T) {
	f := setupEngine(t)
	f.directory.On("GetEmployeeByLoginName", "2281", "adm01").Return(&domain.Employee{LoginName: "adm01", FullName: "Anna Admin"}, nil)
	f.directory.On("GetEmployeeByLoginName", "2281", "ADM01").Return(&domain.Employee{LoginName: "adm01", FullName: "Anna Admin"}, nil)

	id, err := f.engine.Process(context.Background(), domain.Identity{UserID: "ADM01", ClientID: "web"},
		StrategyOwner, "2281", "SBK_PARKING_PERMIT", draft("adm01"), f.errand)

	require.NoError(t, err)
	require.NotEmpty(t, id)

	all := f.notifications.All()
	require.Len(t, all, 1)
	n := all[0]
	assert.Equal(t, id, n.ID)
	assert.True(t, n.Acknowledged)
	assert.Equal(t, "Anna Admin", n.OwnerFullName)
	assert.Equal(t, "ADM01", n.CreatedBy)
	assert.Equal(t, "PRH-2024-000001", n.ErrandNumber)
	assert.Equal(t, fixedNow.Add(30*24*time.Hour), n.Expires)
}

func TestOwnerStrategy_DifferentOwner_NotAcknowledged(t *testing.T) {
	f := setupEngine(t)
	f.directory.On("GetEmployeeByLoginName", "2281", "adm01").Return(&domain.Employee{FullName: "Anna Admin"}, nil)
	f.directory.On("GetEmployeeByLoginName", "2281", "usr99").Return(&domain.Employee{FullName: "Ulla User"}, nil)

	_, err := f.engine.Process(context.Background(), domain.Identity{UserID: "usr99"},
		StrategyOwner, "2281", "SBK_PARKING_PERMIT", draft("adm01"), f.errand)

	require.NoError(t, err)
	n := f.notifications.All()[0]
	assert.False(t, n.Acknowledged)
	assert.Equal(t, "Ulla User", n.CreatedByFullName)
	f.directory.AssertExpectations(t)
}

func TestOwnerStrategy_DirectoryFailureDegradesToUnknown(t *testing.T) {
	f := setupEngine(t)
	f.directory.On("GetEmployeeByLoginName", "2281", "adm01").Return(nil, errors.New("employee service unavailable"))
	f.directory.On("GetEmployeeByLoginName", "2281", "usr99").Return(nil, nil)

	id, err := f.engine.Process(context.Background(), domain.Identity{UserID: "usr99"},
		StrategyOwner, "2281", "SBK_PARKING_PERMIT", draft("adm01"), f.errand)

	require.NoError(t, err)
	assert.NotEmpty(t, id)
	n := f.notifications.All()[0]
	assert.Equal(t, domain.UnknownFullName, n.OwnerFullName)
	assert.Equal(t, domain.UnknownFullName, n.CreatedByFullName)
}

func TestOwnerStrategy_WorkerIdentitySkipsCreatorLookup(t *testing.T) {
	f := setupEngine(t)

	_, err := f.engine.Process(context.Background(), domain.Identity{ClientID: "casedata-engine"},
		StrategyOwner, "2281", "SBK_PARKING_PERMIT", draft(""), f.errand)

	require.NoError(t, err)
	n := f.notifications.All()[0]
	assert.Empty(t, n.OwnerID)
	assert.Empty(t, n.OwnerFullName)
	assert.False(t, n.Acknowledged)
	assert.Equal(t, "casedata-engine", n.CreatedBy)
	assert.Equal(t, "casedata-engine", n.CreatedByFullName)
	f.directory.AssertNotCalled(t, "GetEmployeeByLoginName", mock.Anything, mock.Anything)
}

func TestOwnerStrategy_ExplicitExpiry(t *testing.T) {
	f := setupEngine(t)
	expires := fixedNow.Add(48 * time.Hour)
	d := draft("")
	d.Expires = &expires

	_, err := f.engine.Process(context.Background(), domain.Identity{ClientID: "worker"},
		StrategyOwner, "2281", "SBK_PARKING_PERMIT", d, f.errand)

	require.NoError(t, err)
	assert.Equal(t, expires, f.notifications.All()[0].Expires)
}

func TestOwnerStrategy_RefreshesUnacknowledgedDuplicate(t *testing.T) {
	f := setupEngine(t)
	f.directory.On("GetEmployeeByLoginName", "2281", "adm01").Return(&domain.Employee{FullName: "Anna Admin"}, nil)
	identity := domain.Identity{ClientID: "worker"}

	first, err := f.engine.Process(context.Background(), identity, StrategyOwner, "2281", "SBK_PARKING_PERMIT", draft("adm01"), f.errand)
	require.NoError(t, err)

	second := draft("adm01")
	second.Description = "Meddelande mottaget"
	again, err := f.engine.Process(context.Background(), identity, StrategyOwner, "2281", "SBK_PARKING_PERMIT", second, f.errand)
	require.NoError(t, err)

	assert.Equal(t, first, again)
	all := f.notifications.All()
	require.Len(t, all, 1)
	assert.Equal(t, "Meddelande mottaget", all[0].Description)

	// 不同类型不合并
	other := draft("adm01")
	other.Type = domain.NotificationTypeCreate
	third, err := f.engine.Process(context.Background(), identity, StrategyOwner, "2281", "SBK_PARKING_PERMIT", other, f.errand)
	require.NoError(t, err)
	assert.NotEqual(t, first, third)
	assert.Len(t, f.notifications.All(), 2)
}

func TestOwnerStrategy_LatestSubTypeReplacesUnreadNotification(t *testing.T) {
	f := setupEngine(t)
	f.directory.On("GetEmployeeByLoginName", "2281", "adm01").Return(&domain.Employee{FullName: "Anna Admin"}, nil)
	identity := domain.Identity{ClientID: "worker"}

	message := draft("adm01")
	message.SubType = domain.NotificationSubTypeMessage
	message.Description = "Meddelande mottaget"
	first, err := f.engine.Process(context.Background(), identity, StrategyOwner, "2281", "SBK_PARKING_PERMIT", message, f.errand)
	require.NoError(t, err)

	suspension := draft("adm01")
	suspension.SubType = domain.NotificationSubTypeSuspension
	suspension.Description = "Parkering av ärendet har upphört"
	second, err := f.engine.Process(context.Background(), identity, StrategyOwner, "2281", "SBK_PARKING_PERMIT", suspension, f.errand)
	require.NoError(t, err)

	// 管理员只看到一条未读通知，内容为最近一次事件
	assert.Equal(t, first, second)
	all := f.notifications.All()
	require.Len(t, all, 1)
	assert.Equal(t, domain.NotificationSubTypeSuspension, all[0].SubType)
	assert.Equal(t, "Parkering av ärendet har upphört", all[0].Description)
	assert.False(t, all[0].Acknowledged)
}

func TestOwnerStrategy_TouchesErrandAndPublishes(t *testing.T) {
	f := setupEngine(t)

	id, err := f.engine.Process(context.Background(), domain.Identity{ClientID: "casedata-engine"},
		StrategyOwner, "2281", "SBK_PARKING_PERMIT", draft(""), f.errand)
	require.NoError(t, err)

	stored, err := f.errands.FindByID(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, fixedNow, stored.Updated)
	assert.Equal(t, "casedata-engine", stored.UpdatedBy)
	assert.Equal(t, 1, stored.Version)

	require.Len(t, f.publisher.published, 1)
	assert.Equal(t, id, f.publisher.published[0].ID)
}

func TestOwnerStrategy_PublishFailureDoesNotAbort(t *testing.T) {
	f := setupEngine(t)
	f.publisher.err = errors.New("redis down")

	id, err := f.engine.Process(context.Background(), domain.Identity{ClientID: "worker"},
		StrategyOwner, "2281", "SBK_PARKING_PERMIT", draft(""), f.errand)

	require.NoError(t, err)
	assert.NotEmpty(t, id)
}

func TestOwnerStrategy_NilErrand(t *testing.T) {
	f := setupEngine(t)

	_, err := f.engine.Process(context.Background(), domain.Identity{}, StrategyOwner, "2281", "NS", draft(""), nil)

	assert.True(t, errors.Is(err, domain.ErrInvalidInput))
	assert.Empty(t, f.notifications.All())
}

func TestReporterStrategy(t *testing.T) {
	tests := []struct {
		name         string
		stakeholders []domain.Stakeholder
		expectOwner  string
	}{
		{
			name:         "reporter with account",
			stakeholders: []domain.Stakeholder{{AdAccount: "rep01", Roles: []string{domain.RoleReporter}}},
			expectOwner:  "rep01",
		},
		{
			name:         "reporter without account",
			stakeholders: []domain.Stakeholder{{AdAccount: "  ", Roles: []string{domain.RoleReporter}}},
		},
		{
			name:         "no reporter",
			stakeholders: []domain.Stakeholder{{AdAccount: "adm01", Roles: []string{domain.RoleAdministrator}}},
		},
		{
			name: "first reporter with account wins",
			stakeholders: []domain.Stakeholder{
				{Roles: []string{domain.RoleReporter}},
				{AdAccount: "rep02", Roles: []string{domain.RoleReporter}},
				{AdAccount: "rep03", Roles: []string{domain.RoleReporter}},
			},
			expectOwner: "rep02",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := setupEngine(t)
			f.directory.On("GetEmployeeByLoginName", mock.Anything, mock.Anything).Return(&domain.Employee{FullName: "Someone"}, nil)
			errand := f.errand.Clone()
			errand.Stakeholders = tt.stakeholders

			id, err := f.engine.Process(context.Background(), domain.Identity{ClientID: "worker"},
				StrategyReporter, "2281", "SBK_PARKING_PERMIT", draft("ignored"), errand)
			require.NoError(t, err)

			all := f.notifications.All()
			if tt.expectOwner == "" {
				assert.Empty(t, id)
				assert.Empty(t, all)
				return
			}
			assert.NotEmpty(t, id)
			require.Len(t, all, 1)
			assert.Equal(t, tt.expectOwner, all[0].OwnerID)
		})
	}
}

func TestReporterStrategy_NilErrand(t *testing.T) {
	f := setupEngine(t)

	id, err := f.engine.Process(context.Background(), domain.Identity{}, StrategyReporter, "2281", "NS", draft(""), nil)

	require.NoError(t, err)
	assert.Empty(t, id)
}

func TestEngine_UnknownStrategy(t *testing.T) {
	f := setupEngine(t)

	_, err := f.engine.Process(context.Background(), domain.Identity{}, "broadcast", "2281", "NS", draft(""), f.errand)

	assert.ErrorIs(t, err, ErrUnknownStrategy)
}

func TestStreamPublisher_Publish(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	publisher := NewStreamPublisher(client, "casedata:notifications", 100)
	err := publisher.Publish(context.Background(), &domain.Notification{
		ID:           "n-1",
		Type:         domain.NotificationTypeUpdate,
		Description:  "Meddelande mottaget",
		ErrandID:     1,
		ErrandNumber: "PRH-2024-000001",
	})
	require.NoError(t, err)

	entries, err := client.XRange(context.Background(), "casedata:notifications", "-", "+").Result()
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, EventNotificationCreated, entries[0].Values["type"])

	var event notificationEvent
	require.NoError(t, json.Unmarshal([]byte(entries[0].Values["data"].(string)), &event))
	assert.Equal(t, "n-1", event.NotificationID)
	assert.Equal(t, "PRH-2024-000001", event.ErrandNumber)
}
