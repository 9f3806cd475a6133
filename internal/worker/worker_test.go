package worker

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"casedata-engine/internal/audit"
	"casedata-engine/internal/domain"
	"casedata-engine/internal/integration"
	"casedata-engine/internal/notification"
	"casedata-engine/internal/repository"

	"go.uber.org/zap"
)

var fixedNow = time.Date(2024, time.June, 10, 12, 0, 0, 0, time.UTC)

const (
	testMunicipality = "2281"
	testNamespace    = "SBK_PARKING_PERMIT"
	testClient       = "casedata-engine"
)

type fixture struct {
	repos         *repository.Repositories
	errands       *repository.MemoryErrandRepository
	notifications *repository.MemoryNotificationRepository
	messages      *repository.MemoryMessageRepository
	attachments   *repository.MemoryAttachmentRepository
	syncStates    *repository.MemoryConversationSyncStateRepository
	conversations *repository.MemoryConversationRepository
	deps          Deps
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	repos := repository.NewMemoryRepositories()
	hook := audit.NewHook(repos.Errands, repos.Transactor, 3, zap.NewNop()).
		WithClock(func() time.Time { return fixedNow })
	engine := notification.NewEngine(notification.Deps{
		Notifications: repos.Notifications,
		Hook:          hook,
	}, zap.NewNop())

	return &fixture{
		repos:         repos,
		errands:       repos.Errands.(*repository.MemoryErrandRepository),
		notifications: repos.Notifications.(*repository.MemoryNotificationRepository),
		messages:      repos.Messages.(*repository.MemoryMessageRepository),
		attachments:   repos.Attachments.(*repository.MemoryAttachmentRepository),
		syncStates:    repos.SyncStates.(*repository.MemoryConversationSyncStateRepository),
		conversations: repos.Conversations.(*repository.MemoryConversationRepository),
		deps: Deps{
			Repos:    repos,
			Hook:     hook,
			Notifier: engine,
			Identity: domain.Identity{ClientID: testClient},
			Logger:   zap.NewNop(),
		},
	}
}

// putErrand 写入带管理员的案件
func (f *fixture) putErrand(id int64, number string) *domain.Errand {
	e := &domain.Errand{
		ID:             id,
		ErrandNumber:   number,
		ExternalCaseID: fmt.Sprintf("ext-%d", id),
		CaseType:       "PARKING_PERMIT",
		MunicipalityID: testMunicipality,
		Namespace:      testNamespace,
		Stakeholders: []domain.Stakeholder{
			{ID: id * 10, ErrandID: id, FirstName: "Anna", AdAccount: "adm01", Roles: []string{domain.RoleAdministrator}},
			{ID: id*10 + 1, ErrandID: id, FirstName: "Rolf", Roles: []string{domain.RoleApplicant}},
		},
	}
	f.errands.Put(e)
	return e
}

func (f *fixture) errand(t *testing.T, id int64) *domain.Errand {
	t.Helper()
	e, err := f.errands.FindByID(context.Background(), id)
	if err != nil {
		t.Fatalf("errand %d: %v", id, err)
	}
	return e
}

func notificationsFor(all []domain.Notification, errandID int64) []domain.Notification {
	var out []domain.Notification
	for _, n := range all {
		if n.ErrandID == errandID {
			out = append(out, n)
		}
	}
	return out
}

// --- fakes ---

type fakeEmailSource struct {
	emails  []integration.Email
	listErr error
	deleted []string
}

func (s *fakeEmailSource) ListMessages(context.Context, string, string) ([]integration.Email, error) {
	if s.listErr != nil {
		return nil, s.listErr
	}
	return s.emails, nil
}

func (s *fakeEmailSource) DeleteMessage(_ context.Context, _ string, id string) error {
	s.deleted = append(s.deleted, id)
	return nil
}

type fakeWebMessageSource struct {
	messages    []integration.WebMessage
	attachments map[int][]byte
	deleted     [][]int
}

func (s *fakeWebMessageSource) ListMessages(context.Context, string, string, string) ([]integration.WebMessage, error) {
	return s.messages, nil
}

func (s *fakeWebMessageSource) GetAttachment(_ context.Context, _ string, attachmentID int) ([]byte, error) {
	content, ok := s.attachments[attachmentID]
	if !ok {
		return nil, &integration.StatusError{Service: "web-message-collector", Operation: "getAttachment", StatusCode: 404}
	}
	return content, nil
}

func (s *fakeWebMessageSource) DeleteMessages(_ context.Context, _ string, ids []int) error {
	s.deleted = append(s.deleted, append([]int(nil), ids...))
	return nil
}

type fakeConversationSource struct {
	pages       []integration.ConversationPage
	messages    map[string][]integration.ExchangeMessage
	attachments map[string][]byte
	afters      []int64
}

func (s *fakeConversationSource) ListConversations(_ context.Context, _, _ string, afterSequence int64, page, _ int) (*integration.ConversationPage, error) {
	s.afters = append(s.afters, afterSequence)
	if page >= len(s.pages) {
		return &integration.ConversationPage{Number: page, Last: true}, nil
	}
	p := s.pages[page]
	return &p, nil
}

func (s *fakeConversationSource) GetMessages(_ context.Context, _, _, conversationID string, page, _ int) (*integration.MessagePage, error) {
	return &integration.MessagePage{Content: s.messages[conversationID], Number: page, TotalPages: 1, Last: true}, nil
}

func (s *fakeConversationSource) GetAttachment(_ context.Context, _, _, _, _, attachmentID string) ([]byte, error) {
	content, ok := s.attachments[attachmentID]
	if !ok {
		return nil, errors.New("attachment not found")
	}
	return content, nil
}

type fakeRelations struct {
	relations map[string]*integration.Relation
	calls     []string
}

func (r *fakeRelations) GetRelation(_ context.Context, _, relationID string) (*integration.Relation, error) {
	r.calls = append(r.calls, relationID)
	rel, ok := r.relations[relationID]
	if !ok {
		return nil, &integration.StatusError{Service: "relation", Operation: "getRelation", StatusCode: 500}
	}
	return rel, nil
}

// failingMessageRepo 指定 ID 保存失败
type failingMessageRepo struct {
	repository.MessageRepository
	failID string
}

func (r failingMessageRepo) Save(ctx context.Context, m *domain.Message) error {
	if m.ID == r.failID {
		return errors.New("disk full")
	}
	return r.MessageRepository.Save(ctx, m)
}

// failingNotifier 指定案件的通知创建失败
type failingNotifier struct {
	Notifier
	errandID int64
}

func (n failingNotifier) Process(ctx context.Context, identity domain.Identity, strategy, municipalityID, namespace string, draft domain.NotificationDraft, errand *domain.Errand) (string, error) {
	if errand.ID == n.errandID {
		return "", errors.New("notification store unavailable")
	}
	return n.Notifier.Process(ctx, identity, strategy, municipalityID, namespace, draft, errand)
}
