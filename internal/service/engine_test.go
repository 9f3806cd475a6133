package service

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	commoncfg "casedata-engine/common/config"
	"casedata-engine/internal/config"
	"casedata-engine/internal/scheduler"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// collectorServer 记录外部服务收到的请求，列表接口返回两条 Web 消息
type collectorServer struct {
	*httptest.Server
	mu      sync.Mutex
	deletes []string
}

func newCollectorServer(t *testing.T) *collectorServer {
	c := &collectorServer{}
	c.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodDelete {
			c.mu.Lock()
			c.deletes = append(c.deletes, r.URL.Path)
			c.mu.Unlock()
			w.WriteHeader(http.StatusNoContent)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`[{"id":1,"messageId":"wm-1","externalCaseId":"ext-1","familyId":"123"},` +
			`{"id":2,"messageId":"wm-2","externalCaseId":"ext-2","familyId":"123"}]`))
	}))
	t.Cleanup(c.Close)
	return c
}

func (c *collectorServer) deleteCalls() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.deletes...)
}

func testEngineConfig(collectorURL string) *config.Config {
	cfg := &config.Config{}
	cfg.DBEnabled = false
	cfg.Lock.Mode = config.LockModeLocal
	cfg.Lock.KeyPrefix = "casedata:lock:"
	cfg.Retry.MaxAttempts = 3
	cfg.ConversationSync.PageSize = 10
	cfg.Notification.ExpiryDays = 30
	cfg.Worker.ClientID = "casedata-engine"
	cfg.Integrations.Timeout = 2 * time.Second
	cfg.Integrations.EmailReaderURL = collectorURL
	cfg.Integrations.WebMessageCollectorURL = collectorURL
	cfg.Integrations.MessageExchangeURL = collectorURL
	cfg.Integrations.RelationURL = collectorURL
	cfg.Integrations.EmployeeURL = collectorURL
	cfg.Mailbox.Partitions = []config.MailboxPartition{{MunicipalityID: "2281", Namespace: "SBK_PARKING_PERMIT"}}
	cfg.WebMessage.Partitions = []config.WebMessagePartition{{
		MunicipalityID: "2281", Namespace: "SBK_PARKING_PERMIT", Instance: "external", FamilyIDs: []string{"123"},
	}}
	cfg.WebMessage.DeleteUnmatched = true

	cfg.Jobs = map[string]config.JobConfig{}
	for _, name := range []string{
		config.JobMailboxIngestion,
		config.JobWebMessageIngestion,
		config.JobConversationSync,
		config.JobSuspensionExpiry,
		config.JobNotificationCleanup,
	} {
		cfg.Jobs[name] = config.JobConfig{Enabled: true, Interval: time.Minute, LockAtMostFor: time.Minute}
	}
	return cfg
}

func TestNewEngineService_UnreachableDatabaseFailsStartup(t *testing.T) {
	collector := newCollectorServer(t)
	cfg := testEngineConfig(collector.URL)
	cfg.DBEnabled = true
	cfg.Database = commoncfg.DatabaseConfig{
		Host:           "127.0.0.1",
		Port:           1,
		User:           "postgres",
		Password:       "postgres",
		Database:       "casedata",
		SSLMode:        "disable",
		ConnectTimeout: 500 * time.Millisecond,
	}

	svc, err := NewEngineService(cfg, zap.NewNop())

	require.Error(t, err)
	assert.Nil(t, svc)
	assert.Empty(t, collector.deleteCalls())
}

func TestNewEngineService_InMemorySkipsSourceDeletingJobs(t *testing.T) {
	collector := newCollectorServer(t)

	svc, err := NewEngineService(testEngineConfig(collector.URL), zap.NewNop())
	require.NoError(t, err)
	defer svc.Stop(context.Background())

	assert.Equal(t, []string{
		config.JobConversationSync,
		config.JobNotificationCleanup,
		config.JobSuspensionExpiry,
	}, svc.scheduler.Jobs())

	err = svc.scheduler.Trigger(context.Background(), config.JobWebMessageIngestion)
	assert.ErrorIs(t, err, scheduler.ErrUnknownJob)
	assert.NoError(t, svc.scheduler.Trigger(context.Background(), config.JobSuspensionExpiry))
	assert.Empty(t, collector.deleteCalls())
}

func TestNewEngineService_RedisLockModeRequiresRedis(t *testing.T) {
	collector := newCollectorServer(t)
	cfg := testEngineConfig(collector.URL)
	cfg.Lock.Mode = config.LockModeRedis
	cfg.Redis = commoncfg.RedisConfig{Addr: "127.0.0.1:1", DialTimeout: 200 * time.Millisecond}

	svc, err := NewEngineService(cfg, zap.NewNop())

	require.Error(t, err)
	assert.Nil(t, svc)
}

func TestNewEngineService_RedisLockMode(t *testing.T) {
	mr := miniredis.RunT(t)
	collector := newCollectorServer(t)
	cfg := testEngineConfig(collector.URL)
	cfg.Lock.Mode = config.LockModeRedis
	cfg.Redis = commoncfg.RedisConfig{Addr: mr.Addr()}

	svc, err := NewEngineService(cfg, zap.NewNop())
	require.NoError(t, err)
	defer svc.Stop(context.Background())

	require.NotNil(t, svc.redisClient)
	assert.NoError(t, svc.scheduler.Trigger(context.Background(), config.JobNotificationCleanup))
	assert.False(t, mr.Exists("casedata:lock:"+config.JobNotificationCleanup), "lock released after run")
}
