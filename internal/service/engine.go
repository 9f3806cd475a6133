package service

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"casedata-engine/common/database"
	commonmqtt "casedata-engine/common/mqtt"
	rediscommon "casedata-engine/common/redis"
	"casedata-engine/internal/audit"
	"casedata-engine/internal/config"
	"casedata-engine/internal/domain"
	"casedata-engine/internal/integration"
	"casedata-engine/internal/lock"
	"casedata-engine/internal/notification"
	"casedata-engine/internal/numbering"
	"casedata-engine/internal/repository"
	"casedata-engine/internal/scheduler"
	"casedata-engine/internal/worker"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

// EngineService 组装仓库、外部服务客户端、通知引擎和定时任务
type EngineService struct {
	config      *config.Config
	logger      *zap.Logger
	db          *sql.DB
	redisClient *redis.Client
	mqttClient  *commonmqtt.Client

	repos     *repository.Repositories
	scheduler *scheduler.Scheduler
	errands   *ErrandService
}

// removesFromSource 本地提交后会删除远端消息的任务，只在数据库仓库上运行
var removesFromSource = map[string]bool{
	config.JobMailboxIngestion:    true,
	config.JobWebMessageIngestion: true,
}

// scheduledJob 各 worker 的公共形态
type scheduledJob interface {
	Name() string
	Run(ctx context.Context) error
}

// NewEngineService 创建服务
func NewEngineService(cfg *config.Config, logger *zap.Logger) (*EngineService, error) {
	s := &EngineService{
		config: cfg,
		logger: logger,
	}

	// 1. 仓库：启用数据库时必须可达；未启用时使用内存仓库
	s.repos = repository.NewMemoryRepositories()
	if cfg.DBEnabled {
		db, err := database.NewPostgresDB(context.Background(), &cfg.Database)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}
		s.db = db
		s.repos = repository.NewPostgresRepositories(db, logger)
	} else {
		logger.Warn("Database disabled, using in-memory repositories")
	}

	// 2. 任务锁：redis 模式下 Redis 必须可达；local 模式仅用于单实例部署
	var locker lock.Locker
	switch cfg.Lock.Mode {
	case config.LockModeLocal:
		logger.Warn("Using in-process job lock, only one instance may run")
		locker = lock.NewLocalLocker()
	default:
		client, err := rediscommon.Connect(context.Background(), &cfg.Redis)
		if err != nil {
			_ = database.Close(s.db)
			return nil, fmt.Errorf("failed to connect to redis for job lock: %w", err)
		}
		s.redisClient = client
		locker = lock.NewRedisLocker(client, cfg.Lock.KeyPrefix, logger)
	}

	// 通知事件流（可选，不可用时不发布）
	var publisher notification.Publisher = notification.NoopPublisher{}
	if cfg.Notification.StreamEnabled {
		if s.redisClient == nil {
			client, err := rediscommon.Connect(context.Background(), &cfg.Redis)
			if err != nil {
				logger.Warn("Redis unavailable, notification events disabled", zap.Error(err))
			} else {
				s.redisClient = client
			}
		}
		if s.redisClient != nil {
			publisher = notification.NewStreamPublisher(s.redisClient, cfg.Notification.Stream, cfg.Notification.StreamMaxLen)
		}
	}

	// 3. 审计钩子、编号分配、通知引擎
	hook := audit.NewHook(s.repos.Errands, s.repos.Transactor, cfg.Retry.MaxAttempts, logger)
	allocator := numbering.NewAllocator(s.repos.Errands)
	s.errands = NewErrandService(s.repos.Errands, allocator, hook, cfg.Numbering.Abbreviations, cfg.Retry.MaxAttempts, logger)

	opts := integration.Options{
		Timeout:    cfg.Integrations.Timeout,
		RetryCount: cfg.Integrations.RetryCount,
	}
	engine := notification.NewEngine(notification.Deps{
		Notifications: s.repos.Notifications,
		Hook:          hook,
		Directory:     integration.NewEmployeeClient(cfg.Integrations.EmployeeURL, opts, logger),
		Publisher:     publisher,
		Expiry:        time.Duration(cfg.Notification.ExpiryDays) * 24 * time.Hour,
	}, logger)

	// 4. 定时任务
	deps := worker.Deps{
		Repos:    s.repos,
		Hook:     hook,
		Notifier: engine,
		Identity: domain.Identity{ClientID: cfg.Worker.ClientID},
		Logger:   logger,
	}
	jobs := []scheduledJob{
		worker.NewMailboxWorker(deps,
			integration.NewEmailReaderClient(cfg.Integrations.EmailReaderURL, opts, logger),
			cfg.Mailbox.Partitions, cfg.Mailbox.DeleteUnmatched),
		worker.NewWebMessageWorker(deps,
			integration.NewWebMessageCollectorClient(cfg.Integrations.WebMessageCollectorURL, opts, logger),
			cfg.WebMessage.Partitions, cfg.WebMessage.DeleteUnmatched),
		worker.NewConversationSyncWorker(deps,
			integration.NewMessageExchangeClient(cfg.Integrations.MessageExchangeURL, opts, logger),
			integration.NewRelationClient(cfg.Integrations.RelationURL, opts, logger),
			cfg.ConversationSync.PageSize),
		worker.NewSuspensionWorker(deps),
		worker.NewNotificationCleanupWorker(deps),
	}

	s.scheduler = scheduler.New(locker, logger)
	for _, job := range jobs {
		jobCfg, ok := cfg.Jobs[job.Name()]
		if !ok || !jobCfg.Enabled {
			logger.Info("Job disabled", zap.String("job", job.Name()))
			continue
		}
		if s.db == nil && removesFromSource[job.Name()] {
			logger.Warn("Job disabled, remote messages are only deleted after a durable commit",
				zap.String("job", job.Name()),
			)
			continue
		}
		if err := s.scheduler.Register(scheduler.Job{
			Name:          job.Name(),
			Interval:      jobCfg.Interval,
			LockAtMostFor: jobCfg.LockAtMostFor,
			Run:           job.Run,
		}); err != nil {
			_ = rediscommon.Close(s.redisClient)
			_ = database.Close(s.db)
			return nil, fmt.Errorf("failed to register job %s: %w", job.Name(), err)
		}
	}

	return s, nil
}

// Errands 案件服务
func (s *EngineService) Errands() *ErrandService {
	return s.errands
}

// Start 启动调度器；启用 MQTT 时订阅任务触发主题
func (s *EngineService) Start(ctx context.Context) error {
	s.logger.Info("Starting casedata engine",
		zap.Bool("database", s.db != nil),
		zap.Bool("redis", s.redisClient != nil),
		zap.Strings("jobs", s.scheduler.Jobs()),
	)

	if s.config.MQTT.Enabled {
		client, err := commonmqtt.NewClient(&s.config.MQTT.MQTTConfig, s.logger)
		if err != nil {
			return fmt.Errorf("failed to connect to MQTT broker: %w", err)
		}
		s.mqttClient = client
		if err := client.Subscribe(s.config.MQTT.Topic, s.scheduler.TriggerHandler(ctx)); err != nil {
			return err
		}
		s.logger.Info("Listening for job triggers", zap.String("topic", s.config.MQTT.Topic))
	}

	s.scheduler.Start(ctx)
	<-ctx.Done()
	return nil
}

// Stop 等待正在执行的任务结束并释放连接
func (s *EngineService) Stop(ctx context.Context) error {
	if s.mqttClient != nil {
		if err := s.mqttClient.Unsubscribe(s.config.MQTT.Topic); err != nil {
			s.logger.Warn("Failed to unsubscribe job trigger", zap.Error(err))
		}
		s.mqttClient.Disconnect()
	}

	s.scheduler.Wait()

	if err := rediscommon.Close(s.redisClient); err != nil {
		s.logger.Warn("Failed to close redis", zap.Error(err))
	}
	if err := database.Close(s.db); err != nil {
		s.logger.Warn("Failed to close database", zap.Error(err))
	}
	return nil
}
