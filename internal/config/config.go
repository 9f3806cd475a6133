package config

import (
	"fmt"
	"strings"
	"time"

	commoncfg "casedata-engine/common/config"
)

// 任务名称（同时作为分布式锁名）
const (
	JobMailboxIngestion    = "mailbox-ingestion"
	JobWebMessageIngestion = "webmessage-ingestion"
	JobConversationSync    = "conversation-sync"
	JobSuspensionExpiry    = "suspension-expiry"
	JobNotificationCleanup = "notification-cleanup"
)

// 任务锁模式
const (
	LockModeRedis = "redis" // 集群部署：Redis 不可达时启动失败
	LockModeLocal = "local" // 单实例部署：进程内锁
)

// Config casedata-engine 配置
type Config struct {
	DBEnabled bool
	Database  commoncfg.DatabaseConfig
	Redis     commoncfg.RedisConfig

	MQTT struct {
		Enabled bool
		commoncfg.MQTTConfig
		Topic string // 任务触发主题
	}

	Log struct {
		Level  string
		Format string
	}

	// 外部服务
	Integrations struct {
		Timeout                time.Duration
		RetryCount             int
		EmailReaderURL         string
		WebMessageCollectorURL string
		MessageExchangeURL     string
		RelationURL            string
		EmployeeURL            string
	}

	Jobs map[string]JobConfig

	Mailbox struct {
		Partitions      []MailboxPartition
		DeleteUnmatched bool // 找不到案件时是否删除邮件（默认保留）
	}

	WebMessage struct {
		Partitions      []WebMessagePartition
		DeleteUnmatched bool // 找不到案件时是否删除消息（默认删除）
	}

	ConversationSync struct {
		PageSize int
	}

	Notification struct {
		ExpiryDays    int
		StreamEnabled bool
		Stream        string
		StreamMaxLen  int64
	}

	Retry struct {
		MaxAttempts int
	}

	Lock struct {
		Mode      string
		KeyPrefix string
	}

	Numbering struct {
		Abbreviations map[string]string // case type -> 缩写
	}

	Worker struct {
		ClientID string // 后台任务的执行客户端标识
	}
}

// JobConfig 定时任务配置
type JobConfig struct {
	Enabled       bool
	Interval      time.Duration
	LockAtMostFor time.Duration // 锁最长持有时间（持有者崩溃后自动释放）
}

// MailboxPartition 邮箱数据源分区
type MailboxPartition struct {
	MunicipalityID string
	Namespace      string
}

// WebMessagePartition Web 消息数据源分区
type WebMessagePartition struct {
	MunicipalityID string
	Namespace      string
	Instance       string
	FamilyIDs      []string
}

// Load 加载配置
func Load() (*Config, error) {
	cfg := &Config{}

	cfg.DBEnabled = commoncfg.GetEnvBool("DB_ENABLED", true)
	cfg.Database = commoncfg.DatabaseConfig{
		Host:     "localhost",
		Port:     5432,
		User:     "postgres",
		Password: "postgres",
		Database: "casedata",
		SSLMode:  "disable",
		MaxConns: 10,
		MaxIdle:  5,

		ConnectTimeout: 5 * time.Second,
	}
	cfg.Database.LoadFromEnv("DB")

	cfg.Redis = commoncfg.RedisConfig{Addr: "localhost:6379", DialTimeout: 5 * time.Second}
	cfg.Redis.LoadFromEnv("REDIS")

	cfg.MQTT.Enabled = commoncfg.GetEnvBool("MQTT_ENABLED", false)
	cfg.MQTT.MQTTConfig = commoncfg.MQTTConfig{
		Broker:   "tcp://localhost:1883",
		ClientID: "casedata-engine",
		QoS:      1,
	}
	cfg.MQTT.MQTTConfig.LoadFromEnv("MQTT")
	cfg.MQTT.Topic = commoncfg.GetEnv("MQTT_TOPIC", "casedata/jobs/trigger")

	cfg.Log.Level = commoncfg.GetEnv("LOG_LEVEL", "info")
	cfg.Log.Format = commoncfg.GetEnv("LOG_FORMAT", "json")

	cfg.Integrations.Timeout = commoncfg.GetEnvDuration("INTEGRATION_TIMEOUT", 30*time.Second)
	cfg.Integrations.RetryCount = commoncfg.GetEnvInt("INTEGRATION_RETRY_COUNT", 3)
	cfg.Integrations.EmailReaderURL = commoncfg.GetEnv("EMAILREADER_URL", "http://localhost:8081/email-reader")
	cfg.Integrations.WebMessageCollectorURL = commoncfg.GetEnv("WEBMESSAGECOLLECTOR_URL", "http://localhost:8081/web-message-collector")
	cfg.Integrations.MessageExchangeURL = commoncfg.GetEnv("MESSAGEEXCHANGE_URL", "http://localhost:8081/message-exchange")
	cfg.Integrations.RelationURL = commoncfg.GetEnv("RELATION_URL", "http://localhost:8081/relation")
	cfg.Integrations.EmployeeURL = commoncfg.GetEnv("EMPLOYEE_URL", "http://localhost:8081/employee")

	cfg.Jobs = map[string]JobConfig{
		JobMailboxIngestion:    loadJob("JOB_MAILBOX", time.Minute, 2*time.Minute),
		JobWebMessageIngestion: loadJob("JOB_WEBMESSAGE", time.Minute, 2*time.Minute),
		JobConversationSync:    loadJob("JOB_CONVERSATION_SYNC", 5*time.Minute, 10*time.Minute),
		JobSuspensionExpiry:    loadJob("JOB_SUSPENSION", 10*time.Minute, 5*time.Minute),
		JobNotificationCleanup: loadJob("JOB_NOTIFICATION_CLEANUP", time.Hour, 5*time.Minute),
	}

	var err error
	if cfg.Mailbox.Partitions, err = ParseMailboxPartitions(commoncfg.GetEnv("MAILBOX_PARTITIONS", "")); err != nil {
		return nil, fmt.Errorf("invalid MAILBOX_PARTITIONS: %w", err)
	}
	cfg.Mailbox.DeleteUnmatched = commoncfg.GetEnvBool("MAILBOX_DELETE_UNMATCHED", false)

	if cfg.WebMessage.Partitions, err = ParseWebMessagePartitions(commoncfg.GetEnv("WEBMESSAGE_PARTITIONS", "")); err != nil {
		return nil, fmt.Errorf("invalid WEBMESSAGE_PARTITIONS: %w", err)
	}
	cfg.WebMessage.DeleteUnmatched = commoncfg.GetEnvBool("WEBMESSAGE_DELETE_UNMATCHED", true)

	cfg.ConversationSync.PageSize = commoncfg.GetEnvInt("CONVERSATION_SYNC_PAGE_SIZE", 100)

	cfg.Notification.ExpiryDays = commoncfg.GetEnvInt("NOTIFICATION_EXPIRY_DAYS", 30)
	cfg.Notification.StreamEnabled = commoncfg.GetEnvBool("NOTIFICATION_STREAM_ENABLED", false)
	cfg.Notification.Stream = commoncfg.GetEnv("NOTIFICATION_STREAM", "casedata:notifications")
	cfg.Notification.StreamMaxLen = int64(commoncfg.GetEnvInt("NOTIFICATION_STREAM_MAXLEN", 10000))

	cfg.Retry.MaxAttempts = commoncfg.GetEnvInt("RETRY_MAX_ATTEMPTS", 3)
	cfg.Lock.Mode = commoncfg.GetEnv("LOCK_MODE", LockModeRedis)
	cfg.Lock.KeyPrefix = commoncfg.GetEnv("LOCK_KEY_PREFIX", "casedata:lock:")

	if cfg.Numbering.Abbreviations, err = ParseAbbreviations(commoncfg.GetEnv("NUMBERING_ABBREVIATIONS", defaultAbbreviations)); err != nil {
		return nil, fmt.Errorf("invalid NUMBERING_ABBREVIATIONS: %w", err)
	}

	cfg.Worker.ClientID = commoncfg.GetEnv("WORKER_CLIENT_ID", "casedata-engine")

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate 校验配置
func (c *Config) Validate() error {
	if c.Retry.MaxAttempts <= 0 {
		return fmt.Errorf("RETRY_MAX_ATTEMPTS must be > 0")
	}
	if c.Lock.Mode != LockModeRedis && c.Lock.Mode != LockModeLocal {
		return fmt.Errorf("LOCK_MODE must be %q or %q, got %q", LockModeRedis, LockModeLocal, c.Lock.Mode)
	}
	if c.ConversationSync.PageSize <= 0 {
		return fmt.Errorf("CONVERSATION_SYNC_PAGE_SIZE must be > 0")
	}
	for name, job := range c.Jobs {
		if !job.Enabled {
			continue
		}
		if job.Interval <= 0 {
			return fmt.Errorf("job %s: interval must be > 0", name)
		}
		if job.LockAtMostFor <= 0 {
			return fmt.Errorf("job %s: lock duration must be > 0", name)
		}
	}
	return nil
}

const defaultAbbreviations = "PARKING_PERMIT=PRH,PARKING_PERMIT_RENEWAL=PRH,LOST_PARKING_PERMIT=PRH," +
	"MEX_LEASE_REQUEST=MEX,MEX_BUY_LAND_FROM_THE_MUNICIPALITY=MEX,MEX_SELL_LAND_TO_THE_MUNICIPALITY=MEX," +
	"ANMALAN_ATTEFALL=ANM,ANMALAN_ELDSTAD=ANM,NYBYGGNAD_ANSOKAN_OM_BYGGLOV=BYG"

func loadJob(prefix string, interval, lockAtMostFor time.Duration) JobConfig {
	return JobConfig{
		Enabled:       commoncfg.GetEnvBool(prefix+"_ENABLED", true),
		Interval:      commoncfg.GetEnvDuration(prefix+"_INTERVAL", interval),
		LockAtMostFor: commoncfg.GetEnvDuration(prefix+"_LOCK_AT_MOST_FOR", lockAtMostFor),
	}
}

// ParseMailboxPartitions 解析 "2281:NS_A,2262:NS_B"
func ParseMailboxPartitions(s string) ([]MailboxPartition, error) {
	var out []MailboxPartition
	for _, item := range splitNonEmpty(s, ",") {
		parts := strings.Split(item, ":")
		if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
			return nil, fmt.Errorf("expected municipalityId:namespace, got %q", item)
		}
		out = append(out, MailboxPartition{MunicipalityID: parts[0], Namespace: parts[1]})
	}
	return out, nil
}

// ParseWebMessagePartitions 解析 "2281:NS_A:external:123|456;2262:NS_B:internal:789"
func ParseWebMessagePartitions(s string) ([]WebMessagePartition, error) {
	var out []WebMessagePartition
	for _, item := range splitNonEmpty(s, ";") {
		parts := strings.Split(item, ":")
		if len(parts) != 4 || parts[0] == "" || parts[1] == "" || parts[2] == "" {
			return nil, fmt.Errorf("expected municipalityId:namespace:instance:familyIds, got %q", item)
		}
		families := splitNonEmpty(parts[3], "|")
		if len(families) == 0 {
			return nil, fmt.Errorf("no family ids in %q", item)
		}
		out = append(out, WebMessagePartition{
			MunicipalityID: parts[0],
			Namespace:      parts[1],
			Instance:       parts[2],
			FamilyIDs:      families,
		})
	}
	return out, nil
}

// ParseAbbreviations 解析 "CASE_TYPE=ABBR,..."
func ParseAbbreviations(s string) (map[string]string, error) {
	out := map[string]string{}
	for _, item := range splitNonEmpty(s, ",") {
		k, v, ok := strings.Cut(item, "=")
		k, v = strings.TrimSpace(k), strings.TrimSpace(v)
		if !ok || k == "" || v == "" {
			return nil, fmt.Errorf("expected CASE_TYPE=ABBR, got %q", item)
		}
		out[k] = v
	}
	return out, nil
}

func splitNonEmpty(s, sep string) []string {
	var out []string
	for _, p := range strings.Split(s, sep) {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
