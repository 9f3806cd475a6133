package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_DefaultValues(t *testing.T) {
	// 清除环境变量
	os.Clearenv()

	cfg, err := Load()
	require.NoError(t, err)

	assert.True(t, cfg.DBEnabled)
	assert.Equal(t, "localhost", cfg.Database.Host)
	assert.Equal(t, 5432, cfg.Database.Port)
	assert.Equal(t, "casedata", cfg.Database.Database)
	assert.Equal(t, "localhost:6379", cfg.Redis.Addr)
	assert.False(t, cfg.MQTT.Enabled)
	assert.Equal(t, "casedata/jobs/trigger", cfg.MQTT.Topic)

	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)

	assert.Equal(t, 3, cfg.Retry.MaxAttempts)
	assert.Equal(t, 30, cfg.Notification.ExpiryDays)
	assert.Equal(t, "casedata:lock:", cfg.Lock.KeyPrefix)
	assert.Equal(t, LockModeRedis, cfg.Lock.Mode)
	assert.False(t, cfg.Mailbox.DeleteUnmatched)
	assert.True(t, cfg.WebMessage.DeleteUnmatched)
	assert.Equal(t, "PRH", cfg.Numbering.Abbreviations["PARKING_PERMIT"])

	job := cfg.Jobs[JobMailboxIngestion]
	assert.True(t, job.Enabled)
	assert.Equal(t, time.Minute, job.Interval)
	assert.Equal(t, 2*time.Minute, job.LockAtMostFor)
	assert.Len(t, cfg.Jobs, 5)
}

func TestLoad_EnvironmentVariables(t *testing.T) {
	os.Clearenv()
	t.Setenv("DB_HOST", "db.internal")
	t.Setenv("DB_PORT", "6543")
	t.Setenv("REDIS_ADDR", "redis:6380")
	t.Setenv("RETRY_MAX_ATTEMPTS", "5")
	t.Setenv("JOB_SUSPENSION_INTERVAL", "30s")
	t.Setenv("JOB_WEBMESSAGE_ENABLED", "false")
	t.Setenv("MAILBOX_PARTITIONS", "2281:SBK_PARKING_PERMIT, 2262:SBK_MEX")
	t.Setenv("WEBMESSAGE_PARTITIONS", "2281:SBK_PARKING_PERMIT:external:123|456")
	t.Setenv("NUMBERING_ABBREVIATIONS", "APPEAL=OVK")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "db.internal", cfg.Database.Host)
	assert.Equal(t, 6543, cfg.Database.Port)
	assert.Equal(t, "redis:6380", cfg.Redis.Addr)
	assert.Equal(t, 5, cfg.Retry.MaxAttempts)
	assert.Equal(t, 30*time.Second, cfg.Jobs[JobSuspensionExpiry].Interval)
	assert.False(t, cfg.Jobs[JobWebMessageIngestion].Enabled)

	require.Len(t, cfg.Mailbox.Partitions, 2)
	assert.Equal(t, MailboxPartition{MunicipalityID: "2262", Namespace: "SBK_MEX"}, cfg.Mailbox.Partitions[1])

	require.Len(t, cfg.WebMessage.Partitions, 1)
	assert.Equal(t, "external", cfg.WebMessage.Partitions[0].Instance)
	assert.Equal(t, []string{"123", "456"}, cfg.WebMessage.Partitions[0].FamilyIDs)

	assert.Equal(t, map[string]string{"APPEAL": "OVK"}, cfg.Numbering.Abbreviations)
}

func TestLoad_InvalidPartitions(t *testing.T) {
	os.Clearenv()
	t.Setenv("MAILBOX_PARTITIONS", "2281")

	_, err := Load()
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "MAILBOX_PARTITIONS")
}

func TestValidate_RejectsZeroAttempts(t *testing.T) {
	os.Clearenv()
	t.Setenv("RETRY_MAX_ATTEMPTS", "0")

	_, err := Load()
	assert.Error(t, err)
}

func TestParseWebMessagePartitions(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    int
		wantErr bool
	}{
		{name: "empty", input: "", want: 0},
		{name: "two partitions", input: "2281:A:external:1;2262:B:internal:2|3", want: 2},
		{name: "missing family", input: "2281:A:external:", wantErr: true},
		{name: "too few parts", input: "2281:A", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseWebMessagePartitions(tt.input)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Len(t, got, tt.want)
		})
	}
}

func TestLoad_LockMode(t *testing.T) {
	os.Clearenv()
	t.Setenv("LOCK_MODE", "local")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, LockModeLocal, cfg.Lock.Mode)

	t.Setenv("LOCK_MODE", "zookeeper")
	_, err = Load()
	assert.Error(t, err)
}
