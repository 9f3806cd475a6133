package scheduler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"casedata-engine/internal/lock"

	"go.uber.org/zap"
)

// ErrUnknownJob 未注册的任务
var ErrUnknownJob = errors.New("unknown job")

// Job 定时任务
type Job struct {
	Name          string
	Interval      time.Duration
	LockAtMostFor time.Duration
	Run           func(ctx context.Context) error
}

// Scheduler 按间隔触发任务；每次执行都经过分布式锁，集群内同名任务同一时刻最多执行一次
type Scheduler struct {
	locker lock.Locker
	logger *zap.Logger

	mu   sync.RWMutex
	jobs map[string]Job
	wg   sync.WaitGroup
}

// New 创建调度器
func New(locker lock.Locker, logger *zap.Logger) *Scheduler {
	return &Scheduler{
		locker: locker,
		logger: logger,
		jobs:   map[string]Job{},
	}
}

// Register 注册任务（同名覆盖）
func (s *Scheduler) Register(job Job) error {
	if job.Name == "" || job.Run == nil {
		return fmt.Errorf("job name and run func are required")
	}
	if job.Interval <= 0 || job.LockAtMostFor <= 0 {
		return fmt.Errorf("job %s: interval and lock duration must be positive", job.Name)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[job.Name] = job
	return nil
}

// Jobs 已注册的任务名（排序）
func (s *Scheduler) Jobs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	names := make([]string, 0, len(s.jobs))
	for name := range s.jobs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Start 为每个任务启动一个 ticker goroutine，ctx 取消后退出
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, job := range s.jobs {
		job := job
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.loop(ctx, job)
		}()
	}
	s.logger.Info("Scheduler started", zap.Int("jobs", len(s.jobs)))
}

// Wait 等待所有任务 goroutine 退出
func (s *Scheduler) Wait() {
	s.wg.Wait()
}

func (s *Scheduler) loop(ctx context.Context, job Job) {
	ticker := time.NewTicker(job.Interval)
	defer ticker.Stop()

	s.logger.Info("Job scheduled",
		zap.String("job", job.Name),
		zap.Duration("interval", job.Interval),
		zap.Duration("lock_at_most_for", job.LockAtMostFor),
	)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.execute(ctx, job)
		}
	}
}

// Trigger 立即执行一次任务（同样经过锁）
func (s *Scheduler) Trigger(ctx context.Context, name string) error {
	s.mu.RLock()
	job, ok := s.jobs[name]
	s.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownJob, name)
	}

	s.execute(ctx, job)
	return nil
}

// execute 锁被其他实例持有不是错误，本次直接跳过
func (s *Scheduler) execute(ctx context.Context, job Job) {
	start := time.Now()
	acquired, err := s.locker.WithLock(ctx, job.Name, job.LockAtMostFor, job.Run)
	if !acquired {
		if err != nil {
			s.logger.Error("Failed to acquire job lock",
				zap.String("job", job.Name),
				zap.Error(err),
			)
			return
		}
		s.logger.Debug("Job skipped, lock held elsewhere", zap.String("job", job.Name))
		return
	}

	if err != nil {
		s.logger.Error("Job failed",
			zap.String("job", job.Name),
			zap.Duration("duration", time.Since(start)),
			zap.Error(err),
		)
		return
	}
	s.logger.Debug("Job finished",
		zap.String("job", job.Name),
		zap.Duration("duration", time.Since(start)),
	)
}

// triggerPayload MQTT 触发消息 {"job":"<name>"}
type triggerPayload struct {
	Job string `json:"job"`
}

// TriggerHandler 返回 MQTT 消息处理函数，收到消息后立即执行对应任务
func (s *Scheduler) TriggerHandler(ctx context.Context) func(topic string, payload []byte) error {
	return func(topic string, payload []byte) error {
		var p triggerPayload
		if err := json.Unmarshal(payload, &p); err != nil {
			return fmt.Errorf("invalid trigger payload on %s: %w", topic, err)
		}
		if p.Job == "" {
			return fmt.Errorf("trigger payload on %s has no job", topic)
		}

		s.logger.Info("Job triggered", zap.String("job", p.Job), zap.String("topic", topic))
		return s.Trigger(ctx, p.Job)
	}
}
