// Package sweeper 周期性清理过期的安装与 bundle，并刷新包注册表缓存。
package sweeper

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/sirupsen/logrus"
)

// InstallationEvictor 由 installation.Manager 实现。
type InstallationEvictor interface {
	EvictExpired() int
}

// BundleEvictor 由 bundle.Bundler 实现。
type BundleEvictor interface {
	EvictExpired(ctx context.Context) int
}

// Refresher 由 registry.Client 实现；返回值只用于日志。
type Refresher[T any] interface {
	Refresh(ctx context.Context) ([]T, error)
}

// Sweeper 包装 gocron 调度器，所有任务以单例模式运行，上一轮未结束时跳过本轮。
type Sweeper struct {
	scheduler gocron.Scheduler
	logger    *logrus.Logger
	// jobTimeout 约束单次任务执行时长。
	jobTimeout time.Duration
}

// New 创建调度器，调用 Start 后任务才会运行。
func New(logger *logrus.Logger, jobTimeout time.Duration) (*Sweeper, error) {
	s, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("failed to create gocron scheduler: %w", err)
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	if jobTimeout <= 0 {
		jobTimeout = time.Minute
	}
	return &Sweeper{scheduler: s, logger: logger, jobTimeout: jobTimeout}, nil
}

// Every 注册一个按固定间隔执行的任务，返回 job ID。
func (s *Sweeper) Every(name string, interval time.Duration, fn func(ctx context.Context)) (string, error) {
	if interval <= 0 {
		return "", errors.New("interval must be positive")
	}
	job, err := s.scheduler.NewJob(
		gocron.DurationJob(interval),
		gocron.NewTask(s.run, name, fn),
		gocron.WithName(name),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		return "", fmt.Errorf("failed to create %s job: %w", name, err)
	}
	return job.ID().String(), nil
}

// ScheduleEviction 注册安装与 bundle 的过期清理任务。
func (s *Sweeper) ScheduleEviction(interval time.Duration, installs InstallationEvictor, bundles BundleEvictor) error {
	if installs != nil {
		if _, err := s.Every("installation-eviction", interval, func(context.Context) {
			installs.EvictExpired()
		}); err != nil {
			return err
		}
	}
	if bundles != nil {
		if _, err := s.Every("bundle-eviction", interval, func(ctx context.Context) {
			bundles.EvictExpired(ctx)
		}); err != nil {
			return err
		}
	}
	return nil
}

// ScheduleRefresh 注册包注册表刷新任务；失败时保留旧列表，仅记录日志。
func ScheduleRefresh[T any](s *Sweeper, interval time.Duration, refresher Refresher[T]) error {
	_, err := s.Every("registry-refresh", interval, func(ctx context.Context) {
		list, err := refresher.Refresh(ctx)
		fields := logrus.Fields{"action": "registry_refresh"}
		if err != nil {
			s.logger.WithFields(fields).WithError(err).Warn("registry_refresh_failed")
			return
		}
		s.logger.WithFields(fields).WithField("packages", len(list)).Debug("registry_refreshed")
	})
	return err
}

// Start 启动调度器。
func (s *Sweeper) Start() {
	s.logger.WithField("action", "sweeper_start").Info("starting sweeper")
	s.scheduler.Start()
}

// Stop 等待运行中的任务结束后关闭调度器。
func (s *Sweeper) Stop() error {
	s.logger.WithField("action", "sweeper_stop").Info("stopping sweeper")
	return s.scheduler.Shutdown()
}

func (s *Sweeper) run(name string, fn func(ctx context.Context)) {
	ctx, cancel := context.WithTimeout(context.Background(), s.jobTimeout)
	defer cancel()
	started := time.Now()
	fn(ctx)
	s.logger.WithFields(logrus.Fields{
		"action":      "sweeper_job",
		"job":         name,
		"duration_ms": time.Since(started).Milliseconds(),
	}).Debug("sweeper job finished")
}
