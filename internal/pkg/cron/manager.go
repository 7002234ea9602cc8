package cron

import (
	"Parley/internal/job"
	log "log/slog"

	"github.com/robfig/cron/v3"
)

type Manager struct {
	engine        *cron.Cron
	retryDrainJob *job.RetryDrainJob
	drainSpec     string
}

// NewCronManager drainSpec 为空时不注册重放任务
func NewCronManager(retryDrainJob *job.RetryDrainJob, drainSpec string) *Manager {
	return &Manager{
		engine:        cron.New(cron.WithSeconds(), cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger))),
		retryDrainJob: retryDrainJob,
		drainSpec:     drainSpec,
	}
}

// RegisterJobs 注册定时任务
func (s *Manager) RegisterJobs() error {
	if s.drainSpec == "" {
		return nil
	}
	if _, err := s.engine.AddJob(s.drainSpec, s.retryDrainJob); err != nil {
		return err
	}
	log.Info("cron job registered", "job", "retry_drain", "spec", s.drainSpec)
	return nil
}

func (s *Manager) Start() {
	log.Info("Cron 定时任务引擎启动")
	s.engine.Start()
}

func (s *Manager) Stop() {
	log.Info("Cron 定时任务引擎停止")
	<-s.engine.Stop().Done()
}
