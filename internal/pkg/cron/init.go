package cron

import log "log/slog"

// InitCron 注册并启动定时任务，调用方负责在退出时 Stop
func InitCron(mgr *Manager) error {
	if err := mgr.RegisterJobs(); err != nil {
		return err
	}
	mgr.Start()
	log.Info("Cron Jobs started", "entries", len(mgr.engine.Entries()))
	return nil
}
