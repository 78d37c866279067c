package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/marlin-tools/eeprom-backup/internal/backup"
	"github.com/marlin-tools/eeprom-backup/internal/mirror"
	"github.com/marlin-tools/eeprom-backup/internal/notification"
	"github.com/marlin-tools/eeprom-backup/internal/retention"
	"github.com/marlin-tools/eeprom-backup/internal/scheduler"
	"github.com/marlin-tools/eeprom-backup/internal/storage"
	"github.com/spf13/cobra"

	// Import notifiers for self-registration
	_ "github.com/marlin-tools/eeprom-backup/internal/notifiers"
)

var daemonCmd = &cobra.Command{
	Use:     "daemon",
	Short:   "Start the mirror daemon",
	Long:    "Start a daemon that pushes backups to every storage pool and enforces retention on a cron schedule.",
	Args:    cobra.NoArgs,
	PreRunE: applyDaemonFlags,
	RunE:    runDaemon,
}

var daemonRunOnStart bool

func init() {
	daemonCmd.Flags().StringVar(&cfg.MirrorSchedule, "mirror-schedule", cfg.MirrorSchedule, "Cron schedule for mirroring to storage pools")
	daemonCmd.Flags().StringVar(&cfg.RetentionSchedule, "retention-schedule", cfg.RetentionSchedule, "Cron schedule for retention")
	daemonCmd.Flags().IntVar(&cfg.Keep, "keep", cfg.Keep, "Local backups to keep (0 keeps all)")
	daemonCmd.Flags().IntVar(&cfg.RemoteKeep, "remote-keep", cfg.RemoteKeep, "Mirrored objects to keep per pool (0 keeps all)")
	daemonCmd.Flags().StringArrayVar(&cfg.NotifyArgs, "notify", []string{}, "Notification provider configuration (format: provider.option=value)")
	daemonCmd.Flags().BoolVar(&daemonRunOnStart, "run-on-start", false, "Run every job once at startup")
}

// applyDaemonFlags gives daemon flags precedence over the config file and environment
func applyDaemonFlags(cmd *cobra.Command, args []string) error {
	flags := cmd.Flags()

	if flags.Changed("mirror-schedule") {
		cfg.MirrorSchedule = flagConfig.MirrorSchedule
	}
	if flags.Changed("retention-schedule") {
		cfg.RetentionSchedule = flagConfig.RetentionSchedule
	}
	if flags.Changed("keep") {
		cfg.Keep = flagConfig.Keep
	}
	if flags.Changed("remote-keep") {
		cfg.RemoteKeep = flagConfig.RemoteKeep
	}

	return nil
}

func runDaemon(cmd *cobra.Command, args []string) error {
	slog.Info("starting eeprom-backup daemon",
		"data_dir", cfg.DataDir,
		"mirror_schedule", cfg.MirrorSchedule,
		"retention_schedule", cfg.RetentionSchedule,
	)

	pools, err := openPools()
	if err != nil {
		return err
	}

	slog.Info("configured storage pools", "count", pools.PoolCount())

	if err := cfg.ParseNotifyConfigs(); err != nil {
		return err
	}

	notifyMgr, err := notification.NewManagerFromConfig(cfg.NotifyConfigs, slog.Default())
	if err != nil {
		return err
	}

	for _, info := range notifyMgr.ListNotifiers() {
		slog.Info("notification provider configured", "name", info.Name, "type", info.Type)
	}

	h, err := openHandler()
	if err != nil {
		return err
	}

	sched := scheduler.New(slog.Default())
	retentionMgr := retention.New(h, pools, slog.Default())

	if err := addMirrorJobs(sched, h, pools, notifyMgr); err != nil {
		return err
	}

	if cfg.Keep > 0 || cfg.RemoteKeep > 0 {
		if err := sched.AddJob("retention", cfg.RetentionSchedule, retentionJob(retentionMgr, pools.Names(), notifyMgr)); err != nil {
			return err
		}
	}

	if daemonRunOnStart {
		for _, job := range sched.ListJobs() {
			if err := sched.RunNow(job.Name); err != nil {
				return err
			}
		}
	}

	// Start scheduler
	sched.Start()

	for _, job := range sched.ListJobs() {
		slog.Info("scheduled job", "job", job.Name, "schedule", job.Schedule, "next_run", job.NextRun)
	}

	// Wait for shutdown signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigChan
	slog.Info("received shutdown signal", "signal", sig)

	// Graceful shutdown
	select {
	case <-sched.Stop().Done():
	case <-time.After(30 * time.Second):
		slog.Warn("timed out waiting for running jobs")
	}

	slog.Info("daemon stopped")
	return nil
}

func addMirrorJobs(sched *scheduler.Scheduler, h *backup.Handler, pools *storage.PoolManager, notifyMgr *notification.Manager) error {
	for _, poolName := range pools.Names() {
		store, err := pools.Get(poolName)
		if err != nil {
			return err
		}

		syncer := mirror.New(h, store, poolName, slog.Default())
		jobName := "mirror:" + poolName

		err = sched.AddJob(jobName, cfg.MirrorSchedule, func(ctx context.Context) {
			start := time.Now()
			result, err := syncer.Push(ctx)

			event := notification.Event{
				Type:        notification.EventMirrorCompleted,
				Job:         jobName,
				Storage:     poolName,
				Transferred: result.Transferred,
				Skipped:     result.Skipped,
				Failed:      result.Failed,
				Duration:    time.Since(start),
				Timestamp:   time.Now(),
			}

			switch {
			case err != nil:
				slog.Error("mirror push failed", "storage", poolName, "error", err)
				event.Type = notification.EventMirrorFailed
				event.Error = err
			case result.Failed > 0:
				slog.Warn("mirror push completed with failures", "storage", poolName, "failed", result.Failed)
				event.Type = notification.EventMirrorFailed
			default:
				slog.Info("mirror push completed",
					"storage", poolName,
					"uploaded", result.Transferred,
					"skipped", result.Skipped,
				)
			}

			// Nothing new is not worth a message
			if event.Type == notification.EventMirrorCompleted && result.Transferred == 0 {
				return
			}
			notifyMgr.NotifyAll(ctx, event)
		})
		if err != nil {
			return fmt.Errorf("failed to schedule %s: %w", jobName, err)
		}
	}

	return nil
}

func retentionJob(m *retention.Manager, poolNames []string, notifyMgr *notification.Manager) scheduler.JobFunc {
	return func(ctx context.Context) {
		start := time.Now()
		event := notification.Event{
			Type: notification.EventRetentionCompleted,
			Job:  "retention",
		}

		if cfg.Keep > 0 {
			deleted, err := m.Prune(cfg.Keep)
			if err != nil {
				slog.Error("local retention failed", "error", err)
				event.Type = notification.EventRetentionFailed
				event.Error = err
			} else {
				slog.Info("local retention completed", "deleted", deleted, "keep", cfg.Keep)
				event.Deleted += deleted
			}
		}

		if cfg.RemoteKeep > 0 {
			for _, poolName := range poolNames {
				deleted, err := m.PruneRemote(ctx, poolName, cfg.RemoteKeep)
				if err != nil {
					slog.Error("remote retention failed", "storage", poolName, "error", err)
					event.Type = notification.EventRetentionFailed
					event.Error = errors.Join(event.Error, fmt.Errorf("%s: %w", poolName, err))
					continue
				}
				slog.Info("remote retention completed", "storage", poolName, "deleted", deleted, "keep", cfg.RemoteKeep)
				event.Deleted += deleted
			}
		}

		if event.Type == notification.EventRetentionCompleted && event.Deleted == 0 {
			return
		}

		event.Duration = time.Since(start)
		event.Timestamp = time.Now()
		notifyMgr.NotifyAll(ctx, event)
	}
}
