package scheduler

import (
	"context"
	"fmt"
	"os"
	"runtime"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/bowerhall/contextbank/internal/agents"
	"github.com/bowerhall/contextbank/internal/config"
	"github.com/bowerhall/contextbank/internal/ingest"
	"github.com/bowerhall/contextbank/internal/logger"
	"github.com/bowerhall/contextbank/internal/storage"
)

// Scheduler owns the background jobs: warming the bank on an interval,
// nightly retention, periodic snapshots to the archive, and a heartbeat
// with host resource usage.
type Scheduler struct {
	cron      *cron.Cron
	query     *agents.QueryAgent
	retention *ingest.Retention
	archive   *storage.Archive
	storePath string
	userIDs   []string
}

func New(query *agents.QueryAgent, retention *ingest.Retention, archive *storage.Archive, storePath string, userIDs []string) *Scheduler {
	return &Scheduler{
		cron:      cron.New(),
		query:     query,
		retention: retention,
		archive:   archive,
		storePath: storePath,
		userIDs:   userIDs,
	}
}

// Start registers the jobs and begins the schedule. Invalid expressions
// fail fast.
func (s *Scheduler) Start(cfg config.ScheduleConfig) error {
	jobs := []struct {
		name string
		spec string
		run  func()
	}{
		{"warm", cfg.Warm, s.runWarm},
		{"retention", cfg.Retention, s.runRetention},
		{"heartbeat", cfg.Heartbeat, s.runHeartbeat},
	}
	if s.archive != nil {
		jobs = append(jobs, struct {
			name string
			spec string
			run  func()
		}{"snapshot", cfg.Snapshot, s.runSnapshot})
	}

	for _, job := range jobs {
		if job.spec == "" {
			continue
		}
		if _, err := s.cron.AddFunc(job.spec, job.run); err != nil {
			return fmt.Errorf("schedule %s (%q): %w", job.name, job.spec, err)
		}
		logger.Info("job scheduled", "job", job.name, "spec", job.spec)
	}

	s.cron.Start()
	return nil
}

func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
}

func (s *Scheduler) runWarm() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	for _, userID := range s.userIDs {
		if _, err := s.query.Warm(ctx, userID); err != nil {
			logger.Error("warm job failed", "user", userID, "error", err)
		}
	}
}

func (s *Scheduler) runRetention() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	for _, userID := range s.userIDs {
		if _, err := s.retention.Run(ctx, userID); err != nil {
			logger.Error("retention job failed", "user", userID, "error", err)
		}
	}
}

// runSnapshot copies the store file into the archive. WAL checkpointing is
// left to sqlite; a snapshot taken mid-write is still a readable database.
func (s *Scheduler) runSnapshot() {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	data, err := os.ReadFile(s.storePath)
	if err != nil {
		logger.Error("snapshot read failed", "path", s.storePath, "error", err)
		return
	}

	name := fmt.Sprintf("snapshots/contextbank-%s.db", time.Now().UTC().Format("20060102-150405"))
	if err := s.archive.Upload(ctx, name, data, "application/vnd.sqlite3"); err != nil {
		logger.Error("snapshot upload failed", "name", name, "error", err)
		return
	}

	logger.Info("snapshot archived", "name", name, "size", len(data))
}

func (s *Scheduler) runHeartbeat() {
	hostname, _ := os.Hostname()

	cpuPercent, _ := cpu.Percent(time.Second, false)
	cpuUsage := 0.0
	if len(cpuPercent) > 0 {
		cpuUsage = cpuPercent[0]
	}

	memInfo, _ := mem.VirtualMemory()
	diskInfo, _ := disk.Usage("/")

	fields := []any{
		"hostname", hostname,
		"os", runtime.GOOS,
		"arch", runtime.GOARCH,
		"cpu_percent", cpuUsage,
	}
	if memInfo != nil {
		fields = append(fields, "mem_used_percent", memInfo.UsedPercent)
	}
	if diskInfo != nil {
		fields = append(fields, "disk_free", diskInfo.Free)
	}

	logger.Info("heartbeat", fields...)
}
