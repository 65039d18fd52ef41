// Package cron runs scheduled jobs: standard cron expressions through
// robfig/cron, plus fixed intervals and one-shot times through a tick loop.
package cron

import (
	"context"
	"fmt"
	"sync"
	"time"

	rcron "github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/stellarlinkco/ircrelay/internal/memory"
)

// DocJobs is the persisted document holding every job.
const DocJobs = "jobs"

// Handler runs one job and returns a short result for the log.
type Handler func(ctx context.Context, job CronJob) (string, error)

type Service struct {
	store    memory.Persister
	logger   *zap.Logger
	mu       sync.Mutex
	jobs     []CronJob
	OnJob    Handler
	cron     *rcron.Cron
	entryMap map[string]rcron.EntryID // job ID -> cron entry ID
	runCtx   context.Context
	cancel   context.CancelFunc
	stopCh   chan struct{}

	tick time.Duration
	now  func() time.Time
}

func NewService(store memory.Persister, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		store:    store,
		logger:   logger,
		entryMap: make(map[string]rcron.EntryID),
		runCtx:   context.Background(),
		tick:     time.Second,
		now:      time.Now,
	}
}

// Load reads persisted jobs without starting anything. Start calls it.
func (s *Service) Load() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.load()
}

func (s *Service) Start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	stopCh := make(chan struct{})

	if err := s.Load(); err != nil {
		s.logger.Warn("failed to load jobs", zap.Error(err))
	}

	s.mu.Lock()
	s.runCtx = runCtx
	s.cancel = cancel
	s.stopCh = stopCh
	s.cron = rcron.New(rcron.WithSeconds())
	for i := range s.jobs {
		if s.jobs[i].Enabled && s.jobs[i].Schedule.Kind == KindCron {
			s.registerJob(&s.jobs[i])
		}
	}
	count := len(s.jobs)
	s.mu.Unlock()

	s.cron.Start()
	s.logger.Info("started", zap.Int("jobs", count))

	go s.tickLoop(runCtx)

	go func() {
		select {
		case <-ctx.Done():
			s.Stop()
		case <-stopCh:
			return
		}
	}()

	return nil
}

// registerJob must be called with s.mu held.
func (s *Service) registerJob(job *CronJob) {
	jobCopy := *job
	id, err := s.cron.AddFunc(job.Schedule.Expr, func() {
		s.executeJob(jobCopy)
	})
	if err != nil {
		s.logger.Error("failed to register job",
			zap.String("job", job.Name),
			zap.String("expr", job.Schedule.Expr),
			zap.Error(err),
		)
		return
	}
	s.entryMap[job.ID] = id
}

func (s *Service) executeJob(job CronJob) {
	log := s.logger.With(zap.String("job", job.Name), zap.String("id", job.ID))
	log.Info("executing job")

	if s.OnJob == nil {
		log.Warn("no job handler set")
		return
	}

	s.mu.Lock()
	ctx := s.runCtx
	s.mu.Unlock()

	result, err := s.OnJob(ctx, job)

	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.jobs {
		if s.jobs[i].ID != job.ID {
			continue
		}
		s.jobs[i].State.LastRunAtMs = s.now().UnixMilli()
		if err != nil {
			s.jobs[i].State.LastStatus = "error"
			s.jobs[i].State.LastError = err.Error()
			log.Error("job failed", zap.Error(err))
		} else {
			s.jobs[i].State.LastStatus = "ok"
			s.jobs[i].State.LastError = ""
			log.Info("job finished", zap.String("result", truncate(result, 100)))
		}

		if s.jobs[i].DeleteAfterRun {
			s.unregister(job.ID)
			s.jobs = append(s.jobs[:i], s.jobs[i+1:]...)
		}
		break
	}

	if err := s.save(); err != nil {
		log.Warn("failed to save jobs", zap.Error(err))
	}
}

func (s *Service) tickLoop(ctx context.Context) {
	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if ctx.Err() != nil {
				return
			}
			for _, job := range s.dueJobs() {
				s.executeJob(job)
			}
		case <-ctx.Done():
			return
		}
	}
}

// dueJobs collects interval and one-shot jobs that should fire now. One-shot
// jobs are disabled as they are collected so they fire once.
func (s *Service) dueJobs() []CronJob {
	now := s.now().UnixMilli()
	s.mu.Lock()
	defer s.mu.Unlock()

	var due []CronJob
	for i := range s.jobs {
		job := &s.jobs[i]
		if !job.Enabled {
			continue
		}
		switch job.Schedule.Kind {
		case KindEvery:
			if job.Schedule.EveryMs > 0 {
				last := job.State.LastRunAtMs
				if last == 0 {
					last = job.CreatedAtMs
				}
				if now >= last+job.Schedule.EveryMs {
					due = append(due, *job)
				}
			}
		case KindAt:
			if job.Schedule.AtMs > 0 && now >= job.Schedule.AtMs {
				job.Enabled = false
				due = append(due, *job)
			}
		}
	}
	return due
}

func (s *Service) Stop() {
	s.mu.Lock()
	cancel := s.cancel
	stopCh := s.stopCh
	s.cancel = nil
	s.stopCh = nil
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	if stopCh != nil {
		close(stopCh)
	}

	if s.cron != nil {
		stopCtx := s.cron.Stop()
		select {
		case <-stopCtx.Done():
		case <-time.After(5 * time.Second):
			s.logger.Warn("stop timeout waiting for running jobs")
		}
	}
	s.logger.Info("stopped")
}

func (s *Service) AddJob(name string, schedule Schedule, payload Payload) (*CronJob, error) {
	if err := schedule.Validate(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	job := NewCronJob(name, schedule, payload)
	job.CreatedAtMs = s.now().UnixMilli()
	job.DeleteAfterRun = schedule.Kind == KindAt
	s.jobs = append(s.jobs, job)

	if job.Schedule.Kind == KindCron && s.cron != nil {
		s.registerJob(&s.jobs[len(s.jobs)-1])
	}

	if err := s.save(); err != nil {
		return nil, fmt.Errorf("save jobs: %w", err)
	}

	return &job, nil
}

// EnsureJob adds a job unless one with the same name or message exists.
func (s *Service) EnsureJob(name string, schedule Schedule, payload Payload) (*CronJob, bool, error) {
	for _, job := range s.ListJobs() {
		if job.Name == name || job.Payload.Message == payload.Message {
			return &job, false, nil
		}
	}
	job, err := s.AddJob(name, schedule, payload)
	if err != nil {
		return nil, false, err
	}
	return job, true, nil
}

func (s *Service) RemoveJob(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i, job := range s.jobs {
		if job.ID == id {
			s.unregister(id)
			s.jobs = append(s.jobs[:i], s.jobs[i+1:]...)
			if err := s.save(); err != nil {
				s.logger.Warn("failed to save jobs", zap.Error(err))
			}
			return true
		}
	}
	return false
}

func (s *Service) ListJobs() []CronJob {
	s.mu.Lock()
	defer s.mu.Unlock()
	result := make([]CronJob, len(s.jobs))
	copy(result, s.jobs)
	return result
}

func (s *Service) EnableJob(id string, enabled bool) (*CronJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.jobs {
		if s.jobs[i].ID != id {
			continue
		}
		s.jobs[i].Enabled = enabled
		if s.jobs[i].Schedule.Kind == KindCron && s.cron != nil {
			if enabled {
				if _, ok := s.entryMap[id]; !ok {
					s.registerJob(&s.jobs[i])
				}
			} else {
				s.unregister(id)
			}
		}
		if err := s.save(); err != nil {
			return nil, fmt.Errorf("save jobs: %w", err)
		}
		job := s.jobs[i]
		return &job, nil
	}
	return nil, fmt.Errorf("job %s not found", id)
}

// unregister must be called with s.mu held.
func (s *Service) unregister(id string) {
	if entryID, ok := s.entryMap[id]; ok {
		if s.cron != nil {
			s.cron.Remove(entryID)
		}
		delete(s.entryMap, id)
	}
}

func (s *Service) load() error {
	var jobs []CronJob
	if _, err := s.store.Load(DocJobs, &jobs); err != nil {
		return err
	}
	s.jobs = jobs
	return nil
}

func (s *Service) save() error {
	jobs := s.jobs
	if jobs == nil {
		jobs = []CronJob{}
	}
	return s.store.Save(DocJobs, jobs)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
