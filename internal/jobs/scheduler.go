package jobs

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/robfig/cron/v3"
)

// Job interface that all scheduled jobs must implement
type Job interface {
	Name() string
	Run(ctx context.Context) error
}

var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// ValidateCron checks a five-field cron expression
func ValidateCron(expr string) error {
	if _, err := cronParser.Parse(expr); err != nil {
		return fmt.Errorf("invalid cron expression %q: %w", expr, err)
	}
	return nil
}

// NextRunTime returns the first activation of expr after from
func NextRunTime(expr string, from time.Time) (time.Time, error) {
	schedule, err := cronParser.Parse(expr)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid cron expression %q: %w", expr, err)
	}
	return schedule.Next(from), nil
}

type registeredJob struct {
	job      Job
	cronExpr string
}

// JobScheduler runs registered jobs on cron schedules (UTC)
type JobScheduler struct {
	scheduler gocron.Scheduler
	jobs      map[string]registeredJob
	ctx       context.Context
	cancel    context.CancelFunc
	mu        sync.Mutex
	running   bool
}

// NewJobScheduler creates a new job scheduler
func NewJobScheduler() (*JobScheduler, error) {
	scheduler, err := gocron.NewScheduler(gocron.WithLocation(time.UTC))
	if err != nil {
		return nil, fmt.Errorf("failed to create scheduler: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &JobScheduler{
		scheduler: scheduler,
		jobs:      make(map[string]registeredJob),
		ctx:       ctx,
		cancel:    cancel,
	}, nil
}

// Register adds a job on a cron schedule. Overlapping runs of the same job
// are skipped rather than queued.
func (s *JobScheduler) Register(job Job, cronExpr string) error {
	if err := ValidateCron(cronExpr); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.jobs[job.Name()]; exists {
		return fmt.Errorf("job %s already registered", job.Name())
	}

	_, err := s.scheduler.NewJob(
		gocron.CronJob(cronExpr, false),
		gocron.NewTask(func() {
			s.runJob(job)
		}),
		gocron.WithName(job.Name()),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		return fmt.Errorf("failed to create job %s: %w", job.Name(), err)
	}

	s.jobs[job.Name()] = registeredJob{job: job, cronExpr: cronExpr}
	log.Printf("✅ [SCHEDULER] Registered job: %s (cron: %s)", job.Name(), cronExpr)
	return nil
}

// Start begins running all registered jobs
func (s *JobScheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return
	}

	s.running = true
	s.scheduler.Start()
	log.Printf("🚀 [SCHEDULER] Starting job scheduler with %d jobs", len(s.jobs))
}

// runJob executes a job with logging
func (s *JobScheduler) runJob(job Job) {
	log.Printf("▶️  [SCHEDULER] Running job: %s", job.Name())
	startTime := time.Now()

	if err := job.Run(s.ctx); err != nil {
		log.Printf("❌ [SCHEDULER] Job '%s' failed: %v", job.Name(), err)
		return
	}

	log.Printf("✅ [SCHEDULER] Job '%s' completed in %v", job.Name(), time.Since(startTime))
}

// Stop cancels running jobs and waits for them to return
func (s *JobScheduler) Stop() error {
	s.mu.Lock()
	s.running = false
	s.mu.Unlock()

	log.Println("🛑 [SCHEDULER] Stopping job scheduler...")
	s.cancel()
	if err := s.scheduler.Shutdown(); err != nil {
		return fmt.Errorf("failed to stop scheduler: %w", err)
	}

	log.Println("✅ [SCHEDULER] Job scheduler stopped")
	return nil
}

// RunNow immediately runs a specific job
func (s *JobScheduler) RunNow(ctx context.Context, name string) error {
	s.mu.Lock()
	registered, exists := s.jobs[name]
	s.mu.Unlock()

	if !exists {
		return fmt.Errorf("job %s not found", name)
	}

	log.Printf("🚀 [SCHEDULER] Running job '%s' immediately", name)
	return registered.job.Run(ctx)
}

// GetStatus returns the status of all jobs
func (s *JobScheduler) GetStatus() map[string]JobStatus {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	status := make(map[string]JobStatus, len(s.jobs))
	for name, registered := range s.jobs {
		next, _ := NextRunTime(registered.cronExpr, now)
		status[name] = JobStatus{
			Name:        name,
			Cron:        registered.cronExpr,
			NextRunTime: next,
			Registered:  true,
		}
	}

	return status
}

// JobStatus represents the status of a job
type JobStatus struct {
	Name        string    `json:"name"`
	Cron        string    `json:"cron"`
	NextRunTime time.Time `json:"next_run_time"`
	Registered  bool      `json:"registered"`
}
