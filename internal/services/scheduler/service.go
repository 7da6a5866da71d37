package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log"
	"runtime/debug"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"github.com/datapilot-io/datapilot-ce/internal/metrics"
	"github.com/datapilot-io/datapilot-ce/internal/models"
)

// ErrInvalidCron is returned for expressions that are not valid 5-field
// cron (minute hour day month weekday). Rejected at create/update time,
// never at fire time.
var ErrInvalidCron = errors.New("invalid cron expression")

// OverlapPolicy decides what happens when a cron fire arrives while the
// previous run of the same task is still in flight. Either way the two
// never run in parallel.
type OverlapPolicy string

const (
	// OverlapSkip drops the new fire.
	OverlapSkip OverlapPolicy = "skip"
	// OverlapQueue blocks the new fire until the prior run finishes.
	OverlapQueue OverlapPolicy = "queue"
)

// TaskStore is the persistence contract the scheduler depends on.
type TaskStore interface {
	GetByID(ctx context.Context, id int) (*models.ScheduledTask, error)
	ListByStatus(ctx context.Context, status string) ([]*models.ScheduledTask, error)
	UpdateStatus(ctx context.Context, id int, status string) error
	UpdateLastExecuted(ctx context.Context, id int, executedAt time.Time) error
}

// ExecutionLogStore records job runs.
type ExecutionLogStore interface {
	Create(ctx context.Context, entry *models.TaskExecutionLog) (int, error)
	Finish(ctx context.Context, entry *models.TaskExecutionLog) error
}

// Status is the observability snapshot; reading it never mutates state.
type Status struct {
	Running     bool  `json:"running"`
	JobCount    int   `json:"job_count"`
	MappedTasks []int `json:"mapped_tasks"`
}

// Service owns the cron engine and the task-id to cron-entry mapping. All
// map mutations happen under one mutex so the mapping and the engine's
// live entry set can never drift apart. The service is constructed once by
// the process entry point and passed by handle; there is no package-level
// instance.
type Service struct {
	registry *Registry
	tasks    TaskStore
	logs     ExecutionLogStore
	cron     *cron.Cron
	parser   cron.Parser
	logger   *log.Logger
	location *time.Location
	overlap  OverlapPolicy
	slots    chan struct{}
	now      func() time.Time

	mu      sync.Mutex
	entries map[int]cron.EntryID
	gates   map[int]*sync.Mutex
	running bool

	rootCtx   context.Context
	startOnce sync.Once
	stopOnce  sync.Once
	wg        sync.WaitGroup
}

// NewService wires a scheduler around the task and log stores.
func NewService(registry *Registry, tasks TaskStore, logs ExecutionLogStore, opts ...Option) *Service {
	options := defaultOptions()
	for _, opt := range opts {
		opt(&options)
	}

	location := options.Location
	if location == nil {
		location = time.UTC
	}
	cronEngine := options.Cron
	if cronEngine == nil {
		cronEngine = cron.New(cron.WithLocation(location))
	}
	var zeroParser cron.Parser
	parser := options.Parser
	if parser == zeroParser {
		// Exactly 5 fields, no @descriptors: matches the stored
		// cron_expression contract.
		parser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	}

	workers := options.Workers
	if workers <= 0 {
		workers = 10
	}
	overlap := options.Overlap
	if overlap != OverlapQueue {
		overlap = OverlapSkip
	}
	nowFn := options.Now
	if nowFn == nil {
		nowFn = time.Now
	}

	return &Service{
		registry: registry,
		tasks:    tasks,
		logs:     logs,
		cron:     cronEngine,
		parser:   parser,
		logger:   options.Logger,
		location: location,
		overlap:  overlap,
		slots:    make(chan struct{}, workers),
		now:      nowFn,
		entries:  make(map[int]cron.EntryID),
		gates:    make(map[int]*sync.Mutex),
	}
}

// Start begins firing schedules. Idempotent; the context bounds every job
// execution started afterwards.
func (s *Service) Start(ctx context.Context) {
	s.startOnce.Do(func() {
		s.mu.Lock()
		s.rootCtx = ctx
		s.running = true
		s.mu.Unlock()
		s.cron.Start()
		s.logger.Printf("scheduler: started")
	})
}

// Stop halts the schedule loop and waits briefly for in-flight jobs.
// Already-running invocations are never interrupted mid-run.
func (s *Service) Stop() {
	s.stopOnce.Do(func() {
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()

		stopCtx := s.cron.Stop()
		done := make(chan struct{})
		go func() {
			s.wg.Wait()
			close(done)
		}()
		for _, ch := range []<-chan struct{}{stopCtx.Done(), done} {
			select {
			case <-ch:
			case <-time.After(5 * time.Second):
				s.logger.Printf("scheduler: timed out waiting for jobs to finish")
				return
			}
		}
		s.logger.Printf("scheduler: stopped")
	})
}

// LoadActiveTasks reinstalls a handle for every persisted Active task,
// discarding any stale mapping first. Called once at startup.
func (s *Service) LoadActiveTasks(ctx context.Context) (int, error) {
	active, err := s.tasks.ListByStatus(ctx, models.TaskStatusActive)
	if err != nil {
		return 0, fmt.Errorf("failed to load active tasks: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for id, entryID := range s.entries {
		s.cron.Remove(entryID)
		delete(s.entries, id)
	}

	loaded := 0
	for _, task := range active {
		if err := s.applyLocked(task); err != nil {
			s.logger.Printf("scheduler: skipping task %d (%s): %v", task.ID, task.Name, err)
			continue
		}
		loaded++
	}
	s.logger.Printf("scheduler: loaded %d active task(s)", loaded)
	return loaded, nil
}

// Apply installs, replaces, or removes the cron handle so it matches the
// task's desired status. Replace-on-update: an existing handle for the
// same task id is always removed first, so a task is never double
// scheduled.
func (s *Service) Apply(task *models.ScheduledTask) error {
	if task == nil || task.ID == 0 {
		return errors.New("task must be persisted before scheduling")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.applyLocked(task)
}

func (s *Service) applyLocked(task *models.ScheduledTask) error {
	schedule, err := s.parser.Parse(task.CronExpression)
	if err != nil {
		return fmt.Errorf("%w: %q: %v", ErrInvalidCron, task.CronExpression, err)
	}

	if entryID, ok := s.entries[task.ID]; ok {
		s.cron.Remove(entryID)
		delete(s.entries, task.ID)
	}

	if task.Status != models.TaskStatusActive {
		return nil
	}

	// Fail fast on a job name that was never registered.
	if _, err := s.registry.Resolve(task.JobName); err != nil {
		return err
	}

	taskID := task.ID
	entryID := s.cron.Schedule(schedule, cron.FuncJob(func() {
		s.execute(taskID, true)
	}))
	s.entries[taskID] = entryID
	s.logger.Printf("scheduler: scheduled task %d (%s) with cron %q", task.ID, task.Name, task.CronExpression)
	return nil
}

// Remove drops the handle and forgets the mapping. The task row itself is
// the caller's to delete; an in-flight run completes and its log entry is
// finalized normally.
func (s *Service) Remove(taskID int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if entryID, ok := s.entries[taskID]; ok {
		s.cron.Remove(entryID)
		delete(s.entries, taskID)
		s.logger.Printf("scheduler: removed task %d", taskID)
	}
	// The overlap gate stays: an in-flight run may still hold it, and a
	// task recreated under the same id must keep serializing against it.
}

// Pause suspends the live handle without touching the cron definition.
func (s *Service) Pause(ctx context.Context, taskID int) error {
	task, err := s.tasks.GetByID(ctx, taskID)
	if err != nil {
		return err
	}

	s.mu.Lock()
	if entryID, ok := s.entries[taskID]; ok {
		s.cron.Remove(entryID)
		delete(s.entries, taskID)
	}
	s.mu.Unlock()

	if err := s.tasks.UpdateStatus(ctx, taskID, models.TaskStatusPaused); err != nil {
		return err
	}
	s.logger.Printf("scheduler: paused task %d (%s)", taskID, task.Name)
	return nil
}

// Resume reinstalls the handle and reactivates the task.
func (s *Service) Resume(ctx context.Context, taskID int) error {
	task, err := s.tasks.GetByID(ctx, taskID)
	if err != nil {
		return err
	}

	task.Status = models.TaskStatusActive
	s.mu.Lock()
	err = s.applyLocked(task)
	s.mu.Unlock()
	if err != nil {
		return err
	}

	if err := s.tasks.UpdateStatus(ctx, taskID, models.TaskStatusActive); err != nil {
		return err
	}
	s.logger.Printf("scheduler: resumed task %d (%s)", taskID, task.Name)
	return nil
}

// RunNow executes the task immediately on a worker, out of band from its
// cron schedule. It never blocks the caller, does not move the next cron
// fire, and is exempt from the per-task overlap serialization.
func (s *Service) RunNow(ctx context.Context, taskID int) error {
	if _, err := s.tasks.GetByID(ctx, taskID); err != nil {
		return err
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.execute(taskID, false)
	}()
	return nil
}

// Status reports the runtime snapshot.
func (s *Service) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	mapped := make([]int, 0, len(s.entries))
	for id := range s.entries {
		mapped = append(mapped, id)
	}
	sort.Ints(mapped)
	return Status{
		Running:     s.running,
		JobCount:    len(s.cron.Entries()),
		MappedTasks: mapped,
	}
}

// JobNames lists the registered job bodies.
func (s *Service) JobNames() []string {
	return s.registry.Names()
}

func (s *Service) gate(taskID int) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	g, ok := s.gates[taskID]
	if !ok {
		g = &sync.Mutex{}
		s.gates[taskID] = g
	}
	return g
}

// execute is the uniform job wrapper: one RUNNING log row at start, exactly
// one terminal row at the end, panic contained, lastExecutedAt stamped only
// on completion. scheduled marks cron-triggered fires, which additionally
// honor the per-task overlap policy.
func (s *Service) execute(taskID int, scheduled bool) {
	s.mu.Lock()
	ctx := s.rootCtx
	s.mu.Unlock()
	if ctx == nil {
		ctx = context.Background()
	}

	task, err := s.tasks.GetByID(ctx, taskID)
	if err != nil {
		s.logger.Printf("scheduler: task %d vanished before execution: %v", taskID, err)
		return
	}

	if scheduled {
		gate := s.gate(taskID)
		if s.overlap == OverlapQueue {
			gate.Lock()
		} else if !gate.TryLock() {
			s.logger.Printf("scheduler: task %d (%s) still running, skipping fire", taskID, task.Name)
			return
		}
		defer gate.Unlock()
	}

	s.slots <- struct{}{}
	defer func() { <-s.slots }()

	runID := uuid.NewString()
	start := s.now().In(s.location)
	entry := &models.TaskExecutionLog{
		TaskID:    taskID,
		Status:    models.ExecutionStatusRunning,
		Message:   "run " + runID,
		StartedAt: start,
	}
	if _, err := s.logs.Create(ctx, entry); err != nil {
		s.logger.Printf("scheduler: failed to open execution log for task %d: %v", taskID, err)
	}

	var summary string
	var runErr error
	fn, err := s.registry.Resolve(task.JobName)
	if err != nil {
		runErr = err
	} else {
		func() {
			defer func() {
				if r := recover(); r != nil {
					runErr = fmt.Errorf("panic: %v\n%s", r, debug.Stack())
				}
			}()
			summary, runErr = fn(ctx, task.ParamsMap())
		}()
	}

	finish := s.now().In(s.location)
	status := models.ExecutionStatusSuccess
	message := summary
	if message == "" {
		message = "completed"
	}
	if runErr != nil {
		status = models.ExecutionStatusFailure
		message = runErr.Error()
	}

	entry.Finalize(status, message, finish)
	if entry.ID != 0 {
		if err := s.logs.Finish(ctx, entry); err != nil {
			s.logger.Printf("scheduler: failed to finalize execution log %d: %v", entry.ID, err)
		}
	}
	if err := s.tasks.UpdateLastExecuted(ctx, taskID, finish); err != nil {
		s.logger.Printf("scheduler: failed to stamp task %d: %v", taskID, err)
	}

	metrics.JobRunsTotal.WithLabelValues(task.JobName, strings.ToLower(status)).Inc()
	metrics.JobDurationSeconds.WithLabelValues(task.JobName).Observe(finish.Sub(start).Seconds())
	s.logger.Printf("scheduler: task %d (%s) finished run %s: %s in %.2fs", taskID, task.Name, runID, strings.ToLower(status), finish.Sub(start).Seconds())
}
