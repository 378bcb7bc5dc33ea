// Package scheduler turns persisted daily tasks into live timers and raises
// mailbox commands when they fire.
//
// Timers are kept in an index keyed by device, kind and task id. The index is
// only mutated under the owning device's lock, and a fire re-checks the index
// under the same lock, so a task paused or deleted never triggers afterwards.
package scheduler

import (
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"power-backend/internal/clock"
	apperrors "power-backend/internal/errors"
	"power-backend/internal/models"
	"power-backend/internal/registry"
)

var errStaleTimer = errors.New("timer no longer live")

type timerKey struct {
	deviceID string
	kind     models.TaskKind
	taskID   string
}

// Scheduler owns every live daily timer
type Scheduler struct {
	registry *registry.Registry
	clock    clock.Clock
	location *time.Location

	mu      sync.Mutex
	timers  map[timerKey]*dailyTimer
	stopped bool
}

// Option configures a Scheduler
type Option func(*Scheduler)

// WithLocation sets the time zone daily tasks are evaluated in
func WithLocation(loc *time.Location) Option {
	return func(s *Scheduler) {
		if loc != nil {
			s.location = loc
		}
	}
}

// New creates a scheduler sharing the registry's clock
func New(reg *registry.Registry, opts ...Option) *Scheduler {
	s := &Scheduler{
		registry: reg,
		clock:    reg.Clock(),
		location: time.Local,
		timers:   make(map[timerKey]*dailyTimer),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Create appends an active daily task to the device and arms its timer
func (s *Scheduler) Create(deviceID string, kind models.TaskKind, hour, minute int) (models.Task, error) {
	if err := validateKind(kind); err != nil {
		return models.Task{}, err
	}
	if hour < 0 || hour > 23 {
		return models.Task{}, apperrors.InvalidInput("hour must be between 0 and 23, got %d", hour)
	}
	if minute < 0 || minute > 59 {
		return models.Task{}, apperrors.InvalidInput("minute must be between 0 and 59, got %d", minute)
	}

	var created models.Task
	err := s.registry.Update(deviceID, func(tx *registry.Tx) error {
		if err := registry.AdmitTask(tx.Device, kind); err != nil {
			return err
		}

		created = models.Task{
			ID:        uuid.NewString(),
			Hour:      hour,
			Minute:    minute,
			Active:    true,
			CreatedAt: tx.Now,
		}
		tasks := tx.Device.Tasks(kind)
		*tasks = append(*tasks, created)

		s.arm(timerKey{deviceID, kind, created.ID}, hour, minute)
		tx.Emit(models.EventTaskCreated, kind, models.SourceAdmin, fmt.Sprintf("task %s at %02d:%02d", created.ID, hour, minute))
		return nil
	})
	if err != nil {
		return models.Task{}, err
	}

	log.Printf("Scheduler: Created %s task %s for %s at %02d:%02d", kind, created.ID, deviceID, hour, minute)
	return created, nil
}

// List reports the device's tasks of one kind with their timer state
func (s *Scheduler) List(deviceID string, kind models.TaskKind) ([]models.TaskStatus, error) {
	if err := validateKind(kind); err != nil {
		return nil, err
	}

	statuses := make([]models.TaskStatus, 0)
	err := s.registry.View(deviceID, func(d *models.Device) error {
		for _, task := range *d.Tasks(kind) {
			status := models.TaskStatus{Task: task, Kind: kind}
			if next, ok := s.nextRun(timerKey{deviceID, kind, task.ID}); ok {
				status.Running = true
				status.NextRun = &next
			}
			statuses = append(statuses, status)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return statuses, nil
}

// Status reports a single task with its timer state
func (s *Scheduler) Status(deviceID string, kind models.TaskKind, taskID string) (models.TaskStatus, error) {
	statuses, err := s.List(deviceID, kind)
	if err != nil {
		return models.TaskStatus{}, err
	}
	for _, status := range statuses {
		if status.ID == taskID {
			return status, nil
		}
	}
	return models.TaskStatus{}, apperrors.NotFound(fmt.Sprintf("task %s", taskID))
}

// Pause deactivates an active task and cancels its timer
func (s *Scheduler) Pause(deviceID string, kind models.TaskKind, taskID string) (models.Task, error) {
	return s.mutateTask(deviceID, kind, taskID, func(tx *registry.Tx, task *models.Task) error {
		if !task.Active {
			return apperrors.InvalidState(fmt.Sprintf("task %s is already paused", taskID))
		}
		task.Active = false
		s.disarm(timerKey{deviceID, kind, taskID})
		tx.Emit(models.EventTaskPaused, kind, models.SourceAdmin, "task "+taskID)
		return nil
	})
}

// Resume reactivates a paused task and re-arms it from its stored time
func (s *Scheduler) Resume(deviceID string, kind models.TaskKind, taskID string) (models.Task, error) {
	return s.mutateTask(deviceID, kind, taskID, func(tx *registry.Tx, task *models.Task) error {
		if task.Active {
			return apperrors.InvalidState(fmt.Sprintf("task %s is already active", taskID))
		}
		task.Active = true
		s.arm(timerKey{deviceID, kind, taskID}, task.Hour, task.Minute)
		tx.Emit(models.EventTaskResumed, kind, models.SourceAdmin, "task "+taskID)
		return nil
	})
}

// Delete cancels the task's timer and removes the record
func (s *Scheduler) Delete(deviceID string, kind models.TaskKind, taskID string) error {
	if err := validateKind(kind); err != nil {
		return err
	}

	err := s.registry.Update(deviceID, func(tx *registry.Tx) error {
		idx := tx.Device.FindTask(kind, taskID)
		if idx < 0 {
			return apperrors.NotFound(fmt.Sprintf("task %s", taskID))
		}
		tasks := tx.Device.Tasks(kind)
		*tasks = append((*tasks)[:idx], (*tasks)[idx+1:]...)

		s.disarm(timerKey{deviceID, kind, taskID})
		tx.Emit(models.EventTaskDeleted, kind, models.SourceAdmin, "task "+taskID)
		return nil
	})
	if err != nil {
		return err
	}

	log.Printf("Scheduler: Deleted %s task %s for %s", kind, taskID, deviceID)
	return nil
}

// RestoreAll arms every active task found in the registry and leaves paused
// ones dormant. It returns the number of timers armed.
func (s *Scheduler) RestoreAll() int {
	armed := 0
	for _, id := range s.registry.IDs() {
		err := s.registry.View(id, func(d *models.Device) error {
			for _, kind := range models.TaskKinds() {
				for _, task := range *d.Tasks(kind) {
					if !task.Active {
						continue
					}
					if s.arm(timerKey{id, kind, task.ID}, task.Hour, task.Minute) {
						armed++
					}
				}
			}
			return nil
		})
		if err != nil {
			log.Printf("Scheduler: Failed to restore tasks for %s: %v", id, err)
		}
	}

	log.Printf("Scheduler: Restored %d active tasks", armed)
	return armed
}

// Stop cancels every timer. Later arm requests are ignored.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.stopped = true
	for key, t := range s.timers {
		t.Stop()
		delete(s.timers, key)
	}
	log.Println("Scheduler: Stopped")
}

func (s *Scheduler) mutateTask(deviceID string, kind models.TaskKind, taskID string, fn func(*registry.Tx, *models.Task) error) (models.Task, error) {
	if err := validateKind(kind); err != nil {
		return models.Task{}, err
	}

	var out models.Task
	err := s.registry.Update(deviceID, func(tx *registry.Tx) error {
		idx := tx.Device.FindTask(kind, taskID)
		if idx < 0 {
			return apperrors.NotFound(fmt.Sprintf("task %s", taskID))
		}
		task := &(*tx.Device.Tasks(kind))[idx]
		if err := fn(tx, task); err != nil {
			return err
		}
		out = *task
		return nil
	})
	return out, err
}

// arm replaces any timer under key. Callers hold the device lock.
func (s *Scheduler) arm(key timerKey, hour, minute int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return false
	}

	if existing, ok := s.timers[key]; ok {
		existing.Stop()
	}
	t := newDailyTimer(s.clock, s.location, hour, minute, func(t *dailyTimer) bool {
		return s.fire(key, t)
	})
	s.timers[key] = t
	t.arm()
	return true
}

// disarm cancels and forgets the timer under key. Callers hold the device lock.
func (s *Scheduler) disarm(key timerKey) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if t, ok := s.timers[key]; ok {
		t.Stop()
		delete(s.timers, key)
	}
}

func (s *Scheduler) isLive(key timerKey, t *dailyTimer) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.stopped && s.timers[key] == t
}

func (s *Scheduler) nextRun(key timerKey) (time.Time, bool) {
	s.mu.Lock()
	t, ok := s.timers[key]
	s.mu.Unlock()
	if !ok {
		return time.Time{}, false
	}
	next := t.Next()
	return next, !next.IsZero()
}

// fire applies one trigger and reports whether the timer should re-arm
func (s *Scheduler) fire(key timerKey, t *dailyTimer) bool {
	var raised bool
	err := s.registry.Update(key.deviceID, func(tx *registry.Tx) error {
		if !s.isLive(key, t) {
			return errStaleTimer
		}
		raised = s.registry.ApplyScheduled(tx, key.kind, key.taskID)
		tx.Emit(models.EventTaskFired, key.kind, models.SourceScheduler, "task "+key.taskID)
		return nil
	})

	switch {
	case errors.Is(err, errStaleTimer):
		return false
	case err != nil:
		log.Printf("Scheduler: Failed to fire %s task %s for %s: %v", key.kind, key.taskID, key.deviceID, err)
		s.disarm(key)
		return false
	}

	if raised {
		log.Printf("Scheduler: Raised %s for %s (task %s)", key.kind, key.deviceID, key.taskID)
	} else {
		log.Printf("Scheduler: Suppressed %s for %s (task %s)", key.kind, key.deviceID, key.taskID)
	}
	return true
}

func validateKind(kind models.TaskKind) error {
	switch kind {
	case models.TaskKindShutdown, models.TaskKindWakeup:
		return nil
	}
	return apperrors.InvalidInput("unknown task kind %q", kind)
}
