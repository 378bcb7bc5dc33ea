package models

import (
	"strings"
	"time"
)

// TaskKind distinguishes recurring shutdown jobs from recurring wake jobs
type TaskKind string

const (
	TaskKindShutdown TaskKind = "shutdown"
	TaskKindWakeup   TaskKind = "wakeup"
)

// TaskKinds lists every supported kind in a stable order
func TaskKinds() []TaskKind {
	return []TaskKind{TaskKindShutdown, TaskKindWakeup}
}

// ParseTaskKind converts a path segment such as "wakeup" into a TaskKind
func ParseTaskKind(s string) (TaskKind, bool) {
	switch TaskKind(strings.ToLower(strings.TrimSpace(s))) {
	case TaskKindShutdown:
		return TaskKindShutdown, true
	case TaskKindWakeup:
		return TaskKindWakeup, true
	}
	return "", false
}

// Task is the persisted, declarative form of a daily recurring job.
// Live timers are derived from it and never stored here.
type Task struct {
	ID        string    `json:"id"`
	Hour      int       `json:"hour"`
	Minute    int       `json:"minute"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"createdAt"`
}

// TaskStatus is a Task as reported to administrators
type TaskStatus struct {
	Task
	Kind    TaskKind   `json:"kind"`
	Running bool       `json:"running"`
	NextRun *time.Time `json:"nextRun,omitempty"`
}
