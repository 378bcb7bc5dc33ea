package models

import "time"

// DeviceType identifies the kind of machine behind a controller
type DeviceType string

const (
	// DeviceTypeDesktop is the only type that accepts wake commands
	DeviceTypeDesktop DeviceType = "desktop"
	DeviceTypeOther   DeviceType = "other"
)

// PowerState is the power state a device reports about itself
type PowerState string

const (
	PowerStateUnknown PowerState = "unknown"
	PowerStateOn      PowerState = "on"
)

// Device represents a remotely controlled machine in the registry
type Device struct {
	ID         string     `json:"id"`
	Name       string     `json:"name"`
	Type       DeviceType `json:"type"`
	Token      string     `json:"token"`
	Online     bool       `json:"online"`
	LastSeenTs *time.Time `json:"lastSeenTs"`
	PowerState PowerState `json:"powerState"`

	// Single-slot command mailbox, cleared by the next heartbeat
	Shutdown bool `json:"shutdown"`
	Wakeup   bool `json:"wakeup"`

	ShutdownTasks []Task `json:"shutdownTasks"`
	WakeupTasks   []Task `json:"wakeupTasks"`
}

// Commands is the poll response returned to a device
type Commands struct {
	Shutdown bool `json:"shutdown"`
	Wakeup   bool `json:"wakeup"`
}

// Tasks returns a pointer to the task list for the given kind
func (d *Device) Tasks(kind TaskKind) *[]Task {
	if kind == TaskKindWakeup {
		return &d.WakeupTasks
	}
	return &d.ShutdownTasks
}

// FindTask returns the index of a task in the list for kind, or -1
func (d *Device) FindTask(kind TaskKind, taskID string) int {
	for i, task := range *d.Tasks(kind) {
		if task.ID == taskID {
			return i
		}
	}
	return -1
}

// Clone returns a deep copy that shares no slices or pointers with d
func (d *Device) Clone() Device {
	out := *d
	if d.LastSeenTs != nil {
		ts := *d.LastSeenTs
		out.LastSeenTs = &ts
	}
	out.ShutdownTasks = append(make([]Task, 0, len(d.ShutdownTasks)), d.ShutdownTasks...)
	out.WakeupTasks = append(make([]Task, 0, len(d.WakeupTasks)), d.WakeupTasks...)
	return out
}
