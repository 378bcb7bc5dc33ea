package models

import "time"

// EventType names something that happened to a device
type EventType string

const (
	EventDeviceRegistered EventType = "device_registered"
	EventHeartbeat        EventType = "heartbeat"
	EventCommandRaised    EventType = "command_raised"
	EventCommandDelivered EventType = "command_delivered"
	EventWakeSuppressed   EventType = "wake_suppressed"
	EventTaskCreated      EventType = "task_created"
	EventTaskPaused       EventType = "task_paused"
	EventTaskResumed      EventType = "task_resumed"
	EventTaskDeleted      EventType = "task_deleted"
	EventTaskFired        EventType = "task_fired"
)

// Event sources
const (
	SourceAdmin     = "admin"
	SourceScheduler = "scheduler"
	SourceDevice    = "device"
)

// DeviceEvent is published to event sinks (ClickHouse, MQTT, metrics)
type DeviceEvent struct {
	Type     EventType `json:"type"`
	DeviceID string    `json:"device_id"`
	Kind     TaskKind  `json:"kind,omitempty"`
	Source   string    `json:"source"`
	Detail   string    `json:"detail,omitempty"`
	// Seq increases by one per event of the same device within a process.
	// Sinks may see a device's events out of order; Seq restores it.
	Seq       uint64    `json:"seq"`
	Timestamp time.Time `json:"timestamp"`
}
