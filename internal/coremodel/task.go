package coremodel

import "time"

// TaskStatus is a closed enumeration of task lifecycle states,
// grounded on original_source's task_service_v2.py.
type TaskStatus string

const (
	TaskPending    TaskStatus = "pending"
	TaskInProgress TaskStatus = "in_progress"
	TaskBlocked    TaskStatus = "blocked"
	TaskCompleted  TaskStatus = "completed"
	TaskFailed     TaskStatus = "failed"
	TaskCancelled  TaskStatus = "cancelled"
)

// Task is a unit of delegated work tracked outside the channel/message
// model; task.* events mirror its lifecycle onto the bus.
type Task struct {
	ID          string
	Title       string
	Description string
	Status      TaskStatus
	AssignedTo  string // minion id, empty if unassigned
	Progress    float64 // [0,1]
	CreatedAt   time.Time
	UpdatedAt   time.Time
}
