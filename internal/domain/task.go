package domain

import (
	"errors"
	"strings"
	"time"
)

const (
	maxTaskTitleLength = 255

	DueDateLayout = "2006-01-02"
)

var (
	ErrTaskNotFound        = errors.New("task not found")
	ErrInvalidTaskTitle    = errors.New("invalid task title")
	ErrInvalidTaskStatus   = errors.New("invalid task status")
	ErrInvalidTaskPriority = errors.New("invalid task priority")
	ErrInvalidDueDate      = errors.New("invalid task due date")
	ErrInvalidDueRange     = errors.New("the due from date must not be after the due to date")
	ErrTaskUserNotFound    = errors.New("the selected user does not exist")
)

type TaskStatus int

const (
	TaskPending    TaskStatus = 1
	TaskInProgress TaskStatus = 2
	TaskDone       TaskStatus = 3
)

func (s TaskStatus) Valid() bool {
	return s >= TaskPending && s <= TaskDone
}

func (s TaskStatus) Label() string {
	switch s {
	case TaskPending:
		return "Pending"
	case TaskInProgress:
		return "InProgress"
	case TaskDone:
		return "Done"
	default:
		return ""
	}
}

type TaskPriority int

const (
	PriorityLow    TaskPriority = 1
	PriorityMedium TaskPriority = 2
	PriorityHigh   TaskPriority = 3
)

func (p TaskPriority) Valid() bool {
	return p >= PriorityLow && p <= PriorityHigh
}

func (p TaskPriority) Label() string {
	switch p {
	case PriorityLow:
		return "Low"
	case PriorityMedium:
		return "Medium"
	case PriorityHigh:
		return "High"
	default:
		return ""
	}
}

type Task struct {
	ID          int64        `json:"id"`
	UserID      *int64       `json:"user_id"`
	Title       string       `json:"title"`
	Description string       `json:"description,omitempty"`
	Status      TaskStatus   `json:"status"`
	Priority    TaskPriority `json:"priority"`
	DueDate     *time.Time   `json:"due_date"`
	CreatedAt   time.Time    `json:"created_at"`
	UpdatedAt   time.Time    `json:"updated_at"`
}

func (t *Task) AuditEntity() string { return "Task" }

func (t *Task) AuditKey() int64 { return t.ID }

// AuditAttributes returns the persisted columns of the task. Timestamps are
// maintained by the database and are left out so they never show up in diffs.
func (t *Task) AuditAttributes() map[string]any {
	attrs := map[string]any{
		"user_id":     nil,
		"title":       t.Title,
		"description": t.Description,
		"status":      int(t.Status),
		"priority":    int(t.Priority),
		"due_date":    nil,
	}
	if t.UserID != nil {
		attrs["user_id"] = *t.UserID
	}
	if t.DueDate != nil {
		attrs["due_date"] = t.DueDate.Format(DueDateLayout)
	}
	return attrs
}

type CreateTaskRequest struct {
	UserID      *int64       `json:"user_id,omitempty"`
	Title       string       `json:"title"`
	Description string       `json:"description"`
	Status      TaskStatus   `json:"status"`
	Priority    TaskPriority `json:"priority"`
	DueDate     *string      `json:"due_date,omitempty"`
}

type UpdateTaskRequest struct {
	UserID      *int64        `json:"user_id,omitempty"`
	Title       *string       `json:"title,omitempty"`
	Description *string       `json:"description,omitempty"`
	Status      *TaskStatus   `json:"status,omitempty"`
	Priority    *TaskPriority `json:"priority,omitempty"`
	DueDate     *string       `json:"due_date,omitempty"`
}

// UpdateTaskFields carries validated column values for a partial update.
// ClearDueDate sets the due date to NULL and wins over DueDate.
type UpdateTaskFields struct {
	UserID       *int64
	Title        *string
	Description  *string
	Status       *TaskStatus
	Priority     *TaskPriority
	DueDate      *time.Time
	ClearDueDate bool
}

// TaskFilter narrows a task listing. DueFrom and DueTo are inclusive and may
// be used on their own.
type TaskFilter struct {
	UserID   *int64
	Status   *TaskStatus
	Priority *TaskPriority
	DueFrom  *time.Time
	DueTo    *time.Time
	Paging
}

func (f TaskFilter) Validate() error {
	if f.Status != nil && !f.Status.Valid() {
		return ErrInvalidTaskStatus
	}
	if f.Priority != nil && !f.Priority.Valid() {
		return ErrInvalidTaskPriority
	}
	if f.DueFrom != nil && f.DueTo != nil && f.DueFrom.After(*f.DueTo) {
		return ErrInvalidDueRange
	}
	return nil
}

type TaskPage struct {
	Tasks  []Task
	Paging Paging
	Total  int
}

func ValidateTaskTitle(title string) error {
	title = strings.TrimSpace(title)
	if title == "" || len(title) > maxTaskTitleLength {
		return ErrInvalidTaskTitle
	}
	return nil
}

func ParseDueDate(value string) (*time.Time, error) {
	d, err := time.Parse(DueDateLayout, value)
	if err != nil {
		return nil, ErrInvalidDueDate
	}
	return &d, nil
}
