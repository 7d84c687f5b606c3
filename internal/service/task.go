package service

import (
	"context"
	"fmt"
	"strings"

	"task-service/internal/domain"

	log "github.com/sirupsen/logrus"
)

type TaskRepository interface {
	Create(ctx context.Context, task *domain.Task) error
	GetByID(ctx context.Context, id int64) (*domain.Task, error)
	List(ctx context.Context, filter domain.TaskFilter) ([]domain.Task, error)
	Count(ctx context.Context, filter domain.TaskFilter) (int, error)
	Update(ctx context.Context, id int64, fields domain.UpdateTaskFields) (before, after *domain.Task, err error)
	Delete(ctx context.Context, id int64) error
}

type TaskService struct {
	taskRepo TaskRepository
	notifier ChangeNotifier
}

func NewTaskService(taskRepo TaskRepository, notifier ChangeNotifier) *TaskService {
	return &TaskService{
		taskRepo: taskRepo,
		notifier: notifierOrNoop(notifier),
	}
}

func (s *TaskService) CreateTask(ctx context.Context, req domain.CreateTaskRequest) (*domain.Task, error) {
	title := strings.TrimSpace(req.Title)
	if err := domain.ValidateTaskTitle(title); err != nil {
		return nil, err
	}

	if req.Status == 0 {
		req.Status = domain.TaskPending
	}
	if !req.Status.Valid() {
		return nil, domain.ErrInvalidTaskStatus
	}
	if req.Priority == 0 {
		req.Priority = domain.PriorityLow
	}
	if !req.Priority.Valid() {
		return nil, domain.ErrInvalidTaskPriority
	}
	if req.UserID != nil && *req.UserID <= 0 {
		return nil, domain.ErrInvalidID
	}

	task := &domain.Task{
		UserID:      req.UserID,
		Title:       title,
		Description: req.Description,
		Status:      req.Status,
		Priority:    req.Priority,
	}

	if req.DueDate != nil && *req.DueDate != "" {
		due, err := domain.ParseDueDate(*req.DueDate)
		if err != nil {
			return nil, err
		}
		task.DueDate = due
	}

	if err := s.taskRepo.Create(ctx, task); err != nil {
		return nil, fmt.Errorf("failed to create task: %w", err)
	}

	s.notifier.Created(ctx, task)

	log.WithFields(log.Fields{
		"task_id": task.ID,
		"title":   task.Title,
	}).Info("Task successfully created")

	return task, nil
}

func (s *TaskService) GetTask(ctx context.Context, id int64) (*domain.Task, error) {
	if id <= 0 {
		return nil, domain.ErrInvalidID
	}

	task, err := s.taskRepo.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get task: %w", err)
	}
	return task, nil
}

// ListTasks returns one page of the tasks matching filter together with the
// total number of matches.
func (s *TaskService) ListTasks(ctx context.Context, filter domain.TaskFilter) (*domain.TaskPage, error) {
	filter.Paging = filter.Paging.Normalized()
	if filter.PerPage > domain.MaxPerPage {
		filter.PerPage = domain.MaxPerPage
	}
	if err := filter.Validate(); err != nil {
		return nil, err
	}

	total, err := s.taskRepo.Count(ctx, filter)
	if err != nil {
		log.WithError(err).Error("Failed to count tasks")
		return nil, err
	}
	tasks, err := s.taskRepo.List(ctx, filter)
	if err != nil {
		log.WithError(err).Error("Failed to list tasks")
		return nil, err
	}
	return &domain.TaskPage{Tasks: tasks, Paging: filter.Paging, Total: total}, nil
}

func (s *TaskService) UpdateTask(ctx context.Context, id int64, req domain.UpdateTaskRequest) (*domain.Task, error) {
	if id <= 0 {
		return nil, domain.ErrInvalidID
	}

	fields := domain.UpdateTaskFields{
		UserID:      req.UserID,
		Description: req.Description,
		Status:      req.Status,
		Priority:    req.Priority,
	}

	if req.Title != nil {
		title := strings.TrimSpace(*req.Title)
		if err := domain.ValidateTaskTitle(title); err != nil {
			return nil, err
		}
		fields.Title = &title
	}
	if req.UserID != nil && *req.UserID <= 0 {
		return nil, domain.ErrInvalidID
	}
	if req.Status != nil && !req.Status.Valid() {
		return nil, domain.ErrInvalidTaskStatus
	}
	if req.Priority != nil && !req.Priority.Valid() {
		return nil, domain.ErrInvalidTaskPriority
	}
	if req.DueDate != nil {
		if *req.DueDate == "" {
			fields.ClearDueDate = true
		} else {
			due, err := domain.ParseDueDate(*req.DueDate)
			if err != nil {
				return nil, err
			}
			fields.DueDate = due
		}
	}

	before, after, err := s.taskRepo.Update(ctx, id, fields)
	if err != nil {
		return nil, fmt.Errorf("failed to update task: %w", err)
	}

	s.notifier.Updated(ctx, before, after)

	log.WithField("task_id", id).Info("Task successfully updated")
	return after, nil
}

// DeleteTask announces the deletion while the task is still readable, then
// removes the row.
func (s *TaskService) DeleteTask(ctx context.Context, id int64) error {
	if id <= 0 {
		return domain.ErrInvalidID
	}

	task, err := s.taskRepo.GetByID(ctx, id)
	if err != nil {
		return fmt.Errorf("failed to delete task: %w", err)
	}

	s.notifier.Deleting(ctx, task)

	if err := s.taskRepo.Delete(ctx, id); err != nil {
		log.WithError(err).WithField("task_id", id).Error("Failed to delete task")
		return fmt.Errorf("failed to delete task: %w", err)
	}

	log.WithField("task_id", id).Info("Task successfully deleted")
	return nil
}
