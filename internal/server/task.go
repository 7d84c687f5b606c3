package server

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"task-service/internal/domain"
	"task-service/internal/presenter"

	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"
)

type TaskService interface {
	CreateTask(ctx context.Context, req domain.CreateTaskRequest) (*domain.Task, error)
	GetTask(ctx context.Context, id int64) (*domain.Task, error)
	ListTasks(ctx context.Context, filter domain.TaskFilter) (*domain.TaskPage, error)
	UpdateTask(ctx context.Context, id int64, req domain.UpdateTaskRequest) (*domain.Task, error)
	DeleteTask(ctx context.Context, id int64) error
}

type taskServer struct {
	taskService TaskService
	presenter   *presenter.Presenter
}

func NewTaskServer(taskService TaskService, p *presenter.Presenter) *taskServer {
	return &taskServer{
		taskService: taskService,
		presenter:   p,
	}
}

var errInvalidUserIDFilter = errors.New("the user id must be a positive integer")

func handleTaskError(err error) (int, string) {
	switch {
	case errors.Is(err, domain.ErrTaskNotFound):
		return http.StatusNotFound, "task not found"
	case errors.Is(err, domain.ErrTaskUserNotFound):
		return http.StatusUnprocessableEntity, domain.ErrTaskUserNotFound.Error()
	case errors.Is(err, domain.ErrInvalidTaskTitle),
		errors.Is(err, domain.ErrInvalidTaskStatus),
		errors.Is(err, domain.ErrInvalidTaskPriority),
		errors.Is(err, domain.ErrInvalidDueDate),
		errors.Is(err, domain.ErrInvalidDueRange),
		errors.Is(err, errInvalidUserIDFilter),
		errors.Is(err, domain.ErrInvalidSort),
		errors.Is(err, domain.ErrInvalidPerPage),
		errors.Is(err, domain.ErrInvalidPage):
		return http.StatusUnprocessableEntity, err.Error()
	case errors.Is(err, domain.ErrInvalidID):
		return http.StatusBadRequest, "invalid request"
	default:
		return http.StatusInternalServerError, "internal server error"
	}
}

// parseTaskFilter reads the listing query. Any value that is present but
// malformed is rejected rather than ignored.
func parseTaskFilter(c echo.Context) (domain.TaskFilter, error) {
	var filter domain.TaskFilter

	paging, err := domain.ParsePaging(c.QueryParam("sort"), c.QueryParam("per_page"), c.QueryParam("page"))
	if err != nil {
		return filter, err
	}
	filter.Paging = paging

	if v := c.QueryParam("user_id"); v != "" {
		userID, err := strconv.ParseInt(v, 10, 64)
		if err != nil || userID <= 0 {
			return filter, errInvalidUserIDFilter
		}
		filter.UserID = &userID
	}
	if v := c.QueryParam("status"); v != "" {
		n, err := strconv.Atoi(v)
		status := domain.TaskStatus(n)
		if err != nil || !status.Valid() {
			return filter, domain.ErrInvalidTaskStatus
		}
		filter.Status = &status
	}
	if v := c.QueryParam("priority"); v != "" {
		n, err := strconv.Atoi(v)
		priority := domain.TaskPriority(n)
		if err != nil || !priority.Valid() {
			return filter, domain.ErrInvalidTaskPriority
		}
		filter.Priority = &priority
	}
	if v := c.QueryParam("due_from"); v != "" {
		if filter.DueFrom, err = domain.ParseDueDate(v); err != nil {
			return filter, err
		}
	}
	if v := c.QueryParam("due_to"); v != "" {
		if filter.DueTo, err = domain.ParseDueDate(v); err != nil {
			return filter, err
		}
	}

	return filter, filter.Validate()
}

// ListTasks serves GET /api/tasks with optional user_id, status, priority,
// due_from, due_to, sort, per_page and page parameters.
func (s *taskServer) ListTasks(c echo.Context) error {
	filter, err := parseTaskFilter(c)
	if err != nil {
		status, message := handleTaskError(err)
		return failure(c, status, message)
	}

	page, err := s.taskService.ListTasks(c.Request().Context(), filter)
	if err != nil {
		log.WithError(err).Error("Failed to list tasks")
		status, message := handleTaskError(err)
		return failure(c, status, message)
	}

	return success(c, http.StatusOK, s.presenter.TaskList(page, requestURL(c)), "Tasks List")
}

func (s *taskServer) GetTask(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return failure(c, http.StatusBadRequest, "invalid task id")
	}

	task, err := s.taskService.GetTask(c.Request().Context(), id)
	if err != nil {
		if !errors.Is(err, domain.ErrTaskNotFound) {
			log.WithError(err).WithField("task_id", id).Error("Failed to get task")
		}
		status, message := handleTaskError(err)
		return failure(c, status, message)
	}

	return success(c, http.StatusOK, s.presenter.Task(task), "Task Details")
}

func (s *taskServer) CreateTask(c echo.Context) error {
	var req domain.CreateTaskRequest
	if err := c.Bind(&req); err != nil {
		return failure(c, http.StatusBadRequest, "invalid request body")
	}

	task, err := s.taskService.CreateTask(c.Request().Context(), req)
	if err != nil {
		log.WithError(err).Error("Failed to create task")
		status, message := handleTaskError(err)
		return failure(c, status, message)
	}

	return success(c, http.StatusCreated, s.presenter.Task(task), "Task Created Successfully")
}

func (s *taskServer) UpdateTask(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return failure(c, http.StatusBadRequest, "invalid task id")
	}

	var req domain.UpdateTaskRequest
	if err := c.Bind(&req); err != nil {
		return failure(c, http.StatusBadRequest, "invalid request body")
	}

	task, err := s.taskService.UpdateTask(c.Request().Context(), id, req)
	if err != nil {
		log.WithError(err).WithField("task_id", id).Error("Failed to update task")
		status, message := handleTaskError(err)
		return failure(c, status, message)
	}

	return success(c, http.StatusOK, s.presenter.Task(task), "Task Updated Successfully")
}

func (s *taskServer) DeleteTask(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return failure(c, http.StatusBadRequest, "invalid task id")
	}

	if err := s.taskService.DeleteTask(c.Request().Context(), id); err != nil {
		log.WithError(err).WithField("task_id", id).Error("Failed to delete task")
		status, message := handleTaskError(err)
		return failure(c, status, message)
	}

	return success(c, http.StatusOK, nil, "Task Deleted Successfully")
}
