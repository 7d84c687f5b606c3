package server

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"task-service/internal/domain"
	"task-service/internal/presenter"

	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"
)

type UserService interface {
	CreateUser(ctx context.Context, req domain.CreateUserRequest) (*domain.User, error)
	GetUser(ctx context.Context, id int64) (*domain.User, error)
	ListUsers(ctx context.Context, filter domain.UserFilter) (*domain.UserPage, error)
	UpdateUser(ctx context.Context, id int64, req domain.UpdateUserRequest) (*domain.User, error)
	DeleteUser(ctx context.Context, id int64) error
}

// Pinger reports whether the database is reachable.
type Pinger interface {
	PingContext(ctx context.Context) error
}

type Server struct {
	userService UserService
	db          Pinger
	presenter   *presenter.Presenter
}

func NewServer(userService UserService, db Pinger, p *presenter.Presenter) *Server {
	return &Server{
		userService: userService,
		db:          db,
		presenter:   p,
	}
}

func handleUserError(err error) (int, string) {
	switch {
	case errors.Is(err, domain.ErrUserNotFound):
		return http.StatusNotFound, "user not found"
	case errors.Is(err, domain.ErrUserEmailExists):
		return http.StatusConflict, "user with this email already exists"
	case errors.Is(err, domain.ErrInvalidUserName),
		errors.Is(err, domain.ErrInvalidUserEmail),
		errors.Is(err, domain.ErrInvalidUserRole),
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

func parseID(c echo.Context) (int64, error) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, domain.ErrInvalidID
	}
	return id, nil
}

func (s *Server) HealthCheck(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), 2*time.Second)
	defer cancel()

	if err := s.db.PingContext(ctx); err != nil {
		log.WithError(err).Error("Health check failed: database is down")
		return failure(c, http.StatusServiceUnavailable, "database connection error")
	}
	return success(c, http.StatusOK, map[string]string{"status": "healthy"}, "OK")
}

func (s *Server) CreateUser(c echo.Context) error {
	var req domain.CreateUserRequest
	if err := c.Bind(&req); err != nil {
		return failure(c, http.StatusBadRequest, "invalid request body")
	}

	user, err := s.userService.CreateUser(c.Request().Context(), req)
	if err != nil {
		log.WithError(err).Error("Failed to create user")
		status, message := handleUserError(err)
		return failure(c, status, message)
	}

	return success(c, http.StatusCreated, s.presenter.User(user), "User Created Successfully")
}

// ListUsers serves GET /api/users with optional exact name, email and role
// filters plus sort, per_page and page.
func (s *Server) ListUsers(c echo.Context) error {
	paging, err := domain.ParsePaging(c.QueryParam("sort"), c.QueryParam("per_page"), c.QueryParam("page"))
	if err != nil {
		status, message := handleUserError(err)
		return failure(c, status, message)
	}

	filter := domain.UserFilter{Paging: paging}
	if v := c.QueryParam("name"); v != "" {
		filter.Name = &v
	}
	if v := c.QueryParam("email"); v != "" {
		filter.Email = &v
	}
	if v := c.QueryParam("role"); v != "" {
		role := domain.UserRole(v)
		filter.Role = &role
	}

	page, err := s.userService.ListUsers(c.Request().Context(), filter)
	if err != nil {
		status, message := handleUserError(err)
		if status == http.StatusInternalServerError {
			log.WithError(err).Error("Failed to list users")
		}
		return failure(c, status, message)
	}

	return success(c, http.StatusOK, s.presenter.UserList(page, requestURL(c)), "Users List")
}

func (s *Server) GetUser(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return failure(c, http.StatusBadRequest, "invalid user id")
	}

	user, err := s.userService.GetUser(c.Request().Context(), id)
	if err != nil {
		if !errors.Is(err, domain.ErrUserNotFound) {
			log.WithError(err).WithField("user_id", id).Error("Failed to get user")
		}
		status, message := handleUserError(err)
		return failure(c, status, message)
	}

	return success(c, http.StatusOK, s.presenter.User(user), "User Details")
}

func (s *Server) UpdateUser(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return failure(c, http.StatusBadRequest, "invalid user id")
	}

	var req domain.UpdateUserRequest
	if err := c.Bind(&req); err != nil {
		return failure(c, http.StatusBadRequest, "invalid request body")
	}

	user, err := s.userService.UpdateUser(c.Request().Context(), id, req)
	if err != nil {
		log.WithError(err).WithField("user_id", id).Error("Failed to update user")
		status, message := handleUserError(err)
		return failure(c, status, message)
	}

	return success(c, http.StatusOK, s.presenter.User(user), "User Updated Successfully")
}

func (s *Server) DeleteUser(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return failure(c, http.StatusBadRequest, "invalid user id")
	}

	if err := s.userService.DeleteUser(c.Request().Context(), id); err != nil {
		log.WithError(err).WithField("user_id", id).Error("Failed to delete user")
		status, message := handleUserError(err)
		return failure(c, status, message)
	}

	return success(c, http.StatusOK, nil, "User Deleted Successfully")
}
