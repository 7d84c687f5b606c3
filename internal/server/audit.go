package server

import (
	"context"
	"errors"
	"net/http"
	"net/url"

	"task-service/internal/domain"
	"task-service/internal/presenter"
	"task-service/internal/service"

	"github.com/labstack/echo/v4"
)

type AuditLogService interface {
	ListAuditLogs(ctx context.Context, filter domain.AuditFilter) (*domain.AuditPage, error)
	GetAuditLog(ctx context.Context, id int64) (*domain.AuditRecord, error)
}

// auditLogServer is read-only: records are written by the audit queue only.
type auditLogServer struct {
	auditService AuditLogService
	presenter    *presenter.Presenter
}

func NewAuditLogServer(auditService AuditLogService, p *presenter.Presenter) *auditLogServer {
	return &auditLogServer{
		auditService: auditService,
		presenter:    p,
	}
}

func handleAuditError(err error) (int, string) {
	switch {
	case errors.Is(err, domain.ErrInvalidSort),
		errors.Is(err, domain.ErrInvalidPerPage),
		errors.Is(err, domain.ErrInvalidPage):
		return http.StatusUnprocessableEntity, err.Error()
	case errors.Is(err, domain.ErrAuditLogNotFound):
		return http.StatusNotFound, "audit log not found"
	case errors.Is(err, domain.ErrInvalidID):
		return http.StatusBadRequest, "invalid audit log id"
	default:
		return http.StatusInternalServerError, service.AuditQueryErrorMessage
	}
}

// ListAuditLogs serves GET /api/audit-logs?sort=asc|desc&per_page=N&page=N.
func (s *auditLogServer) ListAuditLogs(c echo.Context) error {
	filter, err := domain.ParseAuditFilter(c.QueryParam("sort"), c.QueryParam("per_page"), c.QueryParam("page"))
	if err != nil {
		status, message := handleAuditError(err)
		return failure(c, status, message)
	}

	page, err := s.auditService.ListAuditLogs(c.Request().Context(), filter)
	if err != nil {
		status, message := handleAuditError(err)
		return failure(c, status, message)
	}

	return success(c, http.StatusOK, s.presenter.AuditLogs(page, requestURL(c)), "AuditLogs List")
}

func (s *auditLogServer) GetAuditLog(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		status, message := handleAuditError(err)
		return failure(c, status, message)
	}

	record, err := s.auditService.GetAuditLog(c.Request().Context(), id)
	if err != nil {
		status, message := handleAuditError(err)
		return failure(c, status, message)
	}

	return success(c, http.StatusOK, s.presenter.AuditLog(*record), "AuditLog Details")
}

func requestURL(c echo.Context) *url.URL {
	req := c.Request()
	return &url.URL{
		Scheme:   c.Scheme(),
		Host:     req.Host,
		Path:     req.URL.Path,
		RawQuery: req.URL.RawQuery,
	}
}
