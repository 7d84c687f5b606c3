package server

import (
	"task-service/internal/presenter"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Deps struct {
	Users     UserService
	Tasks     TaskService
	AuditLogs AuditLogService
	DB        Pinger
	Presenter *presenter.Presenter
	// JWTSecret switches actor resolution to HS256 bearer tokens.
	JWTSecret []byte
	// Gatherer backs GET /metrics; nil uses the default registry.
	Gatherer prometheus.Gatherer
}

func NewRouter(d Deps) *echo.Echo {
	if d.Presenter == nil {
		d.Presenter = presenter.New(nil)
	}
	if d.Gatherer == nil {
		d.Gatherer = prometheus.DefaultGatherer
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = errorHandler

	e.Use(middleware.Recover())
	e.Use(requestLogger())

	srv := NewServer(d.Users, d.DB, d.Presenter)
	tasks := NewTaskServer(d.Tasks, d.Presenter)
	auditLogs := NewAuditLogServer(d.AuditLogs, d.Presenter)

	e.GET("/health", srv.HealthCheck)
	e.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(d.Gatherer, promhttp.HandlerOpts{})))

	api := e.Group("/api", actorMiddleware(d.JWTSecret))

	users := api.Group("/users")
	users.GET("", srv.ListUsers)
	users.POST("", srv.CreateUser)
	users.GET("/:id", srv.GetUser)
	users.PUT("/:id", srv.UpdateUser)
	users.DELETE("/:id", srv.DeleteUser)

	taskRoutes := api.Group("/tasks")
	taskRoutes.GET("", tasks.ListTasks)
	taskRoutes.POST("", tasks.CreateTask)
	taskRoutes.GET("/:id", tasks.GetTask)
	taskRoutes.PUT("/:id", tasks.UpdateTask)
	taskRoutes.DELETE("/:id", tasks.DeleteTask)

	audit := api.Group("/audit-logs")
	audit.GET("", auditLogs.ListAuditLogs)
	audit.GET("/:id", auditLogs.GetAuditLog)

	return e
}
