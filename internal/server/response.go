package server

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"
)

// Response is the envelope of every API response.
type Response struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Data    any    `json:"data"`
}

func success(c echo.Context, status int, data any, message string) error {
	if data == nil {
		data = []any{}
	}
	return c.JSON(status, Response{Success: true, Message: message, Data: data})
}

func failure(c echo.Context, status int, message string) error {
	return c.JSON(status, Response{Success: false, Message: message, Data: []any{}})
}

// errorHandler renders errors that escape the handlers, such as unknown
// routes, in the same envelope.
func errorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}

	status := http.StatusInternalServerError
	message := "internal server error"

	var he *echo.HTTPError
	if errors.As(err, &he) {
		status = he.Code
		if m, ok := he.Message.(string); ok {
			message = m
		} else {
			message = http.StatusText(status)
		}
	} else {
		log.WithError(err).WithField("path", c.Path()).Error("Unhandled request error")
	}

	if err := failure(c, status, message); err != nil {
		log.WithError(err).Error("Failed to write error response")
	}
}
