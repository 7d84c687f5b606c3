package server

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"task-service/internal/audit"
	"task-service/internal/domain"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	log "github.com/sirupsen/logrus"
)

// ActorHeader carries the id of the authenticated user. It is set by the
// authentication gateway in front of this service.
const ActorHeader = "X-User-ID"

// actorMiddleware puts the acting user into the request context so that audit
// records can name who made a change. Without a JWT secret the actor comes
// from ActorHeader; with one, only the subject of a valid HS256 bearer token
// is trusted and the header is ignored. Requests without either act as the
// system.
func actorMiddleware(jwtSecret []byte) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			var (
				id  int64
				err error
			)
			if len(jwtSecret) > 0 {
				id, err = actorFromBearer(c.Request().Header.Get(echo.HeaderAuthorization), jwtSecret)
				if err != nil {
					log.WithError(err).WithField("path", c.Path()).Warn("Rejected bearer token")
					return failure(c, http.StatusUnauthorized, "invalid bearer token")
				}
			} else {
				id, err = actorFromHeader(c.Request().Header.Get(ActorHeader))
				if err != nil {
					return failure(c, http.StatusUnauthorized, "invalid "+ActorHeader+" header")
				}
			}
			if id == 0 {
				return next(c)
			}

			req := c.Request()
			c.SetRequest(req.WithContext(audit.WithActor(req.Context(), id)))
			return next(c)
		}
	}
}

func actorFromHeader(raw string) (int64, error) {
	if raw == "" {
		return 0, nil
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, domain.ErrInvalidID
	}
	return id, nil
}

// actorFromBearer validates the token and returns its subject as a user id.
// A missing Authorization header yields no actor.
func actorFromBearer(header string, secret []byte) (int64, error) {
	if header == "" {
		return 0, nil
	}
	raw, ok := strings.CutPrefix(header, "Bearer ")
	if !ok || raw == "" {
		return 0, errors.New("authorization header is not a bearer token")
	}

	claims := &jwt.RegisteredClaims{}
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
	)
	if _, err := parser.ParseWithClaims(raw, claims, func(*jwt.Token) (interface{}, error) {
		return secret, nil
	}); err != nil {
		return 0, err
	}

	id, err := strconv.ParseInt(claims.Subject, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("token subject %q is not a user id", claims.Subject)
	}
	return id, nil
}

func requestLogger() echo.MiddlewareFunc {
	return middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod:  true,
		LogURI:     true,
		LogStatus:  true,
		LogLatency: true,
		LogError:   true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			entry := log.WithFields(log.Fields{
				"method":  v.Method,
				"uri":     v.URI,
				"status":  v.Status,
				"latency": v.Latency.String(),
			})
			if v.Error != nil {
				entry.WithError(v.Error).Warn("Request failed")
				return nil
			}
			entry.Debug("Request handled")
			return nil
		},
	})
}
