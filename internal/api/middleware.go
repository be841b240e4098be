package api

import (
	"strings"

	"github.com/labstack/echo/v4"

	"classcast/pkg/types"
)

// Identity headers set by the authentication gateway
const (
	HeaderUserID   = "X-User-ID"
	HeaderUserRole = "X-User-Role"
	HeaderUserName = "X-User-Name"
)

const contextActorKey = "actor"

// identityMiddleware turns the gateway headers into a types.Actor.
// Requests without a usable identity never reach a handler.
func identityMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			header := c.Request().Header
			actor := types.Actor{
				ID:   strings.TrimSpace(header.Get(HeaderUserID)),
				Role: strings.ToLower(strings.TrimSpace(header.Get(HeaderUserRole))),
				Name: strings.TrimSpace(header.Get(HeaderUserName)),
			}
			if actor.ID == "" || actor.Role == "" {
				return errUnauthorized
			}
			if err := actor.Validate(); err != nil {
				return err
			}
			c.Set(contextActorKey, actor)
			return next(c)
		}
	}
}

func contextActor(c echo.Context) types.Actor {
	actor, _ := c.Get(contextActorKey).(types.Actor)
	return actor
}
