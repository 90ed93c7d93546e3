package auth

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
)

// RequireKind rejects requests whose actor is none of kinds. Admins always pass.
func RequireKind(kinds ...Kind) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			actor, ok := ActorFromContext(c.Request().Context())
			if !ok {
				return echo.NewHTTPError(http.StatusUnauthorized, "not authenticated")
			}
			if actor.IsAdmin() {
				return next(c)
			}
			for _, k := range kinds {
				if actor.Kind == k {
					return next(c)
				}
			}
			names := make([]string, len(kinds))
			for i, k := range kinds {
				names[i] = string(k)
			}
			return echo.NewHTTPError(http.StatusForbidden,
				fmt.Sprintf("required role: %s", strings.Join(names, " or ")))
		}
	}
}

// CurrentActor returns the actor of the request, or a 401 when none was set.
func CurrentActor(c echo.Context) (Actor, error) {
	actor, ok := ActorFromContext(c.Request().Context())
	if !ok {
		return Actor{}, echo.NewHTTPError(http.StatusUnauthorized, "not authenticated")
	}
	return actor, nil
}
