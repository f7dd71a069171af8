package echoapi

import (
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/darasahq/darasa/core/access"
	"github.com/darasahq/darasa/core/principal"
)

// roleMiddleware gates a route on a static allowed-role set. It runs after
// token verification, so a failure here is a 403, never a 401.
func roleMiddleware(allowed ...string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(ctx echo.Context) error {
			ac, err := getAccessContext(ctx)
			if err != nil {
				return errors.Wrap(err, "getting access context")
			}
			if err := access.Authorize(ac, allowed...); err != nil {
				return errHttpForbidden
			}
			return next(ctx)
		}
	}
}

func adminMiddleware() echo.MiddlewareFunc {
	return roleMiddleware(principal.RoleAdmin, principal.RoleSuperAdmin)
}

func superAdminMiddleware() echo.MiddlewareFunc {
	return roleMiddleware(principal.RoleSuperAdmin)
}
