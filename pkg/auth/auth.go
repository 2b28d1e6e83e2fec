package auth

import (
	"context"
	"net/http"

	"github.com/labstack/echo/v4"
)

// Identity is issued by the upstream identity provider and forwarded by the
// gateway as plain headers; this service only reads them.
const (
	XUserNameHeader = "X-User-Name"
	XUserRoleHeader = "X-User-Role"

	RoleAdmin = "ADMIN"
)

type ctxKey string

const (
	userNameKey ctxKey = "userNameKey"
	userRoleKey ctxKey = "userRoleKey"
)

func SetAuthContext(ctx context.Context, userName, role string) context.Context {
	ctx = context.WithValue(ctx, userNameKey, userName)
	return context.WithValue(ctx, userRoleKey, role)
}

func UserName(ctx context.Context) (string, bool) {
	name, ok := ctx.Value(userNameKey).(string)
	return name, ok
}

func Role(ctx context.Context) string {
	role, _ := ctx.Value(userRoleKey).(string)
	return role
}

func IsAdmin(ctx context.Context) bool {
	return Role(ctx) == RoleAdmin
}

// Middleware moves the identity headers into the request context.
func Middleware(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		req := c.Request()
		userName := req.Header.Get(XUserNameHeader)
		if userName == "" {
			return echo.NewHTTPError(http.StatusUnauthorized, "user-name is empty")
		}
		ctx := SetAuthContext(req.Context(), userName, req.Header.Get(XUserRoleHeader))
		c.SetRequest(req.WithContext(ctx))
		return next(c)
	}
}
