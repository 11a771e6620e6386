/*
Package permission knows who you are and what you're allowed to do.

Identity comes from a bearer token, put in the request context by
middleware.  Facade wraps the tournament Manager and checks roles before
anything changes.
*/
package permission

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

var (
	ErrUnauthenticated  = errors.New("not authenticated")
	ErrPermissionDenied = errors.New("permission denied")
)

type contextKeyType struct{}

func ClaimsInContext(ctx context.Context, c *Claims) context.Context {
	return context.WithValue(ctx, contextKeyType{}, c)
}

func ClaimsFromContext(ctx context.Context) *Claims {
	if c, ok := ctx.Value(contextKeyType{}).(*Claims); ok {
		return c
	}
	return nil
}

func IsAdmin(ctx context.Context) bool {
	c := ClaimsFromContext(ctx)
	return c != nil && c.Role == RoleAdmin
}

// UserID returns the caller's id, if there is a caller.
func UserID(ctx context.Context) (uuid.UUID, bool) {
	c := ClaimsFromContext(ctx)
	if c == nil {
		return uuid.Nil, false
	}
	return c.UserID, true
}
